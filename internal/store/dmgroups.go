package store

import (
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DMGroup is a private conversation between a fixed set of users.
type DMGroup struct {
	ID           uint64    `json:"id"`
	Participants []uint64  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

func dmGroupKey(id uint64) []byte {
	return append([]byte("dmgroup:id:"), itob(id)...)
}

// dmGroupSetKey fingerprints a participant set so the same set of users
// always maps to the same group regardless of ordering or duplicates in the
// request.
func dmGroupSetKey(participants []uint64) []byte {
	sorted := slices.Clone(participants)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	key := []byte("dmgroup:set:")
	for _, id := range sorted {
		key = append(key, itob(id)...)
	}
	return key
}

// GetOrCreateDMGroup returns the group containing exactly the given
// participants, creating it on first use. The boolean reports creation.
func (s *Store) GetOrCreateDMGroup(participants []uint64) (DMGroup, bool, error) {
	setKey := dmGroupSetKey(participants)

	var existingID uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(setKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			existingID = btoi(val)
			return nil
		})
	})
	if err == nil {
		g, err := s.GetDMGroup(existingID)
		return g, false, err
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return DMGroup{}, false, err
	}

	id, err := s.nextID("dmgroup")
	if err != nil {
		return DMGroup{}, false, err
	}

	sorted := slices.Clone(participants)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	g := DMGroup{
		ID:           id,
		Participants: sorted,
		CreatedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(g)
	if err != nil {
		return DMGroup{}, false, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dmGroupKey(id), data); err != nil {
			return err
		}
		return txn.Set(setKey, itob(id))
	})
	if err != nil {
		return DMGroup{}, false, err
	}
	return g, true, nil
}

func (s *Store) GetDMGroup(id uint64) (DMGroup, error) {
	var g DMGroup
	err := s.get(dmGroupKey(id), &g)
	return g, err
}

func (s *Store) DeleteDMGroup(id uint64) error {
	g, err := s.GetDMGroup(id)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(dmGroupSetKey(g.Participants)); err != nil {
			return err
		}
		return txn.Delete(dmGroupKey(id))
	})
}

// ListDMGroupsFor returns every group the user participates in.
func (s *Store) ListDMGroupsFor(userID uint64) ([]DMGroup, error) {
	var groups []DMGroup
	err := s.scan([]byte("dmgroup:id:"), func(val []byte) error {
		var g DMGroup
		if err := json.Unmarshal(val, &g); err != nil {
			return err
		}
		if slices.Contains(g.Participants, userID) {
			groups = append(groups, g)
		}
		return nil
	})
	return groups, err
}
