package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Channel is a named conversation inside a workspace.
type Channel struct {
	ID          uint64    `json:"id"`
	WorkspaceID uint64    `json:"workspace"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func channelKey(id uint64) []byte {
	return append([]byte("channel:id:"), itob(id)...)
}

func channelNameKey(workspaceID uint64, name string) []byte {
	key := append([]byte("channel:name:"), itob(workspaceID)...)
	return append(key, []byte(name)...)
}

// GetOrCreateChannel returns the existing channel with the same name in the
// workspace, or creates one. The boolean reports whether a channel was
// created. Clients retry channel creation freely, so this is idempotent on
// (workspace, name).
func (s *Store) GetOrCreateChannel(workspaceID uint64, name, description string) (Channel, bool, error) {
	var existingID uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(channelNameKey(workspaceID, name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			existingID = btoi(val)
			return nil
		})
	})
	if err == nil {
		ch, err := s.GetChannel(existingID)
		return ch, false, err
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return Channel{}, false, err
	}

	id, err := s.nextID("channel")
	if err != nil {
		return Channel{}, false, err
	}

	ch := Channel{
		ID:          id,
		WorkspaceID: workspaceID,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(ch)
	if err != nil {
		return Channel{}, false, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(channelKey(id), data); err != nil {
			return err
		}
		return txn.Set(channelNameKey(workspaceID, name), itob(id))
	})
	if err != nil {
		return Channel{}, false, err
	}
	return ch, true, nil
}

func (s *Store) GetChannel(id uint64) (Channel, error) {
	var ch Channel
	err := s.get(channelKey(id), &ch)
	return ch, err
}

func (s *Store) UpdateChannel(ch Channel) error {
	current, err := s.GetChannel(ch.ID)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if current.Name != ch.Name || current.WorkspaceID != ch.WorkspaceID {
			if err := txn.Delete(channelNameKey(current.WorkspaceID, current.Name)); err != nil {
				return err
			}
			if err := txn.Set(channelNameKey(ch.WorkspaceID, ch.Name), itob(ch.ID)); err != nil {
				return err
			}
		}
		data, err := json.Marshal(ch)
		if err != nil {
			return err
		}
		return txn.Set(channelKey(ch.ID), data)
	})
}

func (s *Store) DeleteChannel(id uint64) error {
	ch, err := s.GetChannel(id)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(channelNameKey(ch.WorkspaceID, ch.Name)); err != nil {
			return err
		}
		return txn.Delete(channelKey(id))
	})
}

// ListChannels returns the channels of a workspace in id order; workspace 0
// lists every channel.
func (s *Store) ListChannels(workspaceID uint64) ([]Channel, error) {
	var channels []Channel
	err := s.scan([]byte("channel:id:"), func(val []byte) error {
		var ch Channel
		if err := json.Unmarshal(val, &ch); err != nil {
			return err
		}
		if workspaceID == 0 || ch.WorkspaceID == workspaceID {
			channels = append(channels, ch)
		}
		return nil
	})
	return channels, err
}
