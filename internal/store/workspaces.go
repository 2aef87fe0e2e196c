package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Workspace groups channels under one organization.
type Workspace struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func workspaceKey(id uint64) []byte {
	return append([]byte("workspace:"), itob(id)...)
}

func (s *Store) CreateWorkspace(name, description string) (Workspace, error) {
	id, err := s.nextID("workspace")
	if err != nil {
		return Workspace{}, err
	}

	ws := Workspace{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.put(workspaceKey(id), ws); err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

func (s *Store) GetWorkspace(id uint64) (Workspace, error) {
	var ws Workspace
	err := s.get(workspaceKey(id), &ws)
	return ws, err
}

func (s *Store) UpdateWorkspace(ws Workspace) error {
	if _, err := s.GetWorkspace(ws.ID); err != nil {
		return err
	}
	return s.put(workspaceKey(ws.ID), ws)
}

func (s *Store) DeleteWorkspace(id uint64) error {
	return s.delete(workspaceKey(id))
}

func (s *Store) ListWorkspaces() ([]Workspace, error) {
	var workspaces []Workspace
	err := s.scan([]byte("workspace:"), func(val []byte) error {
		var ws Workspace
		if err := json.Unmarshal(val, &ws); err != nil {
			return err
		}
		workspaces = append(workspaces, ws)
		return nil
	})
	return workspaces, err
}

// put, get, delete and scan are the shared single-record helpers the entity
// files build on.

func (s *Store) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Store) get(key []byte, v any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	return mapNotFound(err)
}

func (s *Store) delete(key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	return mapNotFound(err)
}

func (s *Store) scan(prefix []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
