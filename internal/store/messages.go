package store

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Message is a stored chat message. Exactly one of ChannelID and DMGroupID
// is non-zero.
type Message struct {
	ID        uint64    `json:"id"`
	ChannelID uint64    `json:"channel,omitempty"`
	DMGroupID uint64    `json:"dm_group,omitempty"`
	SenderID  uint64    `json:"sender_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Messages are keyed under their conversation so history reads are a single
// prefix scan in insertion order. A secondary id index supports lookup,
// update and delete by message id alone.
func messageKey(m Message) []byte {
	var key []byte
	if m.ChannelID != 0 {
		key = append([]byte("message:channel:"), itob(m.ChannelID)...)
	} else {
		key = append([]byte("message:dm:"), itob(m.DMGroupID)...)
	}
	return append(key, itob(m.ID)...)
}

func messageIDKey(id uint64) []byte {
	return append([]byte("message:id:"), itob(id)...)
}

// AppendMessage assigns an id and persists the message to its conversation.
func (s *Store) AppendMessage(m Message) (Message, error) {
	id, err := s.nextID("message")
	if err != nil {
		return Message{}, err
	}
	m.ID = id
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(m)
	if err != nil {
		return Message{}, err
	}

	primary := messageKey(m)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(primary, data); err != nil {
			return err
		}
		return txn.Set(messageIDKey(id), primary)
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func (s *Store) GetMessage(id uint64) (Message, error) {
	var m Message
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(messageIDKey(id))
		if err != nil {
			return err
		}
		var primary []byte
		if err := item.Value(func(val []byte) error {
			primary = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}
		item, err = txn.Get(primary)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	return m, mapNotFound(err)
}

// UpdateMessage rewrites the content of an existing message in place.
func (s *Store) UpdateMessage(id uint64, content string) (Message, error) {
	m, err := s.GetMessage(id)
	if err != nil {
		return Message{}, err
	}
	m.Content = content

	data, err := json.Marshal(m)
	if err != nil {
		return Message{}, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(m), data)
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func (s *Store) DeleteMessage(id uint64) error {
	m, err := s.GetMessage(id)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(messageKey(m)); err != nil {
			return err
		}
		return txn.Delete(messageIDKey(id))
	})
}

func (s *Store) ListChannelMessages(channelID uint64) ([]Message, error) {
	return s.listMessages(append([]byte("message:channel:"), itob(channelID)...))
}

func (s *Store) ListDMMessages(dmGroupID uint64) ([]Message, error) {
	return s.listMessages(append([]byte("message:dm:"), itob(dmGroupID)...))
}

func (s *Store) listMessages(prefix []byte) ([]Message, error) {
	var messages []Message
	err := s.scan(prefix, func(val []byte) error {
		var m Message
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		messages = append(messages, m)
		return nil
	})
	return messages, err
}
