package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// Sentinel errors returned by the store; callers compare with errors.Is.
var (
	ErrNotFound           = errors.New("record not found")
	ErrUserExists         = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Store is the BadgerDB-backed persistence layer behind the REST API. The
// relay core never touches it; messages reach the relay through a broadcast
// triggered after the write, not through reads.
type Store struct {
	db     *badger.DB
	seqs   map[string]*badger.Sequence
	logger zerolog.Logger
}

var sequenceNames = []string{"user", "workspace", "channel", "dmgroup", "message"}

// Open opens (or creates) the database under dir.
func Open(dir string, logger zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s := &Store{
		db:     db,
		seqs:   make(map[string]*badger.Sequence, len(sequenceNames)),
		logger: logger,
	}

	for _, name := range sequenceNames {
		seq, err := db.GetSequence([]byte("seq:"+name), 64)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open %s sequence: %w", name, err)
		}
		s.seqs[name] = seq
	}

	return s, nil
}

// Close releases the id sequences and closes the database.
func (s *Store) Close() error {
	for _, seq := range s.seqs {
		seq.Release()
	}
	return s.db.Close()
}

// nextID returns the next id in the named sequence. Ids start at 1 so that 0
// stays free as the "absent" value.
func (s *Store) nextID(name string) (uint64, error) {
	id, err := s.seqs[name].Next()
	if err != nil {
		return 0, fmt.Errorf("failed to advance %s sequence: %w", name, err)
	}
	return id + 1, nil
}

// itob encodes an id big-endian so lexicographic key order matches numeric
// order during prefix iteration.
func itob(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func mapNotFound(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}
