package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/bcrypt"
)

// User is a registered account. PasswordHash never leaves the store layer in
// API responses; handlers build their own response shapes.
type User struct {
	ID           uint64    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

func userKey(id uint64) []byte {
	return append([]byte("user:id:"), itob(id)...)
}

func usernameKey(username string) []byte {
	return []byte("user:name:" + username)
}

// CreateUser registers a new account with a bcrypt-hashed password.
// Usernames are unique; a duplicate returns ErrUserExists.
func (s *Store) CreateUser(username, email, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	id, err := s.nextID("user")
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(user)
	if err != nil {
		return User{}, fmt.Errorf("failed to marshal user: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(usernameKey(username)); err == nil {
			return ErrUserExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(userKey(id), data); err != nil {
			return err
		}
		return txn.Set(usernameKey(username), itob(id))
	})
	if err != nil {
		return User{}, err
	}

	return user, nil
}

// Authenticate checks a username/password pair and returns the account.
// Unknown usernames and wrong passwords both report ErrInvalidCredentials.
func (s *Store) Authenticate(username, password string) (User, error) {
	user, err := s.GetUserByName(username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser fetches an account by id.
func (s *Store) GetUser(id uint64) (User, error) {
	var user User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		})
	})
	return user, mapNotFound(err)
}

// GetUserByName fetches an account by username.
func (s *Store) GetUserByName(username string) (User, error) {
	var id uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(usernameKey(username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = btoi(val)
			return nil
		})
	})
	if err != nil {
		return User{}, mapNotFound(err)
	}
	return s.GetUser(id)
}

// ListUsers returns all accounts in id order.
func (s *Store) ListUsers() ([]User, error) {
	var users []User
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("user:id:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var user User
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &user)
			})
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	return users, err
}
