// Package credstore persists CLI sessions in a bbolt file so a refresh made
// by one qwirlctl run is seen by the next.
package credstore

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/TheQwirl/qwirl-session/sessions"
	bolt "go.etcd.io/bbolt"
)

const (
	dirPerm     = fs.FileMode(0o700)
	filePerm    = fs.FileMode(0o600)
	openTimeout = 5 * time.Second
)

var sessionsBucket = []byte("sessions")

// Store maps an API base URL to the session held for it.
type Store struct {
	db *bolt.DB
}

// DefaultPath is ~/.qwirl/credentials.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".qwirl", "credentials.db"), nil
}

// Open opens the database at path, creating it if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("creating credential directory: %w", err)
	}
	db, err := bolt.Open(path, filePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening credential db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing credential db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the session saved for apiURL, or the zero value.
func (s *Store) Load(apiURL string) (sessions.Credentials, error) {
	var creds sessions.Credentials
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(apiURL))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &creds)
	})
	if err != nil {
		return sessions.Credentials{}, fmt.Errorf("loading session for %s: %w", apiURL, err)
	}
	return creds, nil
}

// Save replaces the session for apiURL. An empty session deletes it.
func (s *Store) Save(apiURL string, creds sessions.Credentials) error {
	if creds.Empty() {
		return s.Delete(apiURL)
	}
	v, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(apiURL), v)
	})
}

func (s *Store) Delete(apiURL string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(apiURL))
	})
}

// APIs lists the base URLs that have a saved session.
func (s *Store) APIs() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}
