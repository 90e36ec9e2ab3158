// internal/state/store.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github-repo-mirror/internal/model"

	bolt "go.etcd.io/bbolt"
)

// FileName is the store's location relative to the backup root, so the
// incremental markers travel with the backups they describe.
const FileName = ".mirror-state.db"

var bucketRepos = []byte("repos")

// Store persists per-repository sync markers in an embedded bbolt
// database under the backup root. Safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the store under root.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	path := filepath.Join(root, FileName)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRepos)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the marker for key, or nil when none is recorded.
func (s *Store) Get(key string) (*model.SyncState, error) {
	var st *model.SyncState
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketRepos).Get([]byte(key))
		if raw == nil {
			return nil
		}
		var decoded model.SyncState
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("decode state for %s: %w", key, err)
		}
		st = &decoded
		return nil
	})
	return st, err
}

// Put records the marker for key.
func (s *Store) Put(key string, st model.SyncState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepos).Put([]byte(key), raw)
	})
}

// Delete removes the marker for key. Deleting an absent key is not an
// error.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepos).Delete([]byte(key))
	})
}

// All returns every recorded marker keyed by repository identity.
func (s *Store) All() (map[string]model.SyncState, error) {
	out := make(map[string]model.SyncState)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepos).ForEach(func(k, v []byte) error {
			var st model.SyncState
			if err := json.Unmarshal(v, &st); err != nil {
				return fmt.Errorf("decode state for %s: %w", k, err)
			}
			out[string(k)] = st
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
