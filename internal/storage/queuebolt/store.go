// Package queuebolt is the BoltDB-backed persistence collaborator: the
// outgoing delivery queue plus key-scoped settings (path overrides,
// saved credentials, auto-login flags).
package queuebolt

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/danmuck/meshctl/internal/delivery"
)

const (
	bQueue    = "queue"
	bSettings = "settings"

	openTimeout = 2 * time.Second
)

var ErrEmptyPath = errors.New("queuebolt: empty db path")

// Store implements delivery.Queue and the settings get/set collaborator.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path, creating buckets
// idempotently.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bQueue)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bSettings)); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put upserts one delivery item by ID.
func (s *Store) Put(item delivery.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bQueue)).Put([]byte(item.ID), val)
	})
}

// Delete removes one delivery item. Missing IDs are not an error.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bQueue)).Delete([]byte(id))
	})
}

// List returns every stored delivery item ordered by queue time.
func (s *Store) List() ([]delivery.Item, error) {
	var out []delivery.Item
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bQueue)).ForEach(func(k, v []byte) error {
			var item delivery.Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("queuebolt: decode item %q: %w", string(k), err)
			}
			out = append(out, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.Before(out[j].QueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PutSetting stores one key-scoped setting value.
func (s *Store) PutSetting(key string, val []byte) error {
	if key == "" {
		return errors.New("queuebolt: empty setting key")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bSettings)).Put([]byte(key), val)
	})
}

// Setting loads one setting value; ok is false when absent.
func (s *Store) Setting(key string) (val []byte, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bSettings)).Get([]byte(key))
		if v == nil {
			return nil
		}
		ok = true
		val = append([]byte(nil), v...)
		return nil
	})
	return val, ok, err
}

// DeleteSetting removes one setting. Missing keys are not an error.
func (s *Store) DeleteSetting(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bSettings)).Delete([]byte(key))
	})
}

// SettingsWithPrefix returns all settings whose key starts with prefix,
// keyed by the remainder. Used to load per-contact overrides at startup.
func (s *Store) SettingsWithPrefix(prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket([]byte(bSettings)).Cursor()
		p := []byte(prefix)
		for k, v := cur.Seek(p); k != nil && len(k) >= len(p) && string(k[:len(p)]) == prefix; k, v = cur.Next() {
			out[string(k[len(p):])] = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
