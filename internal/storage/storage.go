// Package storage keeps the revision history of the bot configuration.
// It uses BoltDB as the underlying storage engine. Every committed
// configuration is written as one revision, keyed by commit time so that
// cursor order is chronological.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"mt5-bot/internal/cfg"
)

const (
	dbFile          = "mt5-config.db"
	revisionsBucket = "revisions" // Bucket name for configuration revisions
)

// ErrNotFound is returned when a revision does not exist.
var ErrNotFound = errors.New("revision not found")

// Revision is one committed configuration.
type Revision struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Source    string     `json:"source"` // what produced the commit: update, load, restore, init
	Config    cfg.Config `json:"config"`
}

// Store provides persistent revision storage using BoltDB.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// New opens (or creates) the revision database under dataPath.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(revisionsBucket)); err != nil {
			return fmt.Errorf("create revisions bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// SaveRevision stores c as a new revision and returns it.
func (s *Store) SaveRevision(c cfg.Config, source string) (Revision, error) {
	rev := Revision{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
		Source:    source,
		Config:    c.Clone(),
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(revisionsBucket))

		data, err := json.Marshal(rev)
		if err != nil {
			return fmt.Errorf("marshal revision: %w", err)
		}

		// Keys must stay unique when two commits share a timestamp.
		key := timeKey(rev.CreatedAt)
		for b.Get(key) != nil {
			binary.BigEndian.PutUint64(key, binary.BigEndian.Uint64(key)+1)
		}
		return b.Put(key, data)
	})
	if err != nil {
		return Revision{}, err
	}
	return rev, nil
}

// Revisions returns up to limit revisions, newest first. A limit of zero or
// less returns every revision.
func (s *Store) Revisions(limit int) ([]Revision, error) {
	var revs []Revision
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(revisionsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(revs) >= limit {
				break
			}
			rev, err := decode(v)
			if err != nil {
				return err
			}
			revs = append(revs, rev)
		}
		return nil
	})
	return revs, err
}

// Revision looks up a revision by id.
func (s *Store) Revision(id string) (Revision, error) {
	var (
		rev   Revision
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(revisionsBucket)).ForEach(func(_, v []byte) error {
			if found {
				return nil
			}
			r, err := decode(v)
			if err != nil {
				return err
			}
			if r.ID == id {
				rev, found = r, true
			}
			return nil
		})
	})
	if err != nil {
		return Revision{}, err
	}
	if !found {
		return Revision{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rev, nil
}

// Latest returns the most recent revision.
func (s *Store) Latest() (Revision, error) {
	revs, err := s.Revisions(1)
	if err != nil {
		return Revision{}, err
	}
	if len(revs) == 0 {
		return Revision{}, ErrNotFound
	}
	return revs[0], nil
}

func timeKey(t time.Time) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return key
}

func decode(data []byte) (Revision, error) {
	var rev Revision
	if err := json.Unmarshal(data, &rev); err != nil {
		return Revision{}, fmt.Errorf("unmarshal revision: %w", err)
	}
	return rev, nil
}
