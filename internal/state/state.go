package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexjbarnes/drive-mirror/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.drive-mirror/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	entriesBucket = []byte("entries")
	metaBucket    = []byte("meta")
	rootKey       = []byte("root")
)

// State wraps a bbolt database holding one SyncEntry per synchronized
// local path. bbolt serializes writers and allows concurrent readers, so
// a State is safe for use by many handlers at once.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entriesBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(metaBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Root returns the synchronization root recorded by the last run, or
// empty string.
func (s *State) Root() string {
	var root string

	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(metaBucket).Get(rootKey); v != nil {
			root = string(v)
		}

		return nil
	})

	return root
}

// SetRoot records the synchronization root.
func (s *State) SetRoot(root string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(rootKey, []byte(root))
	})
}

// GetEntry returns the entry for a path, or nil if the path has never
// been synchronized.
func (s *State) GetEntry(path string) (*models.SyncEntry, error) {
	var e *models.SyncEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(entriesBucket).Get([]byte(path))
		if v == nil {
			return nil
		}

		e = &models.SyncEntry{}

		return json.Unmarshal(v, e)
	})

	return e, err
}

// AllEntries returns every entry, ordered by path.
func (s *State) AllEntries() ([]models.SyncEntry, error) {
	var entries []models.SyncEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
			var e models.SyncEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding entry %s: %w", k, err)
			}

			entries = append(entries, e)

			return nil
		})
	})

	return entries, err
}

// InsertEntries persists a batch of entries in one transaction. Existing
// entries at the same paths are overwritten.
func (s *State) InsertEntries(entries []models.SyncEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)

		for _, e := range entries {
			if err := putEntry(b, e); err != nil {
				return err
			}
		}

		return nil
	})
}

// UpdateEntry stores entry, replacing the record previously keyed at
// oldPath. When the path changed, descendants keyed under oldPath are
// re-keyed under the new path in the same transaction so a renamed
// folder keeps its children.
func (s *State) UpdateEntry(oldPath string, entry models.SyncEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)

		if oldPath != entry.Path {
			if err := b.Delete([]byte(oldPath)); err != nil {
				return err
			}

			if err := rekeyDescendants(b, oldPath, entry.Path); err != nil {
				return err
			}
		}

		return putEntry(b, entry)
	})
}

// DeleteEntry removes the entry for a path. Deleting a missing path is
// not an error.
func (s *State) DeleteEntry(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete([]byte(path))
	})
}

// DeleteTree removes the entry for path and every entry beneath it,
// returning how many were removed.
func (s *State) DeleteTree(path string) (int, error) {
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)

		keys := [][]byte{}
		if b.Get([]byte(path)) != nil {
			keys = append(keys, []byte(path))
		}

		keys = append(keys, descendantKeys(b, path)...)

		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		removed = len(keys)

		return nil
	})

	return removed, err
}

func putEntry(b *bolt.Bucket, e models.SyncEntry) error {
	if e.Path == "" {
		return fmt.Errorf("entry path is required")
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	return b.Put([]byte(e.Path), data)
}

// descendantKeys returns the keys strictly beneath dir. Keys are sorted
// bytewise, so a prefix seek visits exactly the subtree. The returned
// slices are copies, safe to use after the cursor moves.
func descendantKeys(b *bolt.Bucket, dir string) [][]byte {
	sep := string(filepath.Separator)
	if !strings.HasSuffix(dir, sep) {
		dir += sep
	}

	prefix := []byte(dir)

	var keys [][]byte

	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}

	return keys
}

func rekeyDescendants(b *bolt.Bucket, oldDir, newDir string) error {
	for _, k := range descendantKeys(b, oldDir) {
		var e models.SyncEntry
		if err := json.Unmarshal(b.Get(k), &e); err != nil {
			return fmt.Errorf("decoding entry %s: %w", k, err)
		}

		if err := b.Delete(k); err != nil {
			return err
		}

		e.Path = newDir + strings.TrimPrefix(string(k), oldDir)
		if err := putEntry(b, e); err != nil {
			return err
		}
	}

	return nil
}
