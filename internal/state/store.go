package state

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Store persists one snapshot per key. Load returns nil, nil when no
// snapshot exists.
type Store interface {
	Save(key string, st *CrawlState) error
	Load(key string) (*CrawlState, error)
	Delete(key string) error
	Close() error
}

var bucketSnapshots = []byte("snapshots")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Save writes the snapshot under key.
func (s *BoltStore) Save(key string, st *CrawlState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(key), data)
	})
}

// Load reads the snapshot under key.
func (s *BoltStore) Load(key string) (*CrawlState, error) {
	var st *CrawlState

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(key))
		if data == nil {
			return nil
		}
		st = &CrawlState{}
		return json.Unmarshal(data, st)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Delete removes the snapshot under key.
func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(key))
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// FileStore implements Store with one JSON file per key.
type FileStore struct {
	dir        string
	compressed bool
}

// NewFileStore creates a file store rooted at dir. Compressed snapshots
// are gzipped and get a .json.gz suffix.
func NewFileStore(dir string, compressed bool) *FileStore {
	return &FileStore{
		dir:        dir,
		compressed: compressed,
	}
}

// Path returns the file that holds key.
func (s *FileStore) Path(key string) string {
	name := key + ".json"
	if s.compressed {
		name += ".gz"
	}
	return filepath.Join(s.dir, name)
}

// Save writes the snapshot atomically: a temp file is written and renamed
// over the previous one.
func (s *FileStore) Save(key string, st *CrawlState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if s.compressed {
		gw := gzip.NewWriter(tmp)
		if _, err := gw.Write(data); err != nil {
			tmp.Close()
			return err
		}
		if err := gw.Close(); err != nil {
			tmp.Close()
			return err
		}
	} else if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path(key))
}

// Load reads the snapshot for key.
func (s *FileStore) Load(key string) (*CrawlState, error) {
	f, err := os.Open(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if s.compressed {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	}

	var st CrawlState
	if err := json.NewDecoder(r).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &st, nil
}

// Delete removes the file for key. A missing file is not an error.
func (s *FileStore) Delete(key string) error {
	err := os.Remove(s.Path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error {
	return nil
}

// MemoryStore implements Store in memory. Snapshots are deep-copied
// through JSON so callers cannot alias them.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

// Save stores the snapshot.
func (s *MemoryStore) Save(key string, st *CrawlState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.items[key] = data
	s.mu.Unlock()
	return nil
}

// Load returns the stored snapshot.
func (s *MemoryStore) Load(key string) (*CrawlState, error) {
	s.mu.Lock()
	data, ok := s.items[key]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var st CrawlState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Delete removes the snapshot.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}
