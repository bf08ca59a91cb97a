package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"authkeeper/pkg/logging"
)

// FileStore persists each blob as a file under a storage directory and
// watches the directory so writes by other processes raise the changed
// signal.
//
// Files are created with 0600 and the directory with 0700 permissions:
// secrets are owner-readable only. Blob values are never logged.
type FileStore struct {
	dir     string
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	nextID int
	subs   map[int]func()
	closed bool
}

// NewFileStore creates the storage directory if needed and starts the
// change watcher. Callers must Close the store to release the watcher.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create secret storage directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create storage watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch secret storage directory: %w", err)
	}

	s := &FileStore{
		dir:     dir,
		watcher: watcher,
		subs:    make(map[int]func()),
	}
	go s.watch()

	return s, nil
}

// Get returns the blob stored under key, or "" if the key is absent.
func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read secret %q: %w", key, err)
	}
	return string(data), nil
}

// Set stores value under key with owner-only permissions.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	if err := os.WriteFile(s.path(key), []byte(value), 0600); err != nil {
		return fmt.Errorf("failed to write secret %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete secret %q: %w", key, err)
	}
	return nil
}

// Subscribe registers fn for change notifications. Callbacks run on the
// watcher goroutine and should return quickly.
func (s *FileStore) Subscribe(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Close stops the change watcher. The store remains usable for reads and
// writes, but no further change notifications fire.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.watcher.Close()
}

// path maps a key to its backing file. Keys are hashed so arbitrary key
// strings cannot escape the storage directory.
func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".secret")
}

func (s *FileStore) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logging.Debug("SecretStore", "storage change detected: %s", event.Op)
			s.notify()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("SecretStore", "storage watcher error: %v", err)
		}
	}
}

func (s *FileStore) notify() {
	s.mu.Lock()
	snapshot := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		snapshot = append(snapshot, fn)
	}
	s.mu.Unlock()

	for _, fn := range snapshot {
		fn()
	}
}
