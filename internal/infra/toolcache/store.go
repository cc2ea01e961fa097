package toolcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"mcphub/internal/domain"
)

var ErrStoreClosed = errors.New("tool cache is closed")

type entry struct {
	SavedAt time.Time               `json:"savedAt"`
	Tools   []domain.ToolDescriptor `json:"tools"`
}

// Store keeps the last discovered tool list of each backend on disk so a
// restarted hub can serve stale tools while a backend is unreachable.
type Store struct {
	mu     sync.RWMutex
	db     *bolt.DB
	path   string
	closed bool
	now    func() time.Time
}

func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("tool cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure tool cache dir: %w", err)
	}
	db, err := bolt.Open(trimmed, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open tool cache: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: trimmed, now: time.Now}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Load returns the persisted list for backend. ok is false when nothing was saved.
func (s *Store) Load(backend string) ([]domain.ToolDescriptor, bool, error) {
	var (
		stored entry
		found  bool
	)
	err := s.view(func(tx *bolt.Tx) error {
		raw := toolsBucket(tx).Get([]byte(backend))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("decode cached tools for %s: %w", backend, err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false, err
	}
	return stored.Tools, true, nil
}

// SavedAt reports when backend's list was last written.
func (s *Store) SavedAt(backend string) (time.Time, bool, error) {
	var (
		stored entry
		found  bool
	)
	err := s.view(func(tx *bolt.Tx) error {
		raw := toolsBucket(tx).Get([]byte(backend))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &stored)
	})
	if err != nil || !found {
		return time.Time{}, false, err
	}
	return stored.SavedAt, true, nil
}

func (s *Store) Save(backend string, tools []domain.ToolDescriptor) error {
	if strings.TrimSpace(backend) == "" {
		return fmt.Errorf("backend name is required")
	}
	if tools == nil {
		tools = []domain.ToolDescriptor{}
	}
	raw, err := json.Marshal(entry{SavedAt: s.now().UTC(), Tools: tools})
	if err != nil {
		return fmt.Errorf("encode tools for %s: %w", backend, err)
	}
	return s.update(func(tx *bolt.Tx) error {
		if err := toolsBucket(tx).Put([]byte(backend), raw); err != nil {
			return fmt.Errorf("write tools for %s: %w", backend, err)
		}
		return nil
	})
}

func (s *Store) Delete(backend string) error {
	return s.update(func(tx *bolt.Tx) error {
		return toolsBucket(tx).Delete([]byte(backend))
	})
}

// Backends lists every backend with a persisted list, in key order.
func (s *Store) Backends() ([]string, error) {
	var names []string
	err := s.view(func(tx *bolt.Tx) error {
		return toolsBucket(tx).ForEach(func(key, _ []byte) error {
			names = append(names, string(key))
			return nil
		})
	})
	return names, err
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(fn)
}
