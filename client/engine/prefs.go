package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"readsync/server/sessiond/domain"
)

// PersistedSession is the one durable record the engine owns: the current
// session and membership, saved so a later process start can offer to
// restore it.
type PersistedSession struct {
	Session domain.Session `json:"session"`
	Member  domain.Member  `json:"member"`
}

type PrefStore interface {
	SaveCurrentSession(record PersistedSession) error
	LoadCurrentSession() (PersistedSession, bool, error)
	ClearCurrentSession() error
}

// FilePrefStore keeps the record as one JSON file in the host application's
// preference directory.
type FilePrefStore struct {
	mu   sync.Mutex
	path string
}

func NewFilePrefStore(path string) *FilePrefStore {
	return &FilePrefStore{path: path}
}

func (s *FilePrefStore) SaveCurrentSession(record PersistedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FilePrefStore) LoadCurrentSession() (PersistedSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return PersistedSession{}, false, nil
		}
		return PersistedSession{}, false, err
	}
	var record PersistedSession
	if err := json.Unmarshal(body, &record); err != nil {
		return PersistedSession{}, false, err
	}
	if record.Session.ID == "" {
		return PersistedSession{}, false, nil
	}
	return record, true, nil
}

func (s *FilePrefStore) ClearCurrentSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemoryPrefStore backs tests and hosts that manage durability themselves.
type MemoryPrefStore struct {
	mu     sync.Mutex
	record PersistedSession
	set    bool
}

func NewMemoryPrefStore() *MemoryPrefStore {
	return &MemoryPrefStore{}
}

func (s *MemoryPrefStore) SaveCurrentSession(record PersistedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = record
	s.set = true
	return nil
}

func (s *MemoryPrefStore) LoadCurrentSession() (PersistedSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record, s.set, nil
}

func (s *MemoryPrefStore) ClearCurrentSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = PersistedSession{}
	s.set = false
	return nil
}
