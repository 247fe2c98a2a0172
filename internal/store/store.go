// Package store provides interview archive backends.
//
// It includes an in-memory store for tests and single-process deployments,
// plus SQLite and PostgreSQL backed stores for persistence.
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/voxform/voxform/internal/models"
)

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else, which is treated as a file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store archives completed interviews. The flow controller never reads the
// archive back into session decisions; it is a write-mostly record.
type Store interface {
	SaveInterview(iv models.Interview) error
	// GetInterview returns the full interview or nil when the id is unknown.
	GetInterview(id string) (*models.Interview, error)
	// ListInterviews returns interview metadata (no answers or transcript),
	// most recently started first.
	ListInterviews() ([]models.Interview, error)
	DeleteInterview(id string) error
	Close() error
}

// Opts holds configuration options for persistent stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for persistent stores.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore is a simple in-memory interview archive.
type InMemoryStore struct {
	mu         sync.RWMutex
	interviews map[string]models.Interview
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{interviews: make(map[string]models.Interview)}
}

func (s *InMemoryStore) SaveInterview(iv models.Interview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interviews[iv.ID] = iv
	return nil
}

func (s *InMemoryStore) GetInterview(id string) (*models.Interview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iv, ok := s.interviews[id]
	if !ok {
		return nil, nil
	}
	return &iv, nil
}

func (s *InMemoryStore) ListInterviews() ([]models.Interview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]models.Interview, 0, len(s.interviews))
	for _, iv := range s.interviews {
		list = append(list, models.Interview{
			ID:          iv.ID,
			ScriptName:  iv.ScriptName,
			StartedAt:   iv.StartedAt,
			CompletedAt: iv.CompletedAt,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.After(list[j].StartedAt) })
	return list, nil
}

func (s *InMemoryStore) DeleteInterview(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.interviews, id)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
