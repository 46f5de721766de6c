package project

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store exposes project lookup for the session pipeline and handlers.
type Store interface {
	Create(name, companyName string) Project
	List() []Project
	FindByID(id string) (Project, bool)
}

// MemoryStore implements Store in memory, suitable for the
// process-lifetime durability this service promises.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Project
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied
// projects.
func NewMemoryStore(items []Project) *MemoryStore {
	return &MemoryStore{items: append([]Project(nil), items...)}
}

// Create registers a new active project.
func (s *MemoryStore) Create(name, companyName string) Project {
	now := time.Now().UTC()
	p := Project{
		ID:          uuid.NewString(),
		Name:        name,
		CompanyName: companyName,
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.items = append(s.items, p)
	s.mu.Unlock()

	return p
}

// List returns all known projects.
func (s *MemoryStore) List() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Project(nil), s.items...)
}

// FindByID looks up a project by identifier.
func (s *MemoryStore) FindByID(id string) (Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Project{}, false
}
