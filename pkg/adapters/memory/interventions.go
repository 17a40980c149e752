package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/journey/pkg/domain"
)

// InterventionStore implements ports.InterventionStore in memory.
type InterventionStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Intervention
	pending map[string]string // session/node -> intervention id
}

// NewInterventionStore creates an empty store.
func NewInterventionStore() *InterventionStore {
	return &InterventionStore{
		byID:    make(map[string]*domain.Intervention),
		pending: make(map[string]string),
	}
}

func pendingKey(sessionID, nodeID string) string {
	return sessionID + "/" + nodeID
}

// Create stores a new intervention, refusing a second pending one for the same node.
func (s *InterventionStore) Create(ctx context.Context, iv *domain.Intervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pendingKey(iv.SessionID, iv.NodeID)
	if iv.Pending() {
		if _, exists := s.pending[key]; exists {
			return domain.ErrDuplicatePendingIntervention
		}
		s.pending[key] = iv.ID
	}
	s.byID[iv.ID] = iv.Clone()
	return nil
}

// Update replaces a stored intervention.
func (s *InterventionStore) Update(ctx context.Context, iv *domain.Intervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[iv.ID]; !ok {
		return domain.ErrNotFound
	}
	key := pendingKey(iv.SessionID, iv.NodeID)
	if !iv.Pending() && s.pending[key] == iv.ID {
		delete(s.pending, key)
	}
	s.byID[iv.ID] = iv.Clone()
	return nil
}

// Get returns a copy of the intervention.
func (s *InterventionStore) Get(ctx context.Context, id string) (*domain.Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iv, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return iv.Clone(), nil
}

// ListBySession returns the session's interventions ordered by creation time.
func (s *InterventionStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.Intervention, error) {
	return s.filter(func(iv *domain.Intervention) bool { return iv.SessionID == sessionID }), nil
}

// ListPending returns every pending intervention ordered by creation time.
func (s *InterventionStore) ListPending(ctx context.Context) ([]*domain.Intervention, error) {
	return s.filter((*domain.Intervention).Pending), nil
}

// DeleteSession drops every intervention of the session.
func (s *InterventionStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, iv := range s.byID {
		if iv.SessionID == sessionID {
			delete(s.byID, id)
			delete(s.pending, pendingKey(iv.SessionID, iv.NodeID))
		}
	}
	return nil
}

func (s *InterventionStore) filter(keep func(*domain.Intervention) bool) []*domain.Intervention {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Intervention, 0)
	for _, iv := range s.byID {
		if keep(iv) {
			out = append(out, iv.Clone())
		}
	}
	SortInterventions(out)
	return out
}

// SortInterventions orders by creation time, then id.
func SortInterventions(list []*domain.Intervention) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
