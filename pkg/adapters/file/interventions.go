package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/domain"
)

// InterventionStore implements ports.InterventionStore with one JSON file per session.
// It is safe for concurrent use within one process only.
type InterventionStore struct {
	BasePath string

	mu sync.Mutex
}

// NewInterventionStore creates a store under basePath.
// If basePath is empty, it defaults to ".journey/interventions".
func NewInterventionStore(basePath string) *InterventionStore {
	if basePath == "" {
		basePath = filepath.Join(".journey", "interventions")
	}
	return &InterventionStore{BasePath: basePath}
}

// Create stores a new intervention.
func (s *InterventionStore) Create(ctx context.Context, iv *domain.Intervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read(iv.SessionID)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing.ID == iv.ID {
			return fmt.Errorf("intervention %s already exists", iv.ID)
		}
		if iv.Pending() && existing.Pending() && existing.NodeID == iv.NodeID {
			return domain.ErrDuplicatePendingIntervention
		}
	}
	return s.write(iv.SessionID, append(list, iv))
}

// Update replaces a stored intervention.
func (s *InterventionStore) Update(ctx context.Context, iv *domain.Intervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read(iv.SessionID)
	if err != nil {
		return err
	}
	for i, existing := range list {
		if existing.ID == iv.ID {
			list[i] = iv
			return s.write(iv.SessionID, list)
		}
	}
	return domain.ErrNotFound
}

// Get returns an intervention by id. It scans every session file.
func (s *InterventionStore) Get(ctx context.Context, id string) (*domain.Intervention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.all()
	if err != nil {
		return nil, err
	}
	for _, iv := range all {
		if iv.ID == id {
			return iv, nil
		}
	}
	return nil, domain.ErrNotFound
}

// ListBySession returns the session's interventions ordered by creation time.
func (s *InterventionStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.Intervention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read(sessionID)
	if err != nil {
		return nil, err
	}
	memory.SortInterventions(list)
	return list, nil
}

// ListPending returns every pending intervention.
func (s *InterventionStore) ListPending(ctx context.Context) ([]*domain.Intervention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.all()
	if err != nil {
		return nil, err
	}
	pending := make([]*domain.Intervention, 0)
	for _, iv := range all {
		if iv.Pending() {
			pending = append(pending, iv)
		}
	}
	memory.SortInterventions(pending)
	return pending, nil
}

// DeleteSession removes the session's file.
func (s *InterventionStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.BasePath, sessionID+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete interventions: %w", err)
	}
	return nil
}

func (s *InterventionStore) read(sessionID string) ([]*domain.Intervention, error) {
	data, err := os.ReadFile(filepath.Join(s.BasePath, sessionID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return []*domain.Intervention{}, nil
		}
		return nil, fmt.Errorf("failed to read interventions: %w", err)
	}

	var list []*domain.Intervention
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interventions: %w", err)
	}
	return list, nil
}

func (s *InterventionStore) write(sessionID string, list []*domain.Intervention) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal interventions: %w", err)
	}
	return writeAtomic(s.BasePath, sessionID, data)
}

func (s *InterventionStore) all() ([]*domain.Intervention, error) {
	ids, err := listJSON(s.BasePath)
	if err != nil {
		return nil, err
	}
	var all []*domain.Intervention
	for _, id := range ids {
		list, err := s.read(id)
		if err != nil {
			return nil, err
		}
		all = append(all, list...)
	}
	return all, nil
}
