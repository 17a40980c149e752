package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// releasePendingScript frees a (session, node) pending slot only if it still points at the intervention.
var releasePendingScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// InterventionStore implements ports.InterventionStore using Redis.
//
// Keys (under prefix):
//
//	item:<id>                  intervention JSON
//	pending:<session>:<node>   id of the pending intervention (SET NX)
//	session:<session>          ZSET of ids scored by creation time
//	pending                    SET of pending ids
type InterventionStore struct {
	client *backend.Client
	prefix string
}

// NewInterventionStore creates an intervention store on client.
func NewInterventionStore(client *backend.Client, prefix string) *InterventionStore {
	if prefix == "" {
		prefix = DefaultPrefix + "intervention:"
	}
	return &InterventionStore{client: client, prefix: prefix}
}

func (s *InterventionStore) itemKey(id string) string {
	return s.prefix + "item:" + id
}

func (s *InterventionStore) pendingKey(sessionID, nodeID string) string {
	return s.prefix + "pending:" + sessionID + ":" + nodeID
}

func (s *InterventionStore) sessionKey(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *InterventionStore) pendingSet() string {
	return s.prefix + "pending"
}

// Create stores a new intervention. The pending slot is claimed with SET NX so two
// replicas cannot both open a request for the same node.
func (s *InterventionStore) Create(ctx context.Context, iv *domain.Intervention) error {
	data, err := json.Marshal(iv)
	if err != nil {
		return fmt.Errorf("failed to marshal intervention: %w", err)
	}

	if iv.Pending() {
		ok, err := s.client.SetNX(ctx, s.pendingKey(iv.SessionID, iv.NodeID), iv.ID, 0).Result()
		if err != nil {
			return fmt.Errorf("failed to claim pending slot: %w", err)
		}
		if !ok {
			return domain.ErrDuplicatePendingIntervention
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.itemKey(iv.ID), data, 0)
	pipe.ZAdd(ctx, s.sessionKey(iv.SessionID), backend.Z{
		Score:  float64(iv.CreatedAt.UnixNano()),
		Member: iv.ID,
	})
	if iv.Pending() {
		pipe.SAdd(ctx, s.pendingSet(), iv.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save intervention: %w", err)
	}
	return nil
}

// Update replaces a stored intervention and releases its pending slot once it settles.
func (s *InterventionStore) Update(ctx context.Context, iv *domain.Intervention) error {
	n, err := s.client.Exists(ctx, s.itemKey(iv.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check intervention: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}

	data, err := json.Marshal(iv)
	if err != nil {
		return fmt.Errorf("failed to marshal intervention: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.itemKey(iv.ID), data, 0)
	if iv.Pending() {
		pipe.SAdd(ctx, s.pendingSet(), iv.ID)
	} else {
		pipe.SRem(ctx, s.pendingSet(), iv.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update intervention: %w", err)
	}

	if !iv.Pending() {
		err := releasePendingScript.Run(ctx, s.client, []string{s.pendingKey(iv.SessionID, iv.NodeID)}, iv.ID).Err()
		if err != nil && !errors.Is(err, backend.Nil) {
			return fmt.Errorf("failed to release pending slot: %w", err)
		}
	}
	return nil
}

// Get returns an intervention by id.
func (s *InterventionStore) Get(ctx context.Context, id string) (*domain.Intervention, error) {
	data, err := s.client.Get(ctx, s.itemKey(id)).Bytes()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get intervention: %w", err)
	}
	return decodeIntervention(data)
}

// ListBySession returns the session's interventions ordered by creation time.
func (s *InterventionStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.Intervention, error) {
	ids, err := s.client.ZRange(ctx, s.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list interventions: %w", err)
	}
	return s.load(ctx, ids)
}

// ListPending returns every pending intervention ordered by creation time.
func (s *InterventionStore) ListPending(ctx context.Context) ([]*domain.Intervention, error) {
	ids, err := s.client.SMembers(ctx, s.pendingSet()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending interventions: %w", err)
	}
	list, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	pending := list[:0]
	for _, iv := range list {
		if iv.Pending() {
			pending = append(pending, iv)
		}
	}
	return pending, nil
}

// DeleteSession removes all interventions of a session.
func (s *InterventionStore) DeleteSession(ctx context.Context, sessionID string) error {
	list, err := s.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	for _, iv := range list {
		pipe.Del(ctx, s.itemKey(iv.ID))
		pipe.SRem(ctx, s.pendingSet(), iv.ID)
		pipe.Del(ctx, s.pendingKey(sessionID, iv.NodeID))
	}
	pipe.Del(ctx, s.sessionKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete interventions: %w", err)
	}
	return nil
}

func (s *InterventionStore) load(ctx context.Context, ids []string) ([]*domain.Intervention, error) {
	out := make([]*domain.Intervention, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.itemKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load interventions: %w", err)
	}

	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // deleted between the index read and the fetch
		}
		iv, err := decodeIntervention([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	memory.SortInterventions(out)
	return out, nil
}

func decodeIntervention(data []byte) (*domain.Intervention, error) {
	var iv domain.Intervention
	if err := json.Unmarshal(data, &iv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal intervention: %w", err)
	}
	return &iv, nil
}
