package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"merchant-voucher/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("submission: proposal not found")

type Store interface {
	Save(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id string) (*Proposal, error)
}

// RedisStore keeps proposals as JSON documents that expire after the
// retention window.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewRedisStore(rdb *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, retention: retention}
}

func (s *RedisStore) Save(ctx context.Context, p *Proposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	return s.rdb.Set(ctx, rediskey.BuildProposalKey(p.ID), data, s.retention).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Proposal, error) {
	data, err := s.rdb.Get(ctx, rediskey.BuildProposalKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var p Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal proposal %s: %w", id, err)
	}
	return &p, nil
}

type MemoryStore struct {
	mu        sync.RWMutex
	proposals map[string]Proposal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{proposals: make(map[string]Proposal)}
}

func (s *MemoryStore) Save(_ context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[p.ID] = *p
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}
