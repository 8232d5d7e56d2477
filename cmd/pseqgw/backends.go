package main

import (
	"context"
	"sync"
)

// memStore, memCache and memResolver are the reference-wiring stand-ins for
// cassandra.Store, lmdb.Cache and resolve.Resolver: enough to make the
// gateway answer requests end to end without a real Cassandra cluster, LMDB
// file or resolver service. Production wiring would replace all three.

type memStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (s *memStore) GetBlob(ctx context.Context, id string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[id]
	return b, ok, nil
}

type memCache struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Lookup(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.data[key]
	return b, ok
}

type memResolver struct {
	mu   sync.RWMutex
	data map[string]string
}

func newMemResolver() *memResolver { return &memResolver{data: make(map[string]string)} }

func (r *memResolver) Resolve(ctx context.Context, seqID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical, ok := r.data[seqID]
	return canonical, ok, nil
}
