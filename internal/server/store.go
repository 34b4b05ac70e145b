package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/obs"
)

// PairInfo describes a live connection pair.
type PairInfo struct {
	ID      string    `json:"id"`
	Remote  string    `json:"remote"`
	Started time.Time `json:"started"`
}

// Stats represents current relay stats for the state API.
type Stats struct {
	Active   int    `json:"active"`
	Total    int64  `json:"total"`
	Failures int64  `json:"failures"`
	Backend  string `json:"backend"`
	Now      string `json:"now"`
}

// PairStore tracks live pairs and process readiness. Store failures are
// logged by implementations and never affect a running pair.
type PairStore interface {
	Add(p PairInfo)
	Remove(id string)
	RecordFailure(stage string)
	Stats() Stats
	// Pairs lists live pairs, oldest first.
	Pairs() []PairInfo
	// Close releases backend resources once every pair has been removed.
	Close() error
	SetReady(ready bool)
	SetClosing(closing bool)
	Ready() bool
	Closing() bool
}

// NewStore creates either an in-memory or Redis-backed store based on configuration.
func NewStore(ctx context.Context, redisAddr, redisPassword string, redisDB int) (PairStore, error) {
	if redisAddr == "" {
		obs.Info("state.backend", obs.Fields{"type": "in-memory"})
		return newMemoryStore(), nil
	}
	obs.Info("state.backend", obs.Fields{"type": "redis", "addr": redisAddr})
	s, err := newRedisStore(redisAddr, redisPassword, redisDB)
	if err != nil {
		return nil, err
	}
	go s.startMaintenance(ctx)
	return s, nil
}

// flags holds the readiness bits shared by every store.
type flags struct {
	mu      sync.Mutex
	ready   bool
	closing bool
}

func (f *flags) SetReady(ready bool)     { f.mu.Lock(); f.ready = ready; f.mu.Unlock() }
func (f *flags) SetClosing(closing bool) { f.mu.Lock(); f.closing = closing; f.mu.Unlock() }
func (f *flags) Ready() bool             { f.mu.Lock(); defer f.mu.Unlock(); return f.ready }
func (f *flags) Closing() bool           { f.mu.Lock(); defer f.mu.Unlock(); return f.closing }

type memoryStore struct {
	flags
	mu       sync.Mutex
	pairs    map[string]PairInfo
	total    int64
	failures int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{pairs: make(map[string]PairInfo)}
}

var _ PairStore = (*memoryStore)(nil)

func (s *memoryStore) Add(p PairInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[p.ID] = p
	s.total++
}

func (s *memoryStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairs, id)
}

func (s *memoryStore) RecordFailure(stage string) {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

func (s *memoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Active:   len(s.pairs),
		Total:    s.total,
		Failures: s.failures,
		Backend:  "memory",
		Now:      time.Now().UTC().Format(time.RFC3339),
	}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) Pairs() []PairInfo {
	s.mu.Lock()
	out := make([]PairInfo, 0, len(s.pairs))
	for _, p := range s.pairs {
		out = append(out, p)
	}
	s.mu.Unlock()
	sortPairs(out)
	return out
}

func sortPairs(ps []PairInfo) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Started.Before(ps[j].Started) })
}
