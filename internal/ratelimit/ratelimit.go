package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	now := time.Now()
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.lastUsed = now
	tokensToAdd := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.rate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// refund returns a token taken by Allow.
func (tb *TokenBucket) refund() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.tokens < tb.capacity {
		tb.tokens++
	}
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastUsed
}

// Reason explains a refused admission.
type Reason string

const (
	Allowed       Reason = ""
	GlobalRate    Reason = "global_rate"
	PerClientRate Reason = "client_rate"
	MaxActive     Reason = "max_active"
)

// Admission decides whether a new connection pair may start. Zero values
// disable the corresponding check.
type Admission struct {
	mu         sync.Mutex
	global     *TokenBucket
	perClient  map[string]*TokenBucket
	clientRate int
	burst      int
	maxActive  int
	active     int
}

// NewAdmission creates an admission policy: globalRate and clientRate are new
// connections per second, burst is the bucket capacity, maxActive caps
// concurrently running pairs.
func NewAdmission(globalRate, clientRate, burst, maxActive int) *Admission {
	a := &Admission{
		perClient:  make(map[string]*TokenBucket),
		clientRate: clientRate,
		burst:      burst,
		maxActive:  maxActive,
	}
	if globalRate > 0 {
		a.global = NewTokenBucket(globalRate, burst)
	}
	return a
}

// Admit checks every limit for the connection from client. On success the
// returned release func must be called once the pair ends.
func (a *Admission) Admit(client string) (release func(), reason Reason) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.maxActive > 0 && a.active >= a.maxActive {
		return nil, MaxActive
	}
	var bucket *TokenBucket
	if a.clientRate > 0 {
		var ok bool
		bucket, ok = a.perClient[client]
		if !ok {
			bucket = NewTokenBucket(a.clientRate, a.burst)
			a.perClient[client] = bucket
		}
		if !bucket.Allow() {
			return nil, PerClientRate
		}
	}
	if a.global != nil && !a.global.Allow() {
		if bucket != nil {
			bucket.refund()
		}
		return nil, GlobalRate
	}
	a.active++
	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			a.active--
			a.mu.Unlock()
		})
	}, Allowed
}

// Active returns the number of admitted pairs not yet released.
func (a *Admission) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// CleanupIdle forgets per-client buckets unused for longer than maxIdle.
func (a *Admission) CleanupIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for client, bucket := range a.perClient {
		if bucket.idleSince().Before(cutoff) {
			delete(a.perClient, client)
			removed++
		}
	}
	return removed
}
