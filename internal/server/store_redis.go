package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/obs"
)

const (
	keyActive   = "pairs:active"
	keyTotal    = "pairs:total"
	keyFailures = "pairs:failures"
)

func pairKey(id string) string { return "pair:" + id }

// pairRecord is the JSON form stored in Redis.
type pairRecord struct {
	PairInfo
	Instance string `json:"instance"`
}

// redisStore shares pair counts across relay instances. Each instance only
// refreshes the TTL of pairs it owns, so a crashed instance's pairs age out
// and are pruned from the active set.
type redisStore struct {
	flags
	client     *redis.Client
	instanceID string

	mu    sync.Mutex
	local map[string]PairInfo

	heartbeatInterval time.Duration
	keyTTL            time.Duration
}

func newRedisStore(addr, password string, db int) (*redisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &redisStore{
		client:            rdb,
		instanceID:        fmt.Sprintf("relay-%d", time.Now().UnixNano()),
		local:             make(map[string]PairInfo),
		heartbeatInterval: 30 * time.Second,
		keyTTL:            2 * time.Minute,
	}, nil
}

var _ PairStore = (*redisStore)(nil)

func (r *redisStore) Add(p PairInfo) {
	r.mu.Lock()
	r.local[p.ID] = p
	r.mu.Unlock()

	data, err := json.Marshal(pairRecord{PairInfo: p, Instance: r.instanceID})
	if err != nil {
		obs.Error("redis.add_pair.marshal", obs.Fields{"err": err.Error(), "pair": p.ID})
		return
	}
	ctx := context.Background()
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, pairKey(p.ID), data, r.keyTTL)
	pipe.SAdd(ctx, keyActive, p.ID)
	pipe.Incr(ctx, keyTotal)
	if _, err := pipe.Exec(ctx); err != nil {
		obs.Error("redis.add_pair", obs.Fields{"err": err.Error(), "pair": p.ID})
	}
}

func (r *redisStore) Remove(id string) {
	r.mu.Lock()
	delete(r.local, id)
	r.mu.Unlock()

	ctx := context.Background()
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, pairKey(id))
	pipe.SRem(ctx, keyActive, id)
	if _, err := pipe.Exec(ctx); err != nil {
		obs.Error("redis.remove_pair", obs.Fields{"err": err.Error(), "pair": id})
	}
}

func (r *redisStore) RecordFailure(stage string) {
	if err := r.client.Incr(context.Background(), keyFailures).Err(); err != nil {
		obs.Error("redis.record_failure", obs.Fields{"err": err.Error(), "stage": stage})
	}
}

func (r *redisStore) Stats() Stats {
	ctx := context.Background()
	st := Stats{Backend: "redis", Now: time.Now().UTC().Format(time.RFC3339)}
	n, err := r.client.SCard(ctx, keyActive).Result()
	if err != nil {
		obs.Error("redis.stats.active", obs.Fields{"err": err.Error()})
		r.mu.Lock()
		n = int64(len(r.local))
		r.mu.Unlock()
	}
	st.Active = int(n)
	st.Total = r.counter(ctx, keyTotal)
	st.Failures = r.counter(ctx, keyFailures)
	return st
}

// Pairs returns the pairs of every instance. Keys that expired since the last
// prune are skipped.
func (r *redisStore) Pairs() []PairInfo {
	ctx := context.Background()
	ids, err := r.client.SMembers(ctx, keyActive).Result()
	if err != nil {
		obs.Error("redis.pairs.members", obs.Fields{"err": err.Error()})
		return nil
	}
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = pairKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		obs.Error("redis.pairs.get", obs.Fields{"err": err.Error()})
		return nil
	}
	out := make([]PairInfo, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec pairRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		out = append(out, rec.PairInfo)
	}
	sortPairs(out)
	return out
}

func (r *redisStore) counter(ctx context.Context, key string) int64 {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			obs.Error("redis.stats.counter", obs.Fields{"err": err.Error(), "key": key})
		}
		return 0
	}
	n, _ := strconv.ParseInt(val, 10, 64)
	return n
}

// Close releases the Redis client. Pairs still running when Close is called
// are left for their TTL to expire.
func (r *redisStore) Close() error { return r.client.Close() }

// startMaintenance runs periodic heartbeat + pruning of stale pairs until ctx
// ends. It leaves the client open so pairs draining after ctx can still remove
// themselves.
func (r *redisStore) startMaintenance(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat(ctx)
			r.prune(ctx)
		}
	}
}

// heartbeat extends the TTL of pairs owned by this instance.
func (r *redisStore) heartbeat(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.local))
	for id := range r.local {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		if err := r.client.Expire(ctx, pairKey(id), r.keyTTL).Err(); err != nil {
			obs.Error("redis.heartbeat.expire", obs.Fields{"err": err.Error(), "pair": id})
		}
	}
}

// prune removes active-set members whose pair key has expired.
func (r *redisStore) prune(ctx context.Context) int {
	ids, err := r.client.SMembers(ctx, keyActive).Result()
	if err != nil {
		obs.Error("redis.prune.members", obs.Fields{"err": err.Error()})
		return 0
	}
	pruned := 0
	for _, id := range ids {
		n, err := r.client.Exists(ctx, pairKey(id)).Result()
		if err != nil {
			obs.Error("redis.prune.exists", obs.Fields{"err": err.Error(), "pair": id})
			continue
		}
		if n == 0 {
			if err := r.client.SRem(ctx, keyActive, id).Err(); err == nil {
				pruned++
			}
		}
	}
	if pruned > 0 {
		obs.Info("redis.prune", obs.Fields{"pruned": pruned})
	}
	return pruned
}
