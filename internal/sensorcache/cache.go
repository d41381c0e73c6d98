// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sensorcache resolves a sensor's natural key (site, block,
// subsystem, tag) to its registry row through three tiers: an
// in-process map, a shared Redis cache with TTL, and the authoritative
// database as the fallback of last resort. Entries are immutable for
// the sensor's lifetime — a process restart, not a cache invalidation,
// is how registry edits propagate.
package sensorcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/schema"
)

// Store is the tier-3 authoritative lookup, implemented by
// internal/repository.SensorRepository.
type Store interface {
	ByKey(ctx context.Context, key schema.SensorKey) (*schema.SensorRow, error)
}

// AllSensors is the tier-1 warm-start enumeration, implemented by
// internal/repository.SensorRepository.
type AllSensors interface {
	AllEnabled(ctx context.Context) ([]schema.SensorRow, error)
}

var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcs_sensorcache_hits_total",
		Help: "Sensor-key cache hits by tier (memory, redis, db).",
	}, []string{"tier"})
	cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcs_sensorcache_misses_total",
		Help: "Sensor-key cache misses, counted once per fully-missed lookup.",
	}, []string{})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses)
}

// redisTTL is the shared-cache entry lifetime.
const redisTTL = 300 * time.Second

// Cache is the three-tier sensor-key resolver.
type Cache struct {
	mu  sync.RWMutex
	mem map[schema.SensorKey]schema.SensorRow

	redis *redis.Client // nil disables tier 2
	store Store
}

// New builds a Cache. redisClient may be nil to run with only tiers 1
// and 3 (e.g. in tests or a minimal single-process deployment).
func New(redisClient *redis.Client, store Store) *Cache {
	return &Cache{
		mem:   make(map[schema.SensorKey]schema.SensorRow),
		redis: redisClient,
		store: store,
	}
}

// Warm enumerates every active sensor at startup and populates tier 1,
// avoiding a cold-start stampede of tier-3 lookups on first traffic.
func (c *Cache) Warm(ctx context.Context, all AllSensors) error {
	rows, err := all.AllEnabled(ctx)
	if err != nil {
		return fmt.Errorf("sensorcache: warm: %w", err)
	}
	c.mu.Lock()
	for _, row := range rows {
		c.mem[row.Key()] = row
	}
	c.mu.Unlock()
	log.Infof("sensorcache: warmed %d sensors into the in-process tier", len(rows))
	return nil
}

// Resolve looks up key through the three tiers in order, writing
// through to tier 2 (and always to tier 1) on a tier-3 hit.
func (c *Cache) Resolve(ctx context.Context, key schema.SensorKey) (*schema.SensorRow, error) {
	c.mu.RLock()
	row, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		cacheHits.WithLabelValues("memory").Inc()
		return &row, nil
	}

	if c.redis != nil {
		if cached, err := c.resolveRedis(ctx, key); err == nil && cached != nil {
			cacheHits.WithLabelValues("redis").Inc()
			c.mu.Lock()
			c.mem[key] = *cached
			c.mu.Unlock()
			return cached, nil
		}
	}

	fromDB, err := c.store.ByKey(ctx, key)
	if err != nil {
		cacheMisses.WithLabelValues().Inc()
		return nil, err
	}
	cacheHits.WithLabelValues("db").Inc()

	c.mu.Lock()
	c.mem[key] = *fromDB
	c.mu.Unlock()

	if c.redis != nil {
		c.writeRedis(ctx, key, fromDB)
	}

	return fromDB, nil
}

func redisKey(key schema.SensorKey) string {
	return "mcs:sensor:" + key.String()
}

func (c *Cache) resolveRedis(ctx context.Context, key schema.SensorKey) (*schema.SensorRow, error) {
	raw, err := c.redis.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warnf("sensorcache: redis get %s: %v", key, err)
		}
		return nil, err
	}
	var row schema.SensorRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("sensorcache: decode redis entry for %s: %w", key, err)
	}
	return &row, nil
}

func (c *Cache) writeRedis(ctx context.Context, key schema.SensorKey, row *schema.SensorRow) {
	body, err := json.Marshal(row)
	if err != nil {
		log.Warnf("sensorcache: encode redis entry for %s: %v", key, err)
		return
	}
	if err := c.redis.Set(ctx, redisKey(key), body, redisTTL).Err(); err != nil {
		log.Warnf("sensorcache: redis set %s: %v", key, err)
	}
}
