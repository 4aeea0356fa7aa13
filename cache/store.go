// Package cache implements the TTL key/value store that sits in front of
// every remote provider call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"featureflow/internal/metrics"
	"featureflow/logger"
)

// Store is a TTL cache of JSON payloads.
type Store interface {
	// Get returns the payload for key when a fresh entry exists.
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Stats(ctx context.Context) (Stats, error)
	Entries(ctx context.Context) ([]EntryInfo, error)
	Clear(ctx context.Context) error
	Close() error
}

// Stats summarises a store. Hit and miss counts cover the current process.
type Stats struct {
	Backend    string `json:"backend"`
	EntryCount int    `json:"entry_count"`
	HitCount   int64  `json:"hit_count"`
	MissCount  int64  `json:"miss_count"`
	TotalSize  int64  `json:"total_size"`
}

// HitRate is hits over lookups, or zero before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(total)
}

// EntryInfo describes one stored entry without its payload.
type EntryInfo struct {
	Key       string        `json:"key"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
	Size      int64         `json:"size"`
	Expired   bool          `json:"expired"`
}

// entry is the persisted envelope.
type entry struct {
	Key        string          `json:"key"`
	CreatedAt  time.Time       `json:"created_at"`
	TTLSeconds float64         `json:"ttl_seconds"`
	Payload    json.RawMessage `json:"payload"`
}

func (e entry) ttl() time.Duration {
	return time.Duration(e.TTLSeconds * float64(time.Second))
}

func (e entry) fresh(now time.Time) bool {
	return now.Sub(e.CreatedAt) < e.ttl()
}

var timeNow = time.Now

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *counters) hit(log *logger.Log, backend string) {
	c.hits.Add(1)
	metrics.Count(log, "cache", "cache_hit", logger.Fields{"backend": backend})
}

func (c *counters) miss(log *logger.Log, backend string) {
	c.misses.Add(1)
	metrics.Count(log, "cache", "cache_miss", logger.Fields{"backend": backend})
}

// FileName maps a logical key to a stable, filesystem-safe name. The readable
// prefix is sanitised and the digest suffix keeps distinct keys apart even
// when their sanitised forms match.
func FileName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= 80 {
			break
		}
	}
	sum := sha256.Sum256([]byte(key))
	return b.String() + "-" + hex.EncodeToString(sum[:8]) + ".json"
}
