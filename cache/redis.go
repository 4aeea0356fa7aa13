package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"featureflow/errs"
	"featureflow/internal/metrics"
	"featureflow/logger"
)

const backendRedis = "redis"

// RedisConfig configures RedisStore.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

// RedisStore keeps entries in Redis with a native expiry. Entries carry the
// same envelope as FileStore so freshness is checked the same way.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *logger.Log
	counters
}

// NewRedisStore connects and pings the server. Prefix is required: Clear
// deletes every key under it.
func NewRedisStore(ctx context.Context, cfg RedisConfig, log *logger.Log) (*RedisStore, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.Prefix == "" {
		return nil, errs.Configuration("cache", "redis key prefix must not be empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   1,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	log.WithComponent("cache").WithFields(logger.Fields{"addr": cfg.Addr, "db": cfg.DB}).Info("connected to redis cache")
	return &RedisStore{client: client, prefix: cfg.Prefix, log: log}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.WithComponent("cache").WithError(err).WithField("key", key).Warn("redis get failed; treating as miss")
		}
		s.miss(s.log, backendRedis)
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil || e.Key != key {
		s.log.WithComponent("cache").WithFields(logger.Fields{
			"key":     key,
			"warning": errs.ErrCacheCorrupted.Error(),
		}).Warn("unreadable cache entry treated as miss")
		metrics.Count(s.log, "cache", "cache_corrupt", logger.Fields{"backend": backendRedis})
		s.miss(s.log, backendRedis)
		return nil, false
	}
	if !e.fresh(timeNow()) {
		s.miss(s.log, backendRedis)
		return nil, false
	}

	s.hit(s.log, backendRedis)
	return e.Payload, true
}

func (s *RedisStore) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if !json.Valid(payload) {
		return fmt.Errorf("cache put %q: payload is not valid JSON", key)
	}
	data, err := json.Marshal(entry{
		Key:        key,
		CreatedAt:  timeNow().UTC(),
		TTLSeconds: ttl.Seconds(),
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// keys lists every key under the prefix, matched literally.
func (s *RedisStore) keys(ctx context.Context) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, globEscaper.Replace(s.prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan redis keys: %w", err)
	}
	return out, nil
}

func (s *RedisStore) Entries(ctx context.Context) ([]EntryInfo, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	now := timeNow()
	infos := make([]EntryInfo, 0, len(keys))
	for _, k := range keys {
		data, err := s.client.Get(ctx, k).Bytes()
		if err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		infos = append(infos, EntryInfo{
			Key:       strings.TrimPrefix(k, s.prefix),
			CreatedAt: e.CreatedAt,
			TTL:       e.ttl(),
			Size:      int64(len(data)),
			Expired:   !e.fresh(now),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{
		Backend:    backendRedis,
		EntryCount: len(keys),
		HitCount:   s.hits.Load(),
		MissCount:  s.misses.Load(),
	}
	for _, k := range keys {
		if n, err := s.client.StrLen(ctx, k).Result(); err == nil {
			stats.TotalSize += n
		}
	}
	return stats, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("delete redis keys: %w", err)
		}
	}
	s.log.WithComponent("cache").WithFields(logger.Fields{"prefix": s.prefix, "removed": len(keys)}).Info("cache cleared")
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
