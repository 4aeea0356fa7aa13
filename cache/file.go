package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"featureflow/errs"
	"featureflow/internal/metrics"
	"featureflow/logger"
)

const backendFile = "file"

// FileStore keeps one JSON file per key under dir. Entries survive restarts;
// stale entries are removed when read and Clear sweeps the directory.
type FileStore struct {
	dir string
	log *logger.Log
	counters
}

func NewFileStore(dir string, log *logger.Log) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache dir is required")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStore{dir: dir, log: log}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool) {
	path := filepath.Join(s.dir, FileName(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.corrupt(key, path, err)
		}
		s.miss(s.log, backendFile)
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		s.corrupt(key, path, err)
		s.miss(s.log, backendFile)
		return nil, false
	}
	if e.Key != key {
		s.corrupt(key, path, fmt.Errorf("entry holds key %q", e.Key))
		s.miss(s.log, backendFile)
		return nil, false
	}
	if !e.fresh(timeNow()) {
		_ = os.Remove(path)
		s.miss(s.log, backendFile)
		return nil, false
	}

	s.hit(s.log, backendFile)
	return e.Payload, true
}

func (s *FileStore) corrupt(key, path string, err error) {
	s.log.WithComponent("cache").WithError(err).WithFields(logger.Fields{
		"key":     key,
		"path":    path,
		"warning": errs.ErrCacheCorrupted.Error(),
	}).Warn("unreadable cache entry treated as miss")
	metrics.Count(s.log, "cache", "cache_corrupt", logger.Fields{"backend": backendFile})
}

func (s *FileStore) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
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

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, FileName(key))); err != nil {
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

func (s *FileStore) Entries(ctx context.Context) ([]EntryInfo, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	now := timeNow()
	infos := make([]EntryInfo, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		infos = append(infos, EntryInfo{
			Key:       e.Key,
			CreatedAt: e.CreatedAt,
			TTL:       e.ttl(),
			Size:      int64(len(data)),
			Expired:   !e.fresh(now),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	files, err := s.files()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{
		Backend:    backendFile,
		EntryCount: len(files),
		HitCount:   s.hits.Load(),
		MissCount:  s.misses.Load(),
	}
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			stats.TotalSize += info.Size()
		}
	}
	return stats, nil
}

// Clear removes every entry file. Hit and miss counters are kept.
func (s *FileStore) Clear(ctx context.Context) error {
	files, err := s.files()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove cache entry: %w", err)
		}
	}
	s.log.WithComponent("cache").WithFields(logger.Fields{"dir": s.dir, "removed": len(files)}).Info("cache cleared")
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) files() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache dir: %w", err)
	}
	out := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		out = append(out, filepath.Join(s.dir, name))
	}
	return out, nil
}

var _ Store = (*FileStore)(nil)
