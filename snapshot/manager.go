// Package snapshot exports feature tables as immutable CSV snapshots and
// joins them onto base datasets.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"featureflow/errs"
	"featureflow/internal/metrics"
	"featureflow/logger"
	"featureflow/models"
	"featureflow/writer"
)

const (
	KindTraining = "training"
	KindTest     = "test"

	filePrefix     = "external_features_"
	readOnlyMode   = 0o444
	csvContentType = "text/csv"
)

var (
	timeNow   = time.Now
	validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// Uploader mirrors written files to remote storage.
type Uploader interface {
	Key(parts ...string) string
	Upload(ctx context.Context, key string, data []byte, contentType string, overwrite bool) error
}

// Manifest is the JSON sidecar written next to every snapshot.
type Manifest struct {
	ID           string                    `json:"id"`
	Name         string                    `json:"name"`
	Kind         string                    `json:"kind"`
	CreatedAt    time.Time                 `json:"created_at"`
	Rows         int                       `json:"rows"`
	Columns      int                       `json:"columns"`
	From         string                    `json:"from"`
	To           string                    `json:"to"`
	FeatureNames []string                  `json:"feature_names"`
	Families     []string                  `json:"families"`
	Sources      map[string]map[string]int `json:"sources"`
	Files        []string                  `json:"files"`
}

// Info summarises a snapshot on disk. Mirrored is set by Export and Mirror
// when every file reached remote storage.
type Info struct {
	Name      string
	Kind      string
	Path      string
	Rows      int
	Columns   int
	From      time.Time
	To        time.Time
	SizeBytes int64
	Mirrored  bool
	Manifest  *Manifest
}

// Options configures NewManager. Parquet adds a .parquet companion next to
// each CSV. AllowOverwrite gates the overwrite flag of every export.
type Options struct {
	DataDir            string
	Parquet            bool
	ParquetCompression string
	AllowOverwrite     bool
	Uploader           Uploader
	Log                *logger.Log
}

type Manager struct {
	dataDir        string
	parquet        bool
	compression    string
	allowOverwrite bool
	uploader       Uploader
	log            *logger.Log
}

func NewManager(opts Options) (*Manager, error) {
	if opts.DataDir == "" {
		return nil, errs.Configuration("snapshot", "data dir is required")
	}
	if opts.Log == nil {
		opts.Log = logger.GetLogger()
	}
	for _, kind := range []string{KindTraining, KindTest} {
		if err := os.MkdirAll(filepath.Join(opts.DataDir, kind), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", kind, err)
		}
	}
	return &Manager{
		dataDir:        opts.DataDir,
		parquet:        opts.Parquet,
		compression:    opts.ParquetCompression,
		allowOverwrite: opts.AllowOverwrite,
		uploader:       opts.Uploader,
		log:            opts.Log,
	}, nil
}

func (m *Manager) DataDir() string {
	return m.dataDir
}

// Path returns where the CSV of a snapshot lives.
func (m *Manager) Path(kind, name string) string {
	return filepath.Join(m.dataDir, kind, filePrefix+name+".csv")
}

func manifestPath(csvPath string) string {
	return strings.TrimSuffix(csvPath, ".csv") + ".meta.json"
}

func parquetPath(csvPath string) string {
	return strings.TrimSuffix(csvPath, ".csv") + ".parquet"
}

func (m *Manager) ExportTrainingSnapshot(ctx context.Context, table *models.FeatureTable, name string, overwrite bool) (Info, error) {
	return m.export(ctx, KindTraining, table, name, overwrite)
}

func (m *Manager) ExportTestSnapshot(ctx context.Context, table *models.FeatureTable, name string, overwrite bool) (Info, error) {
	return m.export(ctx, KindTest, table, name, overwrite)
}

// Export writes table under kind. Without overwrite an existing snapshot is
// never touched and errs.ErrSnapshotExists is returned.
func (m *Manager) Export(ctx context.Context, kind string, table *models.FeatureTable, name string, overwrite bool) (Info, error) {
	switch kind {
	case KindTraining, KindTest:
		return m.export(ctx, kind, table, name, overwrite)
	default:
		return Info{}, fmt.Errorf("%w: unknown snapshot kind %q", errs.ErrInvalidInput, kind)
	}
}

func (m *Manager) export(ctx context.Context, kind string, table *models.FeatureTable, name string, overwrite bool) (Info, error) {
	if err := validateName(name); err != nil {
		return Info{}, err
	}
	if table == nil || table.Len() == 0 {
		return Info{}, fmt.Errorf("%w: snapshot %s has no rows", errs.ErrInvalidInput, name)
	}
	if err := table.Validate(); err != nil {
		return Info{}, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	if overwrite && !m.allowOverwrite {
		return Info{}, errs.Configuration("snapshot", "overwriting snapshots is disabled in this environment")
	}

	csvPath := m.Path(kind, name)
	targets := []string{csvPath, manifestPath(csvPath)}
	if m.parquet {
		targets = append(targets, parquetPath(csvPath))
	}
	if !overwrite {
		for _, p := range targets {
			if _, err := os.Stat(p); err == nil {
				return Info{}, fmt.Errorf("%w: %s", errs.ErrSnapshotExists, p)
			}
		}
	}

	entry := m.log.WithComponent("snapshot").WithFields(logger.Fields{
		"kind": kind,
		"name": name,
	})

	data, err := EncodeFeatureCSV(table)
	if err != nil {
		return Info{}, fmt.Errorf("encode %s: %w", name, err)
	}
	files := map[string][]byte{csvPath: data}
	if m.parquet {
		pq, err := writer.EncodeParquet(table, m.compression, m.log)
		if err != nil {
			return Info{}, fmt.Errorf("encode parquet %s: %w", name, err)
		}
		files[parquetPath(csvPath)] = pq
	}

	from, to, _ := table.DateRange()
	manifest := Manifest{
		ID:           uuid.NewString(),
		Name:         name,
		Kind:         kind,
		CreatedAt:    timeNow().UTC(),
		Rows:         table.Len(),
		Columns:      1 + len(table.Names) + len(table.Families),
		From:         models.FormatDate(from),
		To:           models.FormatDate(to),
		FeatureNames: table.Names,
		Families:     table.Families,
		Sources:      table.SourceCounts(),
		Files:        []string{filepath.Base(csvPath)},
	}
	if m.parquet {
		manifest.Files = append(manifest.Files, filepath.Base(parquetPath(csvPath)))
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Info{}, fmt.Errorf("encode manifest: %w", err)
	}
	files[manifestPath(csvPath)] = manifestData

	// The CSV goes last so a visible snapshot always has its sidecars.
	order := append(append([]string(nil), targets[1:]...), csvPath)
	for _, p := range order {
		if err := writeImmutable(p, files[p], overwrite); err != nil {
			return Info{}, err
		}
	}

	// The local snapshot is the source of truth. A failed mirror leaves it in
	// place and Mirror can finish the upload later.
	mirrored := false
	if m.uploader != nil {
		if err := m.mirror(ctx, kind, order, files, overwrite, false); err != nil {
			entry.WithError(err).Warn("snapshot written locally but not mirrored")
			metrics.Count(m.log, "snapshot", "snapshot_mirror_failed", logger.Fields{"kind": kind})
		} else {
			mirrored = true
		}
	}

	metrics.Count(m.log, "snapshot", "snapshot_export", logger.Fields{"kind": kind})
	logger.LogDataFlowEntry(entry, "orchestrator", csvPath, table.Len(), "feature_snapshot")

	return Info{
		Name:      name,
		Kind:      kind,
		Path:      csvPath,
		Rows:      manifest.Rows,
		Columns:   manifest.Columns,
		From:      from,
		To:        to,
		SizeBytes: int64(len(data)),
		Mirrored:  mirrored,
		Manifest:  &manifest,
	}, nil
}

// mirror uploads paths in order. With resume, keys that already exist
// remotely are taken as mirrored by an earlier attempt.
func (m *Manager) mirror(ctx context.Context, kind string, paths []string, files map[string][]byte, overwrite, resume bool) error {
	for _, p := range paths {
		key := m.uploader.Key(kind, filepath.Base(p))
		err := m.uploader.Upload(ctx, key, files[p], contentType(p), overwrite)
		if resume && errors.Is(err, errs.ErrSnapshotExists) {
			m.log.WithComponent("snapshot").WithField("s3_key", key).Debug("object already mirrored")
			continue
		}
		if err != nil {
			return fmt.Errorf("mirror %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// Mirror uploads an exported snapshot to remote storage, training first,
// then test. It completes a mirror that failed during export; objects that
// already exist remotely are kept.
func (m *Manager) Mirror(ctx context.Context, name string) (Info, error) {
	if m.uploader == nil {
		return Info{}, errs.Configuration("snapshot", "no remote storage configured for mirroring")
	}
	info, err := m.SnapshotInfo(ctx, name)
	if err != nil {
		return Info{}, err
	}

	csvPath := info.Path
	files := make(map[string][]byte, 3)
	var order []string
	for _, p := range []string{manifestPath(csvPath), parquetPath(csvPath), csvPath} {
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) && p != csvPath {
			continue
		}
		if err != nil {
			return Info{}, fmt.Errorf("read %s: %w", p, err)
		}
		files[p] = data
		order = append(order, p)
	}

	if err := m.mirror(ctx, info.Kind, order, files, false, true); err != nil {
		metrics.Count(m.log, "snapshot", "snapshot_mirror_failed", logger.Fields{"kind": info.Kind})
		return Info{}, err
	}
	m.log.WithComponent("snapshot").WithFields(logger.Fields{
		"kind":  info.Kind,
		"name":  name,
		"files": len(order),
	}).Info("snapshot mirrored")
	info.Mirrored = true
	return info, nil
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".json":
		return "application/json"
	case ".parquet":
		return "application/octet-stream"
	default:
		return csvContentType
	}
}

// writeImmutable writes data to a temp file in the target directory and
// publishes it read-only. Without overwrite the publish is a hard link, which
// fails if the target appeared in the meantime.
func writeImmutable(path string, data []byte, overwrite bool) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, readOnlyMode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}

	if overwrite {
		if err := os.Rename(tmpName, path); err != nil {
			return fmt.Errorf("publish %s: %w", path, err)
		}
		return nil
	}
	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", errs.ErrSnapshotExists, path)
		}
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

func validateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: snapshot name %q must match %s", errs.ErrInvalidInput, name, validName.String())
	}
	return nil
}

// LoadSnapshot reads a snapshot by name, looking in training first, then test.
func (m *Manager) LoadSnapshot(ctx context.Context, name string) (*models.FeatureTable, error) {
	table, _, err := m.load(name, KindTraining, KindTest)
	return table, err
}

// LoadTestSnapshot reads a snapshot from the test namespace only.
func (m *Manager) LoadTestSnapshot(ctx context.Context, name string) (*models.FeatureTable, error) {
	table, _, err := m.load(name, KindTest)
	return table, err
}

func (m *Manager) load(name string, kinds ...string) (*models.FeatureTable, string, error) {
	if err := validateName(name); err != nil {
		return nil, "", err
	}
	for _, kind := range kinds {
		path := m.Path(kind, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", path, err)
		}
		table, err := decodeFeatureCSV(data)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", path, err)
		}
		m.log.WithComponent("snapshot").WithFields(logger.Fields{
			"kind": kind,
			"name": name,
			"rows": table.Len(),
		}).Debug("snapshot loaded")
		return table, kind, nil
	}
	return nil, "", fmt.Errorf("%w: %s (looked in %s)", errs.ErrSnapshotMissing, name, strings.Join(kinds, ", "))
}

// SnapshotInfo describes one snapshot, training first, then test.
func (m *Manager) SnapshotInfo(ctx context.Context, name string) (Info, error) {
	if err := validateName(name); err != nil {
		return Info{}, err
	}
	for _, kind := range []string{KindTraining, KindTest} {
		info, err := m.info(kind, m.Path(kind, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return info, err
	}
	return Info{}, fmt.Errorf("%w: %s", errs.ErrSnapshotMissing, name)
}

// ListSnapshots describes every snapshot, sorted by kind then name.
func (m *Manager) ListSnapshots(ctx context.Context) ([]Info, error) {
	var out []Info
	for _, kind := range []string{KindTraining, KindTest} {
		paths, err := filepath.Glob(filepath.Join(m.dataDir, kind, filePrefix+"*.csv"))
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			info, err := m.info(kind, p)
			if err != nil {
				m.log.WithComponent("snapshot").WithError(err).WithField("path", p).Warn("skipping unreadable snapshot")
				continue
			}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// info prefers the manifest and falls back to reading the CSV.
func (m *Manager) info(kind, path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), filePrefix), ".csv")
	info := Info{Name: name, Kind: kind, Path: path, SizeBytes: st.Size()}

	if data, err := os.ReadFile(manifestPath(path)); err == nil {
		var manifest Manifest
		if err := json.Unmarshal(data, &manifest); err == nil {
			info.Manifest = &manifest
			info.Rows = manifest.Rows
			info.Columns = manifest.Columns
			info.From, _ = models.ParseDate(manifest.From)
			info.To, _ = models.ParseDate(manifest.To)
			return info, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	table, err := decodeFeatureCSV(data)
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w", path, err)
	}
	info.Rows = table.Len()
	info.Columns = 1 + len(table.Names) + len(table.Families)
	info.From, info.To, _ = table.DateRange()
	return info, nil
}

// CreateCombinedDataset joins a snapshot onto the base CSV at basePath and
// writes {data_dir}/{outputName}.csv. It returns the written path.
func (m *Manager) CreateCombinedDataset(ctx context.Context, basePath, snapshotName, outputName, dateColumn string, overwrite bool) (string, error) {
	if err := validateName(outputName); err != nil {
		return "", err
	}
	if overwrite && !m.allowOverwrite {
		return "", errs.Configuration("snapshot", "overwriting datasets is disabled in this environment")
	}

	base, err := ReadTable(basePath)
	if err != nil {
		return "", fmt.Errorf("read base dataset: %w", err)
	}
	features, err := m.LoadSnapshot(ctx, snapshotName)
	if err != nil {
		return "", err
	}
	combined, err := CombineWithBase(base, dateColumn, features)
	if err != nil {
		return "", err
	}
	data, err := encodeCSV(combined)
	if err != nil {
		return "", fmt.Errorf("encode combined dataset: %w", err)
	}

	out := filepath.Join(m.dataDir, outputName+".csv")
	if err := writeImmutable(out, data, overwrite); err != nil {
		return "", err
	}

	entry := m.log.WithComponent("snapshot").WithFields(logger.Fields{
		"base_rows":     len(base.Rows),
		"feature_rows":  features.Len(),
		"combined_rows": len(combined.Rows),
	})
	logger.LogDataFlowEntry(entry, basePath, out, len(combined.Rows), "combined_dataset")
	return out, nil
}
