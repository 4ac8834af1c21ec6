package legacydb

import (
	"context"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/inkwellhq/inkwell-migrate/internal/diskutil"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
)

// SpaceProber reports disk space for a path. The default is diskutil.Probe;
// tests substitute fakes.
type SpaceProber func(path string) (*diskutil.SpaceInfo, error)

// skipDirNames are migration-owned directories that must never be scanned,
// they contain copies of the very files being detected.
var skipDirNames = map[string]bool{
	"migration_backups": true,
	"recovery_points":   true,
	"migration_reports": true,
}

// Detector scans the filesystem for legacy databases and extracts their
// metadata.
type Detector struct {
	searchDirs     []string
	excludePaths   map[string]bool
	headroomFactor float64
	prober         SpaceProber
	log            *slog.Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithExcludedPaths marks files the walk must ignore, typically the
// migration target itself.
func WithExcludedPaths(paths ...string) DetectorOption {
	return func(d *Detector) {
		for _, p := range paths {
			if abs, err := filepath.Abs(p); err == nil {
				p = abs
			}
			d.excludePaths[p] = true
		}
	}
}

// WithHeadroomFactor overrides the disk space multiplier used by
// Requirements.
func WithHeadroomFactor(factor float64) DetectorOption {
	return func(d *Detector) {
		if factor >= 1.0 {
			d.headroomFactor = factor
		}
	}
}

// WithSpaceProber substitutes the disk space probe.
func WithSpaceProber(prober SpaceProber) DetectorOption {
	return func(d *Detector) {
		if prober != nil {
			d.prober = prober
		}
	}
}

// NewDetector builds a Detector over the given search directories. A nil
// logger falls back to the legacydb service logger.
func NewDetector(searchDirs []string, log *slog.Logger, opts ...DetectorOption) *Detector {
	if log == nil {
		log = logging.ForService("legacydb")
	}
	d := &Detector{
		searchDirs:     searchDirs,
		excludePaths:   make(map[string]bool),
		headroomFactor: 2.5,
		prober:         diskutil.Probe,
		log:            log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect walks the search directories and returns every confirmed legacy
// database. Files whose metadata cannot be read are kept with IsValid=false
// and zero counts; walk errors other than a missing search dir abort.
func (d *Detector) Detect(ctx context.Context) (*Result, error) {
	result := &Result{}
	seen := make(map[string]bool)

	for _, dir := range d.searchDirs {
		if err := d.walkDir(ctx, dir, seen, result); err != nil {
			return nil, err
		}
	}

	// Deterministic order so repeated runs compare equal.
	sort.Slice(result.Databases, func(i, j int) bool {
		return result.Databases[i].Path < result.Databases[j].Path
	})

	for i := range result.Databases {
		result.TotalSizeBytes += result.Databases[i].SizeBytes
	}
	result.RequiresMigration = len(result.Databases) > 0

	d.log.Info("legacy database detection finished",
		"databases", len(result.Databases),
		"total_size_bytes", result.TotalSizeBytes,
		"requires_migration", result.RequiresMigration)
	return result, nil
}

func (d *Detector) walkDir(ctx context.Context, dir string, seen map[string]bool, result *Result) error {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			d.log.Debug("search directory does not exist, skipping", "dir", dir)
			return nil
		}
		return errors.New(err).
			Component("legacydb").
			Context("operation", "stat-search-dir").
			Context("dir", dir).
			Build()
	}

	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return errors.New(err).
				Component("legacydb").
				Context("operation", "walk").
				Context("path", path).
				Build()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if entry.IsDir() {
			if skipDirNames[entry.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !candidateExtensions[filepath.Ext(path)] {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if seen[abs] || d.excludePaths[abs] {
			return nil
		}

		kind, err := SniffKind(path)
		if err != nil {
			return err
		}
		if kind == KindUnknown {
			d.log.Debug("candidate file is no known database", "path", path)
			return nil
		}

		seen[abs] = true
		result.Databases = append(result.Databases, d.inspect(ctx, kind, abs))
		return nil
	})
}

// inspect extracts metadata for one confirmed database. Driver failures
// degrade to IsValid=false rather than aborting detection.
func (d *Detector) inspect(ctx context.Context, kind Kind, path string) Info {
	info := Info{Kind: kind, Path: path}

	if stat, err := os.Stat(path); err == nil {
		info.SizeBytes = stat.Size()
		info.LastModified = stat.ModTime()
	}

	var err error
	switch kind {
	case KindSQLite:
		err = d.inspectSQLite(ctx, &info)
	case KindColumnar:
		err = d.inspectColumnar(ctx, &info)
	}
	if err != nil {
		d.log.Warn("could not read database metadata",
			"path", path,
			"kind", string(kind),
			"error", err)
		info.SchemaVersion = 0
		info.RecordCount = 0
		info.Metadata = nil
		info.IsValid = false
		return info
	}

	info.IsValid = true
	return info
}

func (d *Detector) inspectSQLite(ctx context.Context, info *Info) error {
	reader, err := OpenSQLite(info.Path)
	if err != nil {
		return err
	}
	defer reader.Close()

	version, err := reader.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	counts, err := reader.TableCounts(ctx)
	if err != nil {
		return err
	}

	info.SchemaVersion = version
	applyCounts(info, counts)
	return nil
}

func (d *Detector) inspectColumnar(ctx context.Context, info *Info) error {
	reader, err := OpenColumnar(info.Path)
	if err != nil {
		return err
	}
	defer reader.Close()

	version, err := reader.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	dim, err := reader.EmbeddingDim(ctx)
	if err != nil {
		return err
	}
	counts, err := reader.TableCounts(ctx)
	if err != nil {
		return err
	}

	info.SchemaVersion = version
	applyCounts(info, counts)
	info.Metadata["embedding_dim"] = dim
	return nil
}

func applyCounts(info *Info, counts map[string]int64) {
	info.Metadata = map[string]any{"table_counts": counts}
	for _, n := range counts {
		info.RecordCount += n
	}
}

// CheckCompatibility reports whether the detected databases can be
// migrated by this version of the tool.
func (d *Detector) CheckCompatibility(dbs []Info) Compatibility {
	comp := Compatibility{}

	for i := range dbs {
		db := &dbs[i]
		name := filepath.Base(db.Path)

		if !db.IsValid {
			comp.Issues = append(comp.Issues,
				name+": database is inaccessible or corrupt")
			continue
		}

		maxVersion := MaxSQLiteSchemaVersion
		if db.Kind == KindColumnar {
			maxVersion = MaxColumnarSchemaVersion
		}
		if db.SchemaVersion < 1 || db.SchemaVersion > maxVersion {
			comp.Warnings = append(comp.Warnings,
				name+": unknown schema version, migrating on a best-effort basis")
		}
		if db.SizeBytes > 1<<30 {
			comp.Warnings = append(comp.Warnings,
				name+": larger than 1 GiB, migration may take a while")
		}
		if db.RecordCount == 0 {
			comp.Warnings = append(comp.Warnings, name+": contains no records")
		}
	}

	comp.Compatible = len(comp.Issues) == 0
	return comp
}

// Requirements estimates the disk space needed to migrate result into a
// target under targetPath.
func (d *Detector) Requirements(ctx context.Context, result *Result, targetPath string) (*Requirements, error) {
	req := &Requirements{
		Required:       result.RequiresMigration,
		DatabaseCount:  len(result.Databases),
		TotalSizeBytes: result.TotalSizeBytes,
	}
	req.EstimatedRequiredBytes = int64(math.Ceil(d.headroomFactor * float64(result.TotalSizeBytes)))

	space, err := d.prober(targetPath)
	if err != nil {
		return nil, err
	}
	req.AvailableBytes = space.FreeBytes
	req.Sufficient = req.AvailableBytes >= uint64(req.EstimatedRequiredBytes)
	return req, nil
}
