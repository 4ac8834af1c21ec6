package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell-migrate/internal/backup"
	"github.com/inkwellhq/inkwell-migrate/internal/errors"
)

// CreateRecoveryPoint persists an immutable recovery point and returns its
// ID. The associated backups travel inside the point so a later recovery
// never has to reconstruct them.
func (m *Manager) CreateRecoveryPoint(ctx context.Context, label string, state SystemState, backups []backup.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	id := fmt.Sprintf("rp_%s_%s", now.Format(pointTimestampLayout), uuid.New().String()[:8])
	point := Point{
		ID:        id,
		Label:     label,
		Timestamp: now,
		State:     state,
		Backups:   backups,
	}

	if err := m.writePoint(&point); err != nil {
		return "", err
	}
	m.log.Info("recovery point created", "id", id, "label", label, "backups", len(backups))
	return id, nil
}

// writePoint writes a point as JSON through a temp file and rename, a crash
// never leaves a half-written point behind.
func (m *Manager) writePoint(point *Point) error {
	data, err := json.MarshalIndent(point, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("recovery").
			Category(errors.CategoryState).
			Context("operation", "encode-point").
			Context("id", point.ID).
			Build()
	}

	target := m.pointPath(point.ID)
	tmp, err := os.CreateTemp(m.cfg.RecoveryDir, "point-*.tmp")
	if err != nil {
		return m.pointWriteError(err, point.ID)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(filePermissions); err != nil {
		return m.pointWriteError(err, point.ID)
	}
	if _, err := tmp.Write(data); err != nil {
		return m.pointWriteError(err, point.ID)
	}
	if err := tmp.Sync(); err != nil {
		return m.pointWriteError(err, point.ID)
	}
	if err := tmp.Close(); err != nil {
		return m.pointWriteError(err, point.ID)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return m.pointWriteError(err, point.ID)
	}

	success = true
	return nil
}

func (m *Manager) pointWriteError(err error, id string) error {
	return errors.New(err).
		Component("recovery").
		Category(errors.CategoryState).
		Context("operation", "write-point").
		Context("id", id).
		Build()
}

func (m *Manager) pointPath(id string) string {
	return filepath.Join(m.cfg.RecoveryDir, id+".json")
}

// validPointID rejects IDs that could escape the recovery directory.
func validPointID(id string) bool {
	return strings.HasPrefix(id, "rp_") &&
		!strings.ContainsAny(id, `/\`) &&
		!strings.Contains(id, "..")
}

// ListRecoveryPoints returns every readable recovery point, newest first.
// Unreadable point files are skipped with a warning.
func (m *Manager) ListRecoveryPoints(ctx context.Context) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(m.cfg.RecoveryDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(err).
			Component("recovery").
			Category(errors.CategoryFileIO).
			Context("operation", "list-points").
			Context("dir", m.cfg.RecoveryDir).
			Build()
	}

	var points []Point
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "rp_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		point, err := m.readPoint(filepath.Join(m.cfg.RecoveryDir, name))
		if err != nil {
			m.log.Warn("skipping unreadable recovery point", "file", name, "error", err)
			continue
		}
		points = append(points, *point)
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.After(points[j].Timestamp)
	})
	return points, nil
}

// GetRecoveryPoint looks up one point by ID.
func (m *Manager) GetRecoveryPoint(ctx context.Context, id string) (*Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validPointID(id) {
		return nil, errors.Newf("invalid recovery point id %q", id).
			Component("recovery").
			Category(errors.CategoryValidation).
			Build()
	}

	point, err := m.readPoint(m.pointPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Newf("recovery point %s not found", id).
				Component("recovery").
				Category(errors.CategoryNotFound).
				Context("id", id).
				Build()
		}
		return nil, err
	}
	return point, nil
}

func (m *Manager) readPoint(path string) (*Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("recovery").
			Category(errors.CategoryState).
			Context("operation", "read-point").
			Context("path", path).
			Build()
	}
	var point Point
	if err := json.Unmarshal(data, &point); err != nil {
		return nil, errors.New(err).
			Component("recovery").
			Category(errors.CategoryState).
			Context("operation", "decode-point").
			Context("path", path).
			Build()
	}
	return &point, nil
}
