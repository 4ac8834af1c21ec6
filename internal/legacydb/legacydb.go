// Package legacydb detects and reads the legacy Inkwell data stores: the
// row-oriented SQLite conversation store and the columnar DuckDB knowledge
// store. Both engines ship plain .db files, so detection relies on magic
// bytes rather than file extensions.
package legacydb

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/inkwellhq/inkwell-migrate/internal/errors"
)

// Kind identifies a legacy database engine.
type Kind string

const (
	// KindSQLite is the row-oriented conversation store.
	KindSQLite Kind = "sqlite"
	// KindColumnar is the columnar knowledge store.
	KindColumnar Kind = "columnar"
	// KindUnknown marks files that are no known database.
	KindUnknown Kind = ""
)

// sqliteMagic is the 16-byte header prefix of every SQLite 3 file.
const sqliteMagic = "SQLite format 3\x00"

// columnarMagic appears at byte offset 8 of DuckDB files.
const columnarMagic = "DUCK"

// sniffLen covers both signatures.
const sniffLen = 16

// Schema versions the current application understands.
const (
	MaxSQLiteSchemaVersion   = 3
	MaxColumnarSchemaVersion = 2
)

// Info describes one detected legacy database. Immutable after detection.
type Info struct {
	Kind          Kind           `json:"kind"`
	Path          string         `json:"path"`
	SchemaVersion int            `json:"schema_version"`
	SizeBytes     int64          `json:"size_bytes"`
	RecordCount   int64          `json:"record_count"`
	LastModified  time.Time      `json:"last_modified"`
	IsValid       bool           `json:"is_valid"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Result is the outcome of one detection pass.
type Result struct {
	Databases         []Info `json:"databases"`
	TotalSizeBytes    int64  `json:"total_size_bytes"`
	RequiresMigration bool   `json:"requires_migration"`
}

// Compatibility reports whether detected databases can be migrated.
// Issues block the migration, warnings do not.
type Compatibility struct {
	Compatible bool     `json:"compatible"`
	Issues     []string `json:"issues"`
	Warnings   []string `json:"warnings"`
}

// Requirements estimates the disk space a migration needs.
type Requirements struct {
	Required               bool   `json:"required"` // any legacy database found
	DatabaseCount          int    `json:"database_count"`
	TotalSizeBytes         int64  `json:"total_size_bytes"`
	EstimatedRequiredBytes int64  `json:"estimated_required_bytes"`
	AvailableBytes         uint64 `json:"available_bytes"`
	Sufficient             bool   `json:"sufficient"`
}

// SniffKind classifies a file by its magic bytes. Files too short or
// matching neither signature return KindUnknown without an error; only
// I/O failures are errors.
func SniffKind(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindUnknown, errors.New(err).
			Component("legacydb").
			Context("path", path).
			Context("operation", "sniff-magic-bytes").
			Build()
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	if _, err := io.ReadFull(f, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// Shorter than any database header.
			return KindUnknown, nil
		}
		return KindUnknown, errors.New(err).
			Component("legacydb").
			Context("path", path).
			Context("operation", "sniff-magic-bytes").
			Build()
	}

	switch {
	case bytes.Equal(buf[:len(sqliteMagic)], []byte(sqliteMagic)):
		return KindSQLite, nil
	case bytes.Equal(buf[8:12], []byte(columnarMagic)):
		return KindColumnar, nil
	default:
		return KindUnknown, nil
	}
}

// candidateExtensions are the file extensions worth sniffing at all.
var candidateExtensions = map[string]bool{
	".db":      true,
	".sqlite":  true,
	".sqlite3": true,
	".duckdb":  true,
	".ddb":     true,
}
