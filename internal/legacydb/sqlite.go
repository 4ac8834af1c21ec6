package legacydb

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/inkwellhq/inkwell-migrate/internal/errors"
)

// Conversation is a row from the legacy conversation store. Later schema
// versions added Model (v2) and Pinned (v3); readers of older versions
// leave them zero.
type Conversation struct {
	ID        int64
	Title     string
	Model     string
	Pinned    bool
	CreatedAt string
	UpdatedAt string
}

// Message is a row from the legacy conversation store.
type Message struct {
	ID             int64
	ConversationID int64
	Role           string
	Content        string
	CreatedAt      string
}

// sqliteTables are the known tables of the conversation store.
var sqliteTables = []string{"conversations", "messages"}

// SQLiteReader reads a legacy conversation store. All access is read-only.
type SQLiteReader struct {
	db   *gorm.DB
	path string
}

// OpenSQLite opens a conversation store read-only.
func OpenSQLite(path string) (*SQLiteReader, error) {
	db, err := gorm.Open(sqlite.Open(path+"?mode=ro"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("legacydb").
			Category(errors.CategoryConnection).
			DatabaseContext("sqlite", "open-read-only").
			Context("path", path).
			Build()
	}
	return &SQLiteReader{db: db, path: path}, nil
}

// Close releases the underlying connection.
func (r *SQLiteReader) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SchemaVersion reads PRAGMA user_version.
func (r *SQLiteReader) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := r.db.WithContext(ctx).Raw("PRAGMA user_version").Scan(&version).Error; err != nil {
		return 0, errors.New(err).
			Component("legacydb").
			DatabaseContext("sqlite", "read-schema-version").
			Context("path", r.path).
			Build()
	}
	return version, nil
}

// TableCounts returns row counts for the known tables that exist.
func (r *SQLiteReader) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(sqliteTables))
	for _, table := range sqliteTables {
		exists, err := r.tableExists(ctx, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}

		var count int64
		if err := r.db.WithContext(ctx).Raw("SELECT COUNT(*) FROM " + table).Scan(&count).Error; err != nil {
			return nil, errors.New(err).
				Component("legacydb").
				DatabaseContext("sqlite", "count-rows").
				Context("path", r.path).
				Context("table", table).
				Build()
		}
		counts[table] = count
	}
	return counts, nil
}

func (r *SQLiteReader) tableExists(ctx context.Context, table string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).
		Scan(&count).Error
	if err != nil {
		return false, errors.New(err).
			Component("legacydb").
			DatabaseContext("sqlite", "check-table").
			Context("path", r.path).
			Context("table", table).
			Build()
	}
	return count > 0, nil
}

// columnExists reports whether a table has a named column, used to handle
// the schema additions of versions 2 and 3.
func (r *SQLiteReader) columnExists(ctx context.Context, table, column string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).
		Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Conversations streams all conversations in primary-key order, invoking
// fn once per batch. Iteration stops on the first fn error. The batch
// slice is reused between calls and must not be retained.
func (r *SQLiteReader) Conversations(ctx context.Context, batchSize int, fn func([]Conversation) error) error {
	if batchSize < 1 {
		batchSize = 1
	}

	hasModel, err := r.columnExists(ctx, "conversations", "model")
	if err != nil {
		return r.readError(err, "conversations")
	}
	hasPinned, err := r.columnExists(ctx, "conversations", "pinned")
	if err != nil {
		return r.readError(err, "conversations")
	}

	modelExpr := "''"
	if hasModel {
		modelExpr = "COALESCE(model, '')"
	}
	pinnedExpr := "0"
	if hasPinned {
		pinnedExpr = "COALESCE(pinned, 0)"
	}

	query := fmt.Sprintf(
		"SELECT id, COALESCE(title, ''), %s, %s, COALESCE(created_at, ''), COALESCE(updated_at, '') FROM conversations ORDER BY id",
		modelExpr, pinnedExpr)

	rows, err := r.db.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return r.readError(err, "conversations")
	}
	defer rows.Close()

	batch := make([]Conversation, 0, batchSize)
	for rows.Next() {
		var c Conversation
		var pinned int64
		if err := rows.Scan(&c.ID, &c.Title, &c.Model, &pinned, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return r.readError(err, "conversations")
		}
		c.Pinned = pinned != 0

		batch = append(batch, c)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return r.readError(err, "conversations")
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// Messages streams all messages in primary-key order, invoking fn once
// per batch.
func (r *SQLiteReader) Messages(ctx context.Context, batchSize int, fn func([]Message) error) error {
	if batchSize < 1 {
		batchSize = 1
	}

	rows, err := r.db.WithContext(ctx).
		Raw("SELECT id, conversation_id, COALESCE(role, ''), COALESCE(content, ''), COALESCE(created_at, '') FROM messages ORDER BY id").
		Rows()
	if err != nil {
		return r.readError(err, "messages")
	}
	defer rows.Close()

	batch := make([]Message, 0, batchSize)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return r.readError(err, "messages")
		}

		batch = append(batch, m)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return r.readError(err, "messages")
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func (r *SQLiteReader) readError(err error, table string) error {
	return errors.New(err).
		Component("legacydb").
		DatabaseContext("sqlite", "read-rows").
		Context("path", r.path).
		Context("table", table).
		Build()
}
