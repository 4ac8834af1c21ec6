package validate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/inkwellhq/inkwell-migrate/internal/errors"
	"github.com/inkwellhq/inkwell-migrate/internal/unistore"
)

var requiredTables = []string{"conversations", "messages", "documents", "chunks", "migration_meta"}

var requiredIndexes = []string{"idx_messages_conversation", "idx_chunks_document"}

func pass(format string, args ...any) RuleResult {
	return RuleResult{Passed: true, Message: fmt.Sprintf(format, args...)}
}

func fail(sev Severity, format string, args ...any) RuleResult {
	return RuleResult{Passed: false, Severity: sev, Message: fmt.Sprintf(format, args...)}
}

// queryFailed reports a rule that could not run at all, always an error.
func queryFailed(err error) RuleResult {
	return fail(SeverityError, "rule query failed: %v", err)
}

func objectExists(ctx context.Context, db *sqlx.DB, kind, name string) (bool, error) {
	var n int
	err := db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name)
	return n > 0, err
}

func countRows(ctx context.Context, db *sqlx.DB, query string, args ...any) (int64, error) {
	var n int64
	err := db.GetContext(ctx, &n, query, args...)
	return n, err
}

// builtinRules seeds the registry with checks for the unified schema.
func (v *Validator) builtinRules() []Rule {
	return []Rule{
		{Name: "required-tables", Category: CategoryStructure, Severity: SeverityError, Fn: ruleRequiredTables},
		{Name: "schema-version", Category: CategoryStructure, Severity: SeverityError, Fn: ruleSchemaVersion},
		{Name: "quick-check", Category: CategoryStructure, Severity: SeverityError, Fn: ruleQuickCheck},
		{Name: "row-counts", Category: CategoryData, Severity: SeverityError, Fn: v.ruleRowCounts},
		{Name: "empty-messages", Category: CategoryData, Severity: SeverityWarning, Fn: ruleEmptyMessages},
		{Name: "sampled-chunks", Category: CategoryData, Severity: SeverityWarning, Fn: v.ruleSampledChunks},
		{Name: "orphaned-messages", Category: CategoryRelationships, Severity: SeverityError, Fn: ruleOrphans(relMessages)},
		{Name: "orphaned-chunks", Category: CategoryRelationships, Severity: SeverityError, Fn: ruleOrphans(relChunks)},
		{Name: "orphaned-embeddings", Category: CategoryRelationships, Severity: SeverityError, Fn: ruleOrphans(relEmbeddings)},
		{Name: "query-latency", Category: CategoryPerformance, Severity: SeverityWarning, Fn: v.ruleQueryLatency},
		{Name: "index-presence", Category: CategoryPerformance, Severity: SeverityWarning, Fn: ruleIndexPresence},
	}
}

func ruleRequiredTables(ctx context.Context, db *sqlx.DB) RuleResult {
	var missing []string
	for _, table := range requiredTables {
		ok, err := objectExists(ctx, db, "table", table)
		if err != nil {
			return queryFailed(err)
		}
		if !ok {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fail(SeverityError, "missing tables: %s", strings.Join(missing, ", "))
	}
	return pass("all %d required tables present", len(requiredTables))
}

func ruleSchemaVersion(ctx context.Context, db *sqlx.DB) RuleResult {
	var value string
	err := db.GetContext(ctx, &value,
		"SELECT value FROM migration_meta WHERE key = 'schema_version'")
	if errors.Is(err, sql.ErrNoRows) {
		return fail(SeverityError, "schema version not recorded")
	}
	if err != nil {
		return queryFailed(err)
	}
	want := fmt.Sprintf("%d", unistore.SchemaVersion)
	if value != want {
		return fail(SeverityError, "schema version is %q, expected %q", value, want)
	}
	return pass("schema version %s", value)
}

func ruleQuickCheck(ctx context.Context, db *sqlx.DB) RuleResult {
	var result string
	if err := db.GetContext(ctx, &result, "PRAGMA quick_check"); err != nil {
		return queryFailed(err)
	}
	if result != "ok" {
		return fail(SeverityError, "quick_check reported: %s", result)
	}
	return pass("quick_check ok")
}

// ruleRowCounts compares live counts against the totals recorded by
// SetExpectedCounts. Strict mode turns mismatches into errors.
func (v *Validator) ruleRowCounts(ctx context.Context, db *sqlx.DB) RuleResult {
	if len(v.expected) == 0 {
		return pass("no expected row counts recorded")
	}

	sev := SeverityWarning
	if v.cfg.RowCountStrict {
		sev = SeverityError
	}

	tables := make([]string, 0, len(v.expected))
	for table := range v.expected {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	var mismatches []string
	for _, table := range tables {
		got, err := countRows(ctx, db, "SELECT COUNT(*) FROM "+table)
		if err != nil {
			return queryFailed(err)
		}
		if want := v.expected[table]; got != want {
			mismatches = append(mismatches, fmt.Sprintf("%s has %d rows, expected %d", table, got, want))
		}
	}
	if len(mismatches) > 0 {
		return fail(sev, "row count mismatch: %s", strings.Join(mismatches, "; "))
	}
	return pass("row counts match for %d tables", len(tables))
}

func ruleEmptyMessages(ctx context.Context, db *sqlx.DB) RuleResult {
	n, err := countRows(ctx, db, "SELECT COUNT(*) FROM messages WHERE content = ''")
	if err != nil {
		return queryFailed(err)
	}
	if n > 0 {
		return fail(SeverityWarning, "%d messages have empty content", n)
	}
	return pass("no empty messages")
}

// ruleSampledChunks spot-checks chunk content on a random sample instead of
// scanning the whole table.
func (v *Validator) ruleSampledChunks(ctx context.Context, db *sqlx.DB) RuleResult {
	if v.cfg.SampleSize <= 0 {
		return pass("content sampling disabled")
	}
	empty, err := countRows(ctx, db,
		"SELECT COUNT(*) FROM (SELECT content FROM chunks ORDER BY RANDOM() LIMIT ?) AS sample WHERE content = ''",
		v.cfg.SampleSize)
	if err != nil {
		return queryFailed(err)
	}
	if empty > 0 {
		return fail(SeverityWarning, "%d of up to %d sampled chunks have empty content", empty, v.cfg.SampleSize)
	}
	return pass("sampled chunk content looks intact")
}

// ruleOrphans wraps one declared parent/child relationship as a rule. The
// embeddings table is optional, its absence is not a finding.
func ruleOrphans(rel relationship) RuleFunc {
	return func(ctx context.Context, db *sqlx.DB) RuleResult {
		ok, err := objectExists(ctx, db, "table", rel.child)
		if err != nil {
			return queryFailed(err)
		}
		if !ok {
			if rel.optional {
				return pass("table %s not present", rel.child)
			}
			return fail(SeverityError, "table %s is missing", rel.child)
		}

		n, err := countOrphans(ctx, db, rel)
		if err != nil {
			return queryFailed(err)
		}
		if n > 0 {
			return fail(SeverityError, "%d %s rows reference a missing %s row", n, rel.child, rel.parent)
		}
		return pass("no orphaned %s rows", rel.child)
	}
}

// ruleQueryLatency times a representative lookup against the configured
// budget. Slow queries are a warning, they never block a migration.
func (v *Validator) ruleQueryLatency(ctx context.Context, db *sqlx.DB) RuleResult {
	if v.cfg.QueryTimeLimitMS <= 0 {
		return pass("no query time budget configured")
	}

	start := time.Now()
	_, err := countRows(ctx, db,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = (SELECT id FROM conversations ORDER BY id DESC LIMIT 1)")
	elapsed := time.Since(start)
	if err != nil {
		return queryFailed(err)
	}
	if ms := elapsed.Milliseconds(); ms > int64(v.cfg.QueryTimeLimitMS) {
		return fail(SeverityWarning, "conversation lookup took %dms, budget is %dms", ms, v.cfg.QueryTimeLimitMS)
	}
	return pass("conversation lookup within budget")
}

func ruleIndexPresence(ctx context.Context, db *sqlx.DB) RuleResult {
	var missing []string
	for _, index := range requiredIndexes {
		ok, err := objectExists(ctx, db, "index", index)
		if err != nil {
			return queryFailed(err)
		}
		if !ok {
			missing = append(missing, index)
		}
	}
	if len(missing) > 0 {
		return fail(SeverityWarning, "missing indexes: %s", strings.Join(missing, ", "))
	}
	return pass("all expected indexes present")
}
