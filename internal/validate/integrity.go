package validate

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// IssueType names the class of an integrity finding.
type IssueType string

const (
	IssueOrphaned     IssueType = "orphaned"
	IssueDuplicate    IssueType = "duplicate"
	IssueInaccessible IssueType = "inaccessible"
)

// IssueSeverity grades an integrity finding.
type IssueSeverity string

const (
	IssueCritical IssueSeverity = "critical"
	IssueMajor    IssueSeverity = "major"
	IssueMinor    IssueSeverity = "minor"
)

// Issue is one integrity finding.
type Issue struct {
	Type            IssueType     `json:"type"`
	Table           string        `json:"table"`
	Description     string        `json:"description"`
	AffectedRecords int64         `json:"affected_records"`
	Severity        IssueSeverity `json:"severity"`
}

// IntegrityReport is the outcome of CheckIntegrity. Statistics holds row
// counts per readable table.
type IntegrityReport struct {
	IsValid    bool             `json:"is_valid"`
	Issues     []Issue          `json:"issues"`
	Statistics map[string]int64 `json:"statistics"`
}

// relationship declares an application-level foreign key. The schema
// carries no FOREIGN KEY constraints, so orphans are possible and must be
// counted here.
type relationship struct {
	child     string
	childKey  string
	parent    string
	parentKey string
	optional  bool
}

var (
	relMessages   = relationship{child: "messages", childKey: "conversation_id", parent: "conversations", parentKey: "id"}
	relChunks     = relationship{child: "chunks", childKey: "document_id", parent: "documents", parentKey: "id"}
	relEmbeddings = relationship{child: "chunk_embeddings", childKey: "chunk_id", parent: "chunks", parentKey: "id", optional: true}
)

var relationships = []relationship{relMessages, relChunks, relEmbeddings}

// uniqueKey declares a column set expected to be unique per table even
// though no UNIQUE constraint enforces it.
type uniqueKey struct {
	table   string
	columns string
}

// A document's chunks are ordered by seq; two chunks sharing a slot means
// the merge double-imported.
var uniqueKeys = []uniqueKey{
	{table: "chunks", columns: "document_id, seq"},
}

func severityFor(t IssueType) IssueSeverity {
	switch t {
	case IssueInaccessible:
		return IssueCritical
	case IssueOrphaned, IssueDuplicate:
		return IssueMajor
	default:
		return IssueMinor
	}
}

func countOrphans(ctx context.Context, db *sqlx.DB, rel relationship) (int64, error) {
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s child WHERE NOT EXISTS (SELECT 1 FROM %s parent WHERE parent.%s = child.%s)",
		rel.child, rel.parent, rel.parentKey, rel.childKey)
	return countRows(ctx, db, query)
}

func countDuplicateGroups(ctx context.Context, db *sqlx.DB, key uniqueKey) (int64, error) {
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) AS dup",
		key.columns, key.table, key.columns)
	return countRows(ctx, db, query)
}

// CheckIntegrity runs independently of the rule registry: it counts rows
// per table, orphaned child rows per declared relationship and duplicate
// key groups per declared unique key. Orphans and duplicates are major,
// an unreadable table is critical; minor issues never invalidate the
// report.
func (v *Validator) CheckIntegrity(ctx context.Context) *IntegrityReport {
	report := &IntegrityReport{Statistics: make(map[string]int64)}

	tables := make([]string, 0, len(requiredTables)+1)
	tables = append(tables, requiredTables...)
	if ok, err := objectExists(ctx, v.db, "table", "chunk_embeddings"); err == nil && ok {
		tables = append(tables, "chunk_embeddings")
	}

	readable := make(map[string]bool, len(tables))
	for _, table := range tables {
		n, err := countRows(ctx, v.db, "SELECT COUNT(*) FROM "+table)
		if err != nil {
			report.Issues = append(report.Issues, Issue{
				Type:        IssueInaccessible,
				Table:       table,
				Description: fmt.Sprintf("table %s cannot be read: %v", table, err),
				Severity:    severityFor(IssueInaccessible),
			})
			continue
		}
		readable[table] = true
		report.Statistics[table] = n
	}

	for _, rel := range relationships {
		if !readable[rel.child] || !readable[rel.parent] {
			continue
		}
		n, err := countOrphans(ctx, v.db, rel)
		if err != nil {
			report.Issues = append(report.Issues, Issue{
				Type:        IssueInaccessible,
				Table:       rel.child,
				Description: fmt.Sprintf("orphan scan of %s failed: %v", rel.child, err),
				Severity:    severityFor(IssueInaccessible),
			})
			continue
		}
		if n > 0 {
			report.Issues = append(report.Issues, Issue{
				Type:            IssueOrphaned,
				Table:           rel.child,
				Description:     fmt.Sprintf("%d %s rows reference a missing %s row", n, rel.child, rel.parent),
				AffectedRecords: n,
				Severity:        severityFor(IssueOrphaned),
			})
		}
	}

	for _, key := range uniqueKeys {
		if !readable[key.table] {
			continue
		}
		n, err := countDuplicateGroups(ctx, v.db, key)
		if err != nil {
			report.Issues = append(report.Issues, Issue{
				Type:        IssueInaccessible,
				Table:       key.table,
				Description: fmt.Sprintf("duplicate scan of %s failed: %v", key.table, err),
				Severity:    severityFor(IssueInaccessible),
			})
			continue
		}
		if n > 0 {
			report.Issues = append(report.Issues, Issue{
				Type:            IssueDuplicate,
				Table:           key.table,
				Description:     fmt.Sprintf("%d duplicate (%s) groups in %s", n, key.columns, key.table),
				AffectedRecords: n,
				Severity:        severityFor(IssueDuplicate),
			})
		}
	}

	report.IsValid = true
	for _, issue := range report.Issues {
		v.metrics.RecordValidationIssue(string(issue.Severity))
		if issue.Severity == IssueCritical || issue.Severity == IssueMajor {
			report.IsValid = false
		}
	}
	return report
}
