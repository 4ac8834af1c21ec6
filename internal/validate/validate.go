// Package validate checks the unified database after (and optionally
// before) a migration run. Two independent passes exist: Validate runs
// named rules from a registry, CheckIntegrity counts rows, orphans and
// duplicate keys without consulting the registry.
package validate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/inkwellhq/inkwell-migrate/internal/conf"
	"github.com/inkwellhq/inkwell-migrate/internal/logging"
	"github.com/inkwellhq/inkwell-migrate/internal/metrics"
)

// Category groups rules so callers can run a subset.
type Category string

const (
	CategoryStructure     Category = "structure"
	CategoryData          Category = "data"
	CategoryRelationships Category = "relationships"
	CategoryPerformance   Category = "performance"
)

// Severity grades a failed rule. Only error-severity failures make the
// report invalid.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// RuleFunc executes one check against a live connection.
type RuleFunc func(ctx context.Context, db *sqlx.DB) RuleResult

// Rule is a named, categorized check. Severity is the default grade for a
// failure; the rule function may override it per result.
type Rule struct {
	Name     string
	Category Category
	Severity Severity
	Fn       RuleFunc
}

// RuleResult is the outcome of a single rule.
type RuleResult struct {
	Rule     string   `json:"rule"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Passed   bool     `json:"passed"`
	Message  string   `json:"message"`
}

// Report aggregates one validation pass. Failed results land in Errors or
// Warnings by severity; passed and info-severity results land in Info.
type Report struct {
	IsValid  bool         `json:"is_valid"`
	Errors   []RuleResult `json:"errors"`
	Warnings []RuleResult `json:"warnings"`
	Info     []RuleResult `json:"info"`
	Summary  string       `json:"summary"`
}

// Validator runs rules against one unified database connection.
type Validator struct {
	db       *sqlx.DB
	cfg      conf.ValidationSettings
	rules    []Rule
	expected map[string]int64
	metrics  *metrics.Recorder
	log      *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithMetrics wires a metrics recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(v *Validator) { v.metrics = rec }
}

// New builds a Validator seeded with the built-in rules for the unified
// schema.
func New(db *sqlx.DB, cfg conf.ValidationSettings, log *slog.Logger, opts ...Option) *Validator {
	if log == nil {
		log = logging.ForService("validate")
	}
	v := &Validator{db: db, cfg: cfg, log: log}
	for _, opt := range opts {
		opt(v)
	}
	v.rules = v.builtinRules()
	return v
}

// Register appends caller-supplied rules to the registry.
func (v *Validator) Register(rules ...Rule) {
	v.rules = append(v.rules, rules...)
}

// SetExpectedCounts records per-table row counts the row-counts rule
// compares against, typically the totals the data transfer reported.
func (v *Validator) SetExpectedCounts(counts map[string]int64) {
	v.expected = counts
}

// Validate runs the registered rules sequentially. With no categories every
// rule runs; otherwise only rules in the given categories. A rule crashing
// becomes an error-severity result instead of aborting the pass.
func (v *Validator) Validate(ctx context.Context, categories ...Category) *Report {
	wanted := make(map[Category]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}
	skipped := make(map[string]bool, len(v.cfg.Skip))
	for _, name := range v.cfg.Skip {
		skipped[name] = true
	}

	report := &Report{}
	run, passed := 0, 0
	for _, rule := range v.rules {
		if len(wanted) > 0 && !wanted[rule.Category] {
			continue
		}
		if skipped[rule.Name] {
			v.log.Debug("validation rule skipped by config", "rule", rule.Name)
			continue
		}

		res := v.runRule(ctx, rule)
		run++
		if res.Passed {
			passed++
			report.Info = append(report.Info, res)
			continue
		}

		v.metrics.RecordValidationIssue(string(res.Severity))
		v.log.Warn("validation rule failed",
			"rule", res.Rule, "severity", res.Severity, "message", res.Message)
		switch res.Severity {
		case SeverityError:
			report.Errors = append(report.Errors, res)
		case SeverityWarning:
			report.Warnings = append(report.Warnings, res)
		default:
			report.Info = append(report.Info, res)
		}
	}

	report.IsValid = len(report.Errors) == 0
	report.Summary = fmt.Sprintf("%d rules run: %d passed, %d warnings, %d errors",
		run, passed, len(report.Warnings), len(report.Errors))
	return report
}

// runRule executes one rule, normalizing the result and converting a panic
// into an error-severity failure so one bad rule cannot block the rest.
func (v *Validator) runRule(ctx context.Context, rule Rule) (res RuleResult) {
	defer func() {
		if r := recover(); r != nil {
			res = RuleResult{
				Passed:  false,
				Message: fmt.Sprintf("rule crashed: %v", r),
			}
			res.Severity = SeverityError
			res.Rule = rule.Name
			res.Category = rule.Category
		}
	}()

	res = rule.Fn(ctx, v.db)
	res.Rule = rule.Name
	res.Category = rule.Category
	if res.Severity == "" {
		res.Severity = rule.Severity
	}
	if res.Severity == "" {
		res.Severity = SeverityError
	}
	return res
}
