// Package metrics provides the in-process Prometheus registry for migration
// runs. Nothing is exposed over the network; the registry is gathered once at
// the end of a run and dumped into the diagnostics report.
package metrics

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Recorder bundles all migration metric collectors behind one registry.
// All recording methods are safe on a nil receiver so metrics stay optional.
type Recorder struct {
	registry *prometheus.Registry

	phaseTotal       *prometheus.CounterVec
	phaseDuration    *prometheus.HistogramVec
	errorsTotal      *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	recordsMigrated  *prometheus.CounterVec
	backupsTotal     *prometheus.CounterVec
	backupBytesTotal prometheus.Counter
	validationIssues *prometheus.CounterVec
	progressPercent  prometheus.Gauge

	collectors []prometheus.Collector
}

// NewRecorder creates a Recorder with its own private registry.
func NewRecorder() (*Recorder, error) {
	r := &Recorder{registry: prometheus.NewRegistry()}
	r.initMetrics()
	if err := r.registry.Register(r); err != nil {
		return nil, fmt.Errorf("failed to register migration metrics: %w", err)
	}
	return r, nil
}

func (r *Recorder) initMetrics() {
	r.phaseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_phase_total",
			Help: "Total number of completed migration phases",
		},
		[]string{"phase", "status"}, // status: success, error, skipped
	)

	r.phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migrate_phase_duration_seconds",
			Help:    "Time taken per migration phase",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"phase"},
	)

	r.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_errors_total",
			Help: "Total number of classified migration errors",
		},
		[]string{"kind", "phase"},
	)

	r.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_retries_total",
			Help: "Total number of automatic retries",
		},
		[]string{"kind", "phase"},
	)

	r.recordsMigrated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_records_total",
			Help: "Total number of records copied into the unified store",
		},
		[]string{"table"},
	)

	r.backupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_backups_total",
			Help: "Total number of backup operations",
		},
		[]string{"status"}, // status: created, verified, failed, removed
	)

	r.backupBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "migrate_backup_bytes_total",
			Help: "Total number of bytes written to backup files",
		},
	)

	r.validationIssues = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrate_validation_issues_total",
			Help: "Total number of validation and integrity issues found",
		},
		[]string{"severity"},
	)

	r.progressPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "migrate_progress_percent",
			Help: "Progress of the current migration run",
		},
	)

	r.collectors = []prometheus.Collector{
		r.phaseTotal,
		r.phaseDuration,
		r.errorsTotal,
		r.retriesTotal,
		r.recordsMigrated,
		r.backupsTotal,
		r.backupBytesTotal,
		r.validationIssues,
		r.progressPercent,
	}
}

// Describe implements the Collector interface.
func (r *Recorder) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range r.collectors {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface.
func (r *Recorder) Collect(ch chan<- prometheus.Metric) {
	for _, c := range r.collectors {
		c.Collect(ch)
	}
}

// RecordPhase records a finished phase with its outcome.
func (r *Recorder) RecordPhase(phase, status string) {
	if r == nil {
		return
	}
	r.phaseTotal.WithLabelValues(phase, status).Inc()
}

// RecordPhaseDuration records the time a phase took in seconds.
func (r *Recorder) RecordPhaseDuration(phase string, seconds float64) {
	if r == nil {
		return
	}
	r.phaseDuration.WithLabelValues(phase).Observe(seconds)
}

// RecordError records a classified error by kind and phase.
func (r *Recorder) RecordError(kind, phase string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(kind, phase).Inc()
}

// RecordRetry records an automatic retry by kind and phase.
func (r *Recorder) RecordRetry(kind, phase string) {
	if r == nil {
		return
	}
	r.retriesTotal.WithLabelValues(kind, phase).Inc()
}

// RecordRecords adds migrated record counts for a table.
func (r *Recorder) RecordRecords(table string, count int64) {
	if r == nil {
		return
	}
	r.recordsMigrated.WithLabelValues(table).Add(float64(count))
}

// RecordBackup records a backup operation outcome.
func (r *Recorder) RecordBackup(status string) {
	if r == nil {
		return
	}
	r.backupsTotal.WithLabelValues(status).Inc()
}

// AddBackupBytes adds bytes written during backup copies.
func (r *Recorder) AddBackupBytes(n int64) {
	if r == nil {
		return
	}
	r.backupBytesTotal.Add(float64(n))
}

// RecordValidationIssue records a validation or integrity issue.
func (r *Recorder) RecordValidationIssue(severity string) {
	if r == nil {
		return
	}
	r.validationIssues.WithLabelValues(severity).Inc()
}

// SetProgress updates the progress gauge.
func (r *Recorder) SetProgress(percent int) {
	if r == nil {
		return
	}
	r.progressPercent.Set(float64(percent))
}

// Export renders every metric family in the Prometheus text format, for
// inclusion in diagnostics reports.
func (r *Recorder) Export() (string, error) {
	if r == nil {
		return "", nil
	}
	families, err := r.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, fam := range families {
		if err := enc.Encode(fam); err != nil {
			return "", fmt.Errorf("failed to encode metric family %q: %w", fam.GetName(), err)
		}
	}
	return buf.String(), nil
}
