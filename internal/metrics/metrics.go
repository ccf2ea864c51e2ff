// Package metrics holds the run counters of snapkeeper and pushes them to a
// Prometheus Pushgateway when one is configured.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/zeebo/errs"

	"github.com/arencloud/snapkeeper/internal/consolidate"
	"github.com/arencloud/snapkeeper/internal/deletion"
	"github.com/arencloud/snapkeeper/internal/purge"
	"github.com/arencloud/snapkeeper/internal/reclaim"
)

var Error = errs.Class("metrics")

// Recorder owns a private registry so every run pushes only its own series.
type Recorder struct {
	Registry *prometheus.Registry

	RecordsRestored    *prometheus.CounterVec // snapkeeper_records_restored_total{kind}
	VolumesSkipped     *prometheus.CounterVec // snapkeeper_volumes_skipped_total{reason}
	VolumesQueued      *prometheus.CounterVec // snapkeeper_volumes_queued_total{class}
	VolumesDeleted     prometheus.Counter
	SnapshotsReclaimed prometheus.Counter
	SessionsProcessed  *prometheus.CounterVec // snapkeeper_sessions_processed_total{state}
	ObjectsRemoved     prometheus.Counter
	Failures           *prometheus.CounterVec // snapkeeper_failures_total{command}
	LastRun            *prometheus.GaugeVec   // snapkeeper_last_run_timestamp_seconds{command,status}
	RunDuration        *prometheus.GaugeVec   // snapkeeper_run_duration_seconds{command}
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		Registry: reg,
		RecordsRestored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snapkeeper_records_restored_total",
			Help: "Catalog records inserted or updated by import",
		}, []string{"kind"}),
		VolumesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snapkeeper_volumes_skipped_total",
			Help: "Volume namespaces skipped by import",
		}, []string{"reason"}),
		VolumesQueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snapkeeper_volumes_queued_total",
			Help: "Volumes queued for deletion by reclaim, by classification",
		}, []string{"class"}),
		VolumesDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "snapkeeper_volumes_deleted_total",
			Help: "Volumes removed by the reclaim delete phase",
		}),
		SnapshotsReclaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "snapkeeper_snapshots_reclaimed_total",
			Help: "Expired snapshots for which deletion was requested",
		}),
		SessionsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snapkeeper_sessions_processed_total",
			Help: "Deletion sessions processed, by outcome",
		}, []string{"state"}),
		ObjectsRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "snapkeeper_objects_removed_total",
			Help: "Bucket objects removed by purge and session processing",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snapkeeper_failures_total",
			Help: "Per-unit failures absorbed by a run",
		}, []string{"command"}),
		LastRun: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "snapkeeper_last_run_timestamp_seconds",
			Help: "End time of the last run",
		}, []string{"command", "status"}),
		RunDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "snapkeeper_run_duration_seconds",
			Help: "Duration of the last run",
		}, []string{"command"}),
	}
}

func (r *Recorder) ObserveImport(res consolidate.Result) {
	r.RecordsRestored.WithLabelValues("volume").Add(float64(res.VolumesRestored))
	r.RecordsRestored.WithLabelValues("snapshot").Add(float64(res.SnapshotsRestored))
	r.RecordsRestored.WithLabelValues("tag").Add(float64(res.TagsRestored))
	r.RecordsRestored.WithLabelValues("option").Add(float64(res.OptionsRestored))
	r.VolumesSkipped.WithLabelValues("foreign").Add(float64(res.SkippedForeign))
	r.VolumesSkipped.WithLabelValues("unstaged").Add(float64(res.SkippedUnstaged))
	r.Failures.WithLabelValues("import").Add(float64(res.Failures))
}

func (r *Recorder) ObserveReclaim(sum reclaim.Summary) {
	r.VolumesQueued.WithLabelValues("empty").Add(float64(sum.EmptyVolumes))
	r.VolumesQueued.WithLabelValues("expired").Add(float64(sum.ExpiredVolumes))
	r.VolumesDeleted.Add(float64(sum.TotalVolumes - sum.RemainingVolumes))
	r.SnapshotsReclaimed.Add(float64(sum.ReclaimedSnapshots))
	r.Failures.WithLabelValues("reclaim").Add(float64(sum.Failures()))
}

func (r *Recorder) ObservePurge(res purge.Result) {
	r.ObjectsRemoved.Add(float64(res.Removed))
}

func (r *Recorder) ObserveSessions(res deletion.ProcessResult) {
	r.SessionsProcessed.WithLabelValues("completed").Add(float64(res.Completed))
	r.SessionsProcessed.WithLabelValues("failed").Add(float64(res.Failed))
	r.ObjectsRemoved.Add(float64(res.ObjectsRemoved))
	r.Failures.WithLabelValues("sessions").Add(float64(res.Failed))
}

// FinishRun records the end of a command run.
func (r *Recorder) FinishRun(command, status string, started, ended time.Time) {
	r.LastRun.WithLabelValues(command, status).Set(float64(ended.Unix()))
	r.RunDuration.WithLabelValues(command).Set(ended.Sub(started).Seconds())
}

// Push sends the registry to the Pushgateway at url under job, grouped by
// partner when one is given.
func (r *Recorder) Push(ctx context.Context, url, job, partnerID string) error {
	p := push.New(url, job).Gatherer(r.Registry)
	if partnerID != "" {
		p = p.Grouping("partner", partnerID)
	}
	if err := p.PushContext(ctx); err != nil {
		return Error.New("push to %s: %v", url, err)
	}
	return nil
}
