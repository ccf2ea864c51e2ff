package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arencloud/snapkeeper/internal/consolidate"
	"github.com/arencloud/snapkeeper/internal/deletion"
	"github.com/arencloud/snapkeeper/internal/purge"
	"github.com/arencloud/snapkeeper/internal/reclaim"
)

func TestObserve(t *testing.T) {
	r := New()
	r.ObserveImport(consolidate.Result{VolumesRestored: 2, SnapshotsRestored: 5, SkippedForeign: 1, Failures: 1})
	r.ObserveReclaim(reclaim.Summary{TotalVolumes: 5, EmptyVolumes: 1, ExpiredVolumes: 2, ReclaimedSnapshots: 3, DeleteFailures: 1, RemainingVolumes: 3})
	r.ObservePurge(purge.Result{Removed: 7})
	r.ObserveSessions(deletion.ProcessResult{Completed: 1, ObjectsRemoved: 4})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.RecordsRestored.WithLabelValues("volume")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.RecordsRestored.WithLabelValues("snapshot")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.VolumesSkipped.WithLabelValues("foreign")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.VolumesQueued.WithLabelValues("expired")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.VolumesDeleted), "the failed delete is not counted")
	assert.Equal(t, 3.0, testutil.ToFloat64(r.SnapshotsReclaimed))
	assert.Equal(t, 11.0, testutil.ToFloat64(r.ObjectsRemoved))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Failures.WithLabelValues("reclaim")))

	start := time.Unix(1_700_000_000, 0)
	r.FinishRun("reclaim", "ok", start, start.Add(90*time.Second))
	assert.Equal(t, 90.0, testutil.ToFloat64(r.RunDuration.WithLabelValues("reclaim")))
}

func TestPush(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		mu.Lock()
		path, body = req.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New()
	r.ObservePurge(purge.Result{Removed: 1})
	require.NoError(t, r.Push(context.Background(), srv.URL, "snapkeeper", "p1"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/metrics/job/snapkeeper/partner/p1", path)
	assert.NotEmpty(t, body)

	srv.Close()
	err := r.Push(context.Background(), srv.URL, "snapkeeper", "")
	assert.True(t, Error.Has(err))
	assert.True(t, strings.Contains(err.Error(), "push to"))
}
