package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arencloud/snapkeeper/internal/catalog/document"
	"github.com/arencloud/snapkeeper/internal/config"
	"github.com/arencloud/snapkeeper/internal/lock"
	"github.com/arencloud/snapkeeper/internal/logging"
	"github.com/arencloud/snapkeeper/internal/metrics"
	"github.com/arencloud/snapkeeper/internal/partner"
)

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	log := logging.FromZap(zaptest.NewLogger(t))
	repo, err := document.OpenInMemory(log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	cfg := config.Load()
	cfg.DataDir = t.TempDir()
	cfg.SealKeyFile = filepath.Join(cfg.DataDir, "seal.key")
	cfg.MetricsPushURL = ""
	var out bytes.Buffer
	return &app{cfg: cfg, log: log, repo: repo, metrics: metrics.New(), out: &out}, &out
}

func TestRunRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t)

	err := a.run(ctx, "purge", "p1", func(context.Context) (outcome, error) {
		return outcome{summary: map[string]int{"removed": 3}}, nil
	})
	require.NoError(t, err)

	boom := errors.New("bucket unreachable")
	err = a.run(ctx, "reclaim", "p1", func(context.Context) (outcome, error) {
		return outcome{failures: 2}, boom
	})
	assert.ErrorIs(t, err, boom)

	runs, err := a.repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	byCommand := map[string]string{}
	for _, r := range runs {
		byCommand[r.Command] = r.Status
		if r.Command == "purge" {
			assert.JSONEq(t, `{"removed":3}`, r.Summary)
		}
	}
	assert.Equal(t, map[string]string{"purge": statusOK, "reclaim": statusFailed}, byCommand)

	l, err := lock.Acquire(a.cfg.DataDir, "p1")
	require.NoError(t, err, "run releases the partner lock")
	require.NoError(t, l.Release())
}

func TestRunFailsWhenPartnerLocked(t *testing.T) {
	a, _ := newTestApp(t)
	l, err := lock.Acquire(a.cfg.DataDir, "p1")
	require.NoError(t, err)
	defer func() { _ = l.Release() }()

	called := false
	err = a.run(context.Background(), "reclaim", "p1", func(context.Context) (outcome, error) {
		called = true
		return outcome{}, nil
	})
	assert.True(t, lock.ErrLocked.Has(err))
	assert.False(t, called)
}

func TestRunStatus(t *testing.T) {
	assert.Equal(t, statusOK, runStatus(0, nil))
	assert.Equal(t, statusPartial, runStatus(1, nil))
	assert.Equal(t, statusFailed, runStatus(0, errors.New("x")))
}

func TestFillParams(t *testing.T) {
	origAsk, origSecret := ask, askSecret
	t.Cleanup(func() { ask, askSecret = origAsk, origSecret })
	var asked []string
	ask = func(p string, _ ...interface{}) string { asked = append(asked, p); return "v-" + p }
	askSecret = func(p string, _ ...interface{}) string { asked = append(asked, p); return "secret" }

	p := partner.Params{Endpoint: "s3.local", Provider: "aws"}
	require.NoError(t, fillParams(&p, false))
	assert.Equal(t, []string{"Access Key", "Secret Key", "Bucket"}, asked)
	assert.Equal(t, "secret", p.SecretKey)
	assert.Equal(t, "v-Bucket", p.Bucket)

	err := fillParams(&partner.Params{Endpoint: "s3.local"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Access Key")
}

func TestReclaimAbortsWithoutConfirmation(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t)
	reg, err := a.registry()
	require.NoError(t, err)
	p, err := reg.Register(ctx, partner.Params{Endpoint: "127.0.0.1:1", AccessKey: "ak", SecretKey: "sk", Bucket: "b", Provider: "minio"})
	require.NoError(t, err)

	origConfirm := confirm
	t.Cleanup(func() { confirm = origConfirm })
	var question string
	confirm = func(q string, args ...interface{}) bool { question = q; return false }

	require.NoError(t, a.runReclaim(ctx, reclaimOptions{partnerID: p.ID, days: 30}, time.Now()))
	assert.True(t, strings.HasPrefix(question, "Deleting snapshots older than"))
	assert.Contains(t, out.String(), "Aborted")

	runs, err := a.repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestOpenCatalogRejectsUnknownDriver(t *testing.T) {
	cfg := config.Load()
	cfg.CatalogDriver = "etcd"
	_, err := openCatalog(cfg, logging.Nop())
	require.Error(t, err)

	cfg.CatalogDriver = "relational"
	cfg.DBDriver = "sqlite"
	cfg.DBPath = filepath.Join(t.TempDir(), "c.db")
	repo, err := openCatalog(cfg, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Close())
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"import"}, {"reclaim"}, {"purge"}, {"sessions", "list"}, {"sessions", "process"}, {"history"}, {"version"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "snapkeeper "))
}
