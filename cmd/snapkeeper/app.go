package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/go-prompt"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/arencloud/snapkeeper/internal/catalog"
	"github.com/arencloud/snapkeeper/internal/catalog/document"
	"github.com/arencloud/snapkeeper/internal/catalog/relational"
	"github.com/arencloud/snapkeeper/internal/config"
	"github.com/arencloud/snapkeeper/internal/layout"
	"github.com/arencloud/snapkeeper/internal/lock"
	"github.com/arencloud/snapkeeper/internal/logging"
	"github.com/arencloud/snapkeeper/internal/metrics"
	"github.com/arencloud/snapkeeper/internal/models"
	"github.com/arencloud/snapkeeper/internal/objectstore"
	"github.com/arencloud/snapkeeper/internal/partner"
)

// Interactive input, replaced in tests.
var (
	confirm   = prompt.Confirm
	ask       = prompt.StringRequired
	askSecret = prompt.Password
)

// Run statuses.
const (
	statusOK      = "ok"
	statusPartial = "partial"
	statusFailed  = "failed"
)

// app is the per-invocation wiring shared by every command.
type app struct {
	cfg     *config.Config
	log     logging.Logger
	repo    catalog.Repository
	metrics *metrics.Recorder
	out     io.Writer
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Load(), nil
	}
	return config.LoadFile(cfgFile)
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log := logging.New(cfg.Env, cfg.LogLevel, cfg.LogJSON)
	repo, err := openCatalog(cfg, log)
	if err != nil {
		logging.Sync(log)
		return nil, err
	}
	return &app{cfg: cfg, log: log, repo: repo, metrics: metrics.New(), out: cmd.OutOrStdout()}, nil
}

// openCatalog opens the catalog variant named by the configuration.
func openCatalog(cfg *config.Config, log logging.Logger) (catalog.Repository, error) {
	switch cfg.CatalogDriver {
	case "", "document":
		return document.Open(cfg.CatalogPath, log.Named("catalog"))
	case "relational":
		return relational.Open(relational.Config{
			Driver:   cfg.DBDriver,
			DSN:      cfg.DBDsn,
			Path:     cfg.DBPath,
			LogLevel: cfg.LogLevel,
		}, log.Named("catalog"))
	default:
		return nil, fmt.Errorf("unknown catalog driver %q (want document or relational)", cfg.CatalogDriver)
	}
}

func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		a.log.Warn("close catalog", "error", err)
	}
	logging.Sync(a.log)
}

func (a *app) printf(format string, args ...any) { fmt.Fprintf(a.out, format+"\n", args...) }

func (a *app) registry() (*partner.Registry, error) {
	path := a.cfg.SealKeyFile
	if path == "" {
		path = filepath.Join(a.cfg.DataDir, "seal.key")
	}
	sealer, err := partner.LoadSealer(path)
	if err != nil {
		return nil, err
	}
	return partner.NewRegistry(a.repo, sealer, a.log.Named("partner")), nil
}

// session is a resolved partner with everything a command needs to act on it.
type session struct {
	partner *models.Partner
	target  models.Target
	layout  layout.Layout
	store   objectstore.Client
}

func (a *app) resolve(ctx context.Context, partnerID string, archive bool) (*session, error) {
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	p, err := reg.Resolve(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	return a.bind(reg, p, archive || p.Archive)
}

func (a *app) bind(reg *partner.Registry, p *models.Partner, archive bool) (*session, error) {
	store, err := reg.Client(p)
	if err != nil {
		return nil, err
	}
	return &session{
		partner: p,
		target:  models.Target{PartnerID: p.ID, Archive: archive},
		layout:  layout.For(a.cfg, archive),
		store:   store,
	}, nil
}

// outcome is what a command body reports back to run.
type outcome struct {
	summary  any
	failures int
}

// run executes body under the partner lock and records the run in the catalog,
// in the metrics and on stdout. The record is written even when body fails.
func (a *app) run(ctx context.Context, command, partnerID string, body func(context.Context) (outcome, error)) (err error) {
	if partnerID != "" {
		l, lErr := lock.Acquire(a.cfg.DataDir, partnerID)
		if lErr != nil {
			return lErr
		}
		defer func() { err = errs.Combine(err, l.Release()) }()
	}

	started := time.Now().UTC()
	res, bodyErr := body(ctx)
	ended := time.Now().UTC()

	status := runStatus(res.failures, bodyErr)
	rec := &models.Run{
		ID:        uuid.NewString(),
		Command:   command,
		PartnerID: partnerID,
		Status:    status,
		Failures:  res.failures,
		Started:   started,
		Ended:     ended,
	}
	if res.summary != nil {
		b, mErr := json.Marshal(res.summary)
		if mErr != nil {
			a.log.Warn("encode run summary", "error", mErr)
		}
		rec.Summary = string(b)
	}
	if bodyErr != nil {
		a.log.Error(command+" failed", "partner", partnerID, "error", bodyErr)
	}
	if sErr := a.repo.SaveRun(ctx, rec); sErr != nil {
		a.log.Warn("save run record", "error", sErr)
	}

	a.metrics.FinishRun(command, status, started, ended)
	if a.cfg.MetricsPushURL != "" {
		if pErr := a.metrics.Push(ctx, a.cfg.MetricsPushURL, "snapkeeper_"+command, partnerID); pErr != nil {
			a.log.Warn("push metrics", "error", pErr)
		}
	}
	a.log.Info(command+" finished", "partner", partnerID, "status", status, "failures", res.failures,
		"duration", ended.Sub(started).String())
	return bodyErr
}

func runStatus(failures int, err error) string {
	switch {
	case err != nil:
		return statusFailed
	case failures > 0:
		return statusPartial
	default:
		return statusOK
	}
}
