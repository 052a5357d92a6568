// Package app wires the daemon: store, reconciliation engine, summary
// aggregator, retention scheduler and the ops HTTP server.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"chatsync/internal/retention"
	"chatsync/pkg/banner"
	"chatsync/pkg/client"
	"chatsync/pkg/config"
	"chatsync/pkg/engine"
	"chatsync/pkg/store"
	"chatsync/pkg/summary"
	"chatsync/pkg/transport"
)

// App encapsulates the daemon components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	store  *store.Store
	engine *engine.Engine
	agg    *summary.Aggregator
	client *client.Client
	srv    *http.Server
}

// New opens the store and builds the component graph against the given
// transport. It does not start anything; call Run to start and block until
// shutdown.
func New(eff config.EffectiveConfigResult, remote transport.Transport, media transport.MediaStore, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	st, err := store.Open(eff.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	sc := eff.Config.Sync
	eng := engine.New(st, remote, engine.Options{
		SelfUserID:    sc.SelfUserID,
		SendTimeout:   sc.SendTimeout.Duration(),
		PullTimeout:   sc.PullTimeout.Duration(),
		RateRPS:       sc.Rate.RPS,
		RateBurst:     sc.Rate.Burst,
		QueueCapacity: sc.Queue.Capacity,
		Media:         media,
	})
	agg := summary.New(st, sc.SelfUserID)
	cl := client.New(st, eng, agg)

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		store:     st,
		engine:    eng,
		agg:       agg,
		client:    cl,
	}, nil
}

// Store exposes the local store, mainly for tooling and tests.
func (a *App) Store() *store.Store { return a.store }

// Client exposes the facade the rendering layer uses.
func (a *App) Client() *client.Client { return a.client }

// Run starts the engine worker, the retention scheduler and the ops HTTP
// server, then blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.engine.Start(ctx)

	stopRetention, err := retention.Start(ctx, a.store, a.eff.Config.Retention)
	if err != nil {
		return err
	}
	defer stopRetention()

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.stopHTTP()
		return a.store.Close()
	case err := <-errCh:
		_ = a.store.Close()
		return err
	}
}

func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}
