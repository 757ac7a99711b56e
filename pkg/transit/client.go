// Package transit is the public façade over the departures API: it
// wires together the feed cache (C4), the static compiler (C6), the
// departure resolver (C7), and the refresh orchestrator (C8) behind a
// small Client interface, the way the teacher's pkg/mta.Client fronts
// its own store and feed manager.
package transit

import (
	"context"
	"log/slog"
	"time"

	"github.com/transitcore/departures-api/internal/feedcache"
	"github.com/transitcore/departures-api/internal/models"
	"github.com/transitcore/departures-api/internal/refresh"
	"github.com/transitcore/departures-api/internal/resolver"
	"github.com/transitcore/departures-api/internal/staticindex"
)

// Client is the public interface for answering departure queries and
// driving bundle refreshes.
type Client interface {
	DeparturesForStation(ctx context.Context, req resolver.Request) ([]models.Departure, error)
	Refresh(ctx context.Context) error
	LastRefreshed() time.Time
}

// Config holds the startup configuration for a local Client.
type Config struct {
	Refresh    refresh.Config
	FeedTTL    time.Duration
	LookupHook resolver.LookupHook
	Logger     *slog.Logger
}

// LocalClient runs the full pipeline in-process: an in-memory
// staticindex.Store, a feedcache.Cache, a resolver.Resolver, and a
// refresh.Orchestrator that keeps the store current.
type LocalClient struct {
	store        *staticindex.Store
	resolver     *resolver.Resolver
	orchestrator *refresh.Orchestrator
}

// NewLocal builds a LocalClient and performs one synchronous initial
// refresh so the first request after startup has data to serve, then,
// if cfg.Refresh.CronSpec is set, starts the cron-scheduled background
// refresh.
func NewLocal(ctx context.Context, cfg Config) (*LocalClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := &staticindex.Store{}
	feeds := feedcache.New(cfg.FeedTTL)

	res := resolver.New(store, feeds)
	res.Logger = logger
	res.Lookup = cfg.LookupHook

	cfg.Refresh.Logger = logger
	orch := refresh.New(cfg.Refresh, store)

	if err := orch.RunOnce(ctx); err != nil {
		return nil, err
	}
	if cfg.Refresh.CronSpec != "" {
		if err := orch.Start(); err != nil {
			return nil, err
		}
	}

	return &LocalClient{store: store, resolver: res, orchestrator: orch}, nil
}

// DeparturesForStation runs departuresForStation (§4.2) against the
// live static index.
func (c *LocalClient) DeparturesForStation(ctx context.Context, req resolver.Request) ([]models.Departure, error) {
	return c.resolver.Resolve(ctx, req)
}

// Refresh triggers an out-of-schedule rebuild, useful for operator
// tooling or tests. It honors the orchestrator's single-flight guard.
func (c *LocalClient) Refresh(ctx context.Context) error {
	return c.orchestrator.RunOnce(ctx)
}

// LastRefreshed reports when the live static index was last published.
func (c *LocalClient) LastRefreshed() time.Time {
	if p := c.store.Load(); p != nil {
		return p.Index.LastRefreshed
	}
	return time.Time{}
}

// Close stops the background refresh schedule.
func (c *LocalClient) Close() {
	c.orchestrator.Stop()
}
