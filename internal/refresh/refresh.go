// Package refresh implements the refresh orchestrator (C8): on a
// cron schedule it downloads each sub-system's static GTFS zip to a
// temp directory, atomically swaps it into that system's bundle
// directory, and — only if every sub-system's download/swap
// succeeded — triggers a static-index rebuild and publish. Concurrent
// invocations are rejected; a failed refresh never touches the live
// index. Sub-systems are swapped one after another, so a bundle
// directory swapped before a later sub-system fails keeps its new
// contents.
package refresh

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/transitcore/departures-api/internal/models"
	"github.com/transitcore/departures-api/internal/staticindex"
	"github.com/transitcore/departures-api/internal/sysconfig"
)

// BundleSource names the static-zip URL for one sub-system.
type BundleSource struct {
	StaticZipURL string
}

// Config configures one Orchestrator.
type Config struct {
	Sources            map[models.System]BundleSource
	DataDir            string // bundles land at DataDir/{system}/
	StationDetailsPath string // curated subway station CSV; not swapped, read in place
	GeoFilePath        string // borough-polygon GeoJSON; not swapped, read in place
	GeoBoroughProperty string // GeoJSON feature property holding the borough name
	CronSpec           string // per-operator cron expression
	Logger             *slog.Logger
}

// Orchestrator owns the download/unpack/atomic-swap/rebuild cycle and
// publishes successful rebuilds to a shared staticindex.Store.
type Orchestrator struct {
	cfg    Config
	store  *staticindex.Store
	client *http.Client
	cron   *cron.Cron
	logger *slog.Logger

	running atomic.Bool
}

// New builds an Orchestrator that publishes to store. Call Start to
// begin the cron-scheduled refresh loop, or RunOnce to trigger a
// single synchronous refresh (used for the initial load at process
// start, before the cron schedule has fired once).
func New(cfg Config, store *staticindex.Store) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: 5 * time.Minute},
		logger: logger,
	}
}

// Start schedules RunOnce on the configured cron expression and
// returns once the schedule is registered. It does not block.
func (o *Orchestrator) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(o.cfg.CronSpec, func() {
		if err := o.RunOnce(context.Background()); err != nil {
			o.logger.Error("scheduled refresh failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("registering refresh cron %q: %w", o.cfg.CronSpec, err)
	}
	o.cron = c
	c.Start()
	return nil
}

// Stop halts the cron schedule. A refresh already in flight is
// allowed to finish.
func (o *Orchestrator) Stop() {
	if o.cron != nil {
		ctx := o.cron.Stop()
		<-ctx.Done()
	}
}

// RunOnce performs one download/unpack/swap/rebuild cycle. If another
// RunOnce is already in flight, it returns immediately without error,
// per §4.5/§5's single-invocation guarantee.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Info("refresh already in progress, skipping")
		return nil
	}
	defer o.running.Store(false)

	bundlePaths := map[models.System]staticindex.BundlePaths{}
	for sys, src := range o.cfg.Sources {
		paths, err := o.downloadAndSwap(ctx, sys, src)
		if err != nil {
			return fmt.Errorf("refreshing %s bundle: %w", sys, err)
		}
		bundlePaths[sys] = paths
	}

	published, err := staticindex.Build(ctx, staticindex.Sources{
		Bundles:            bundlePaths,
		StationDetailsPath: o.cfg.StationDetailsPath,
		GeoFilePath:        o.cfg.GeoFilePath,
		GeoBoroughProperty: o.cfg.GeoBoroughProperty,
	}, sysconfig.Table, o.logger)
	if err != nil {
		return fmt.Errorf("rebuilding static index: %w", err)
	}

	o.store.Publish(published)
	o.logger.Info("static index rebuilt and published", "last_refreshed", published.Index.LastRefreshed)
	return nil
}

// downloadAndSwap downloads one sub-system's zip to a scratch
// directory, extracts it to a staging directory, and renames staging
// over the live bundle directory only once extraction has fully
// succeeded — a failure at any earlier step leaves the live directory
// untouched.
func (o *Orchestrator) downloadAndSwap(ctx context.Context, sys models.System, src BundleSource) (staticindex.BundlePaths, error) {
	sysDir := strings.ToLower(string(sys))
	liveDir := filepath.Join(o.cfg.DataDir, sysDir)
	stagingDir := liveDir + ".staging"
	zipPath := filepath.Join(o.cfg.DataDir, sysDir+".zip")

	if err := os.MkdirAll(o.cfg.DataDir, 0o755); err != nil {
		return staticindex.BundlePaths{}, err
	}
	if err := downloadFile(ctx, o.client, src.StaticZipURL, zipPath); err != nil {
		return staticindex.BundlePaths{}, fmt.Errorf("downloading %s: %w", src.StaticZipURL, err)
	}
	defer os.Remove(zipPath)

	if err := os.RemoveAll(stagingDir); err != nil {
		return staticindex.BundlePaths{}, err
	}
	if err := extractZip(zipPath, stagingDir); err != nil {
		return staticindex.BundlePaths{}, fmt.Errorf("extracting %s: %w", zipPath, err)
	}

	if err := os.RemoveAll(liveDir); err != nil {
		return staticindex.BundlePaths{}, err
	}
	if err := os.Rename(stagingDir, liveDir); err != nil {
		return staticindex.BundlePaths{}, fmt.Errorf("swapping in %s: %w", liveDir, err)
	}

	return bundlePathsIn(liveDir), nil
}

func bundlePathsIn(dir string) staticindex.BundlePaths {
	return staticindex.BundlePaths{
		RoutesPath:        filepath.Join(dir, "routes.txt"),
		StopsPath:         filepath.Join(dir, "stops.txt"),
		TripsPath:         filepath.Join(dir, "trips.txt"),
		StopTimesPath:     filepath.Join(dir, "stop_times.txt"),
		CalendarPath:      filepath.Join(dir, "calendar.txt"),
		CalendarDatesPath: filepath.Join(dir, "calendar_dates.txt"),
		NotesPath:         filepath.Join(dir, "notes.txt"),
	}
}

func downloadFile(ctx context.Context, client *http.Client, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}

// extractZip extracts src into dest, which must not already exist.
// Entries whose name would escape dest (a zip-slip attempt) are
// rejected rather than silently skipped.
func extractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	for _, f := range r.File {
		path := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(path, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("zip entry %q escapes extraction directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, f.FileInfo().Mode()); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}

		if err := extractOne(f, path); err != nil {
			return err
		}
	}
	return nil
}

func extractOne(f *zip.File, path string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	outFile, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.FileInfo().Mode())
	if err != nil {
		return err
	}
	defer outFile.Close()

	_, err = io.Copy(outFile, rc)
	return err
}
