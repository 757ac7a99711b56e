package refresh

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/transitcore/departures-api/internal/models"
	"github.com/transitcore/departures-api/internal/staticindex"
)

// buildZip packs files (name -> content) into an in-memory zip archive.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("writing zip entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	return buf.Bytes()
}

// minimalBundleFiles returns a complete single-route, single-trip GTFS
// bundle using a route id with no declared realtime feed, so the
// resulting index never needs validateInvariants' feed closure check
// to reference a real MTA feed url.
func minimalBundleFiles(routeID, parentStop, childStop, tripID string) map[string]string {
	return map[string]string{
		"routes.txt": "route_id,route_short_name,route_long_name,route_color,route_text_color,route_type\n" +
			routeID + ",X,Example Line,FF0000,FFFFFF,1\n",
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon,parent_station,location_type\n" +
			parentStop + ",Example Station,40.0,-73.0,,1\n" +
			childStop + ",Example Station,40.0,-73.0," + parentStop + ",0\n",
		"trips.txt": "route_id,service_id,trip_id,trip_headsign,trip_short_name,direction_id,peak_offpeak\n" +
			routeID + ",WKDY," + tripID + ",Downtown,,0,1\n",
		"stop_times.txt": "trip_id,stop_id,arrival_time,departure_time,stop_sequence,track,pickup_type,drop_off_type,note_id\n" +
			tripID + "," + childStop + ",08:00:00,08:00:00,1,,,,\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WKDY,1,1,1,1,1,0,0,20260101,20261231\n",
	}
}

func serveZip(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	body := buildZip(t, files)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
}

func newTestConfig(t *testing.T, dataDir string) Config {
	t.Helper()
	subwaySrv := serveZip(t, minimalBundleFiles("X1", "127", "127N", "t-subway"))
	lirrSrv := serveZip(t, minimalBundleFiles("Y1", "237", "237x", "t-lirr"))
	mnrSrv := serveZip(t, minimalBundleFiles("Z1", "1", "1x", "t-mnr"))
	t.Cleanup(func() {
		subwaySrv.Close()
		lirrSrv.Close()
		mnrSrv.Close()
	})

	return Config{
		Sources: map[models.System]BundleSource{
			models.Subway: {StaticZipURL: subwaySrv.URL},
			models.LIRR:   {StaticZipURL: lirrSrv.URL},
			models.MNR:    {StaticZipURL: mnrSrv.URL},
		},
		DataDir: dataDir,
	}
}

func TestRunOncePublishesBuiltIndex(t *testing.T) {
	dir := t.TempDir()
	store := &staticindex.Store{}
	orch := New(newTestConfig(t, filepath.Join(dir, "gtfs")), store)

	if err := orch.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	published := store.Load()
	if published == nil {
		t.Fatal("expected a published snapshot after RunOnce")
	}
	if _, ok := published.Index.Trips["t-subway"]; !ok {
		t.Error("expected the subway bundle's trip to appear in the built index")
	}
	if _, ok := published.Index.Trips["t-lirr"]; !ok {
		t.Error("expected the LIRR bundle's trip to appear in the built index")
	}
	if _, ok := published.Calendars[models.MNR]; !ok {
		t.Error("expected a calendar for MNR")
	}
}

func TestRunOnceSwapIsAtomicAcrossRebuilds(t *testing.T) {
	dir := t.TempDir()
	store := &staticindex.Store{}
	orch := New(newTestConfig(t, filepath.Join(dir, "gtfs")), store)

	if err := orch.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	first := store.Load()

	if err := orch.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	second := store.Load()

	if first == second {
		t.Error("expected a fresh Published snapshot on the second rebuild")
	}
	if _, ok := second.Index.Trips["t-subway"]; !ok {
		t.Error("second rebuild should still contain the subway trip")
	}
}

func TestRunOnceConcurrentCallsSingleFlight(t *testing.T) {
	dir := t.TempDir()
	store := &staticindex.Store{}
	orch := New(newTestConfig(t, filepath.Join(dir, "gtfs")), store)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = orch.RunOnce(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: unexpected error: %v", i, err)
		}
	}
	if store.Load() == nil {
		t.Error("expected at least one concurrent call to publish a snapshot")
	}
}
