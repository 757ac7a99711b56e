// Package staticindex implements the multi-phase static-data compiler
// (C6): it ingests per-sub-system GTFS bundles, unifies them under the
// cross-system unique key space, and produces an immutable,
// atomically-published index the resolver reads without locking.
package staticindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/transitcore/departures-api/internal/calendar"
	"github.com/transitcore/departures-api/internal/geo"
	"github.com/transitcore/departures-api/internal/gtfscsv"
	"github.com/transitcore/departures-api/internal/models"
	"github.com/transitcore/departures-api/internal/sysconfig"
)

// BundlePaths names the on-disk files of one sub-system's GTFS bundle.
// CalendarDatesPath and NotesPath are optional; a missing file is not
// a build error.
type BundlePaths struct {
	RoutesPath        string
	StopsPath         string
	TripsPath         string
	StopTimesPath     string
	CalendarPath      string
	CalendarDatesPath string
	NotesPath         string
}

// Sources names every input the compiler reads for one rebuild.
type Sources struct {
	Bundles            map[models.System]BundlePaths
	StationDetailsPath string // curated subway station CSV; optional

	// GeoFilePath is the borough-polygon GeoJSON FeatureCollection (C1)
	// used to resolve StopInfo.Borough from a stop's coordinates.
	// Optional; a missing or empty path disables borough resolution and
	// every stop's Borough stays nil unless set by curated station
	// details.
	GeoFilePath string
	// GeoBoroughProperty names the GeoJSON feature property holding the
	// borough's display name. Defaults to "boro_name" if empty.
	GeoBoroughProperty string
}

// StaticIndex is the compiled, read-only-after-publish cross-system
// index described in §3 of the data model.
type StaticIndex struct {
	Stops                     map[string]*models.StopInfo  // unique stop key
	Routes                    map[string]*models.RouteInfo // unique route key
	Trips                     map[string]*models.TripInfo  // raw trip id
	StopTimesByOriginalStopID map[string]map[string]*models.StopTime
	Notes                     map[string]*models.Note // "SYSTEM-noteId"
	TripsByShortName          map[string]string        // "SYSTEM-shortName" -> tripId
	VehicleTripsMap           map[string]string        // "SYSTEM-vehicleLabel" -> tripId
	LastRefreshed             time.Time
}

// Published bundles the StaticIndex with the per-system calendars
// built from the same rebuild, so C7 reads both from one atomic
// snapshot and never sees a calendar computed against a different
// generation of the index.
type Published struct {
	Index     *StaticIndex
	Calendars map[models.System]*calendar.Calendar
}

// Store holds the live Published snapshot behind an atomic pointer.
// Readers call Load; C8 calls Publish after a successful rebuild. A
// zero Store has no snapshot until the first Publish.
type Store struct {
	ptr atomic.Pointer[Published]
}

// Load returns the current snapshot, or nil before the first publish.
func (s *Store) Load() *Published {
	return s.ptr.Load()
}

// Publish atomically swaps in a new snapshot. In-flight readers that
// already loaded the old snapshot keep using it to completion.
func (s *Store) Publish(p *Published) {
	s.ptr.Store(p)
}

type stationDetail struct {
	borough            string
	northLabel         string
	southLabel         string
	adaStatus          *int
	adaNotes           string
	wheelchairBoarding *int
}

// Build runs all five compiler phases and returns a new Published
// snapshot. It never mutates any existing Store; the caller publishes
// the result once satisfied (or discards it on error, per §4.1's
// failure semantics: a fatal error here must never touch a live
// index).
func Build(ctx context.Context, sources Sources, cfgTable map[models.System]sysconfig.Config, logger *slog.Logger) (*Published, error) {
	if logger == nil {
		logger = slog.Default()
	}

	idx := &StaticIndex{
		Stops:                     map[string]*models.StopInfo{},
		Routes:                    map[string]*models.RouteInfo{},
		Trips:                     map[string]*models.TripInfo{},
		StopTimesByOriginalStopID: map[string]map[string]*models.StopTime{},
		Notes:                     map[string]*models.Note{},
		TripsByShortName:          map[string]string{},
		VehicleTripsMap:           map[string]string{},
	}
	calendars := map[models.System]*calendar.Calendar{}

	// Phase 0 — curated station details, plus the borough resolver (C1)
	// used to fill in StopInfo.Borough from coordinates for every stop
	// the curated CSV doesn't already cover.
	details, err := loadStationDetails(sources.StationDetailsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("phase 0 (station details): %w", err)
	}
	boroughs, err := loadBoroughResolver(sources.GeoFilePath, sources.GeoBoroughProperty, logger)
	if err != nil {
		return nil, fmt.Errorf("phase 0 (borough geojson): %w", err)
	}

	systems := []models.System{models.Subway, models.LIRR, models.MNR}

	// destByTrip/maxSeqByTrip are scoped per system and discarded once
	// that system's trips.txt has been enriched; they only exist to
	// bridge the streaming stop_times pass (phase 1.3) and the trip
	// load (phase 1.4).
	for _, sys := range systems {
		paths, ok := sources.Bundles[sys]
		if !ok {
			return nil, fmt.Errorf("phase 1 (%s): no bundle configured", sys)
		}
		cfg, ok := cfgTable[sys]
		if !ok {
			return nil, fmt.Errorf("phase 1 (%s): no sysconfig entry", sys)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := loadRoutes(paths.RoutesPath, sys, idx); err != nil {
			return nil, fmt.Errorf("phase 1 (%s) routes: %w", sys, err)
		}
		if err := loadStops(paths.StopsPath, sys, cfg, details, boroughs, idx); err != nil {
			return nil, fmt.Errorf("phase 1 (%s) stops: %w", sys, err)
		}

		maxSeqByTrip, destByTrip, err := streamStopTimes(paths.StopTimesPath, sys, idx)
		if err != nil {
			return nil, fmt.Errorf("phase 1 (%s) stop_times streaming pass: %w", sys, err)
		}

		if err := loadTrips(paths.TripsPath, sys, destByTrip, idx, logger); err != nil {
			return nil, fmt.Errorf("phase 1 (%s) trips: %w", sys, err)
		}

		cal, err := loadCalendar(paths.CalendarPath, paths.CalendarDatesPath, sys, logger)
		if err != nil {
			return nil, fmt.Errorf("phase 1 (%s) calendar: %w", sys, err)
		}
		calendars[sys] = cal

		_ = maxSeqByTrip // retained in destByTrip's computation only
	}

	// Phase 2 — parent linkage.
	linkCount := 0
	for _, stop := range idx.Stops {
		if stop.ParentStationKey == "" {
			continue
		}
		parent, ok := idx.Stops[stop.ParentStationKey]
		if !ok {
			logger.Warn("parent station not found", "stop", stop.OriginalStopID, "parent", stop.ParentStationKey)
			continue
		}
		parent.ChildOriginalStopIDs[stop.OriginalStopID] = struct{}{}
		linkCount++
	}
	logger.Info("phase 2 complete", "parent_links", linkCount)

	// Phase 3 — route/feed linkage, second streaming pass.
	for _, sys := range systems {
		paths := sources.Bundles[sys]
		cfg := cfgTable[sys]
		if err := linkRoutesAndFeeds(paths.StopTimesPath, sys, cfg, idx); err != nil {
			return nil, fmt.Errorf("phase 3 (%s): %w", sys, err)
		}
	}

	// Phase 4 — notes (commuter rail only).
	for _, sys := range []models.System{models.LIRR, models.MNR} {
		paths := sources.Bundles[sys]
		if paths.NotesPath == "" {
			continue
		}
		if err := loadNotes(paths.NotesPath, sys, idx, logger); err != nil {
			return nil, fmt.Errorf("phase 4 (%s): %w", sys, err)
		}
	}

	idx.LastRefreshed = time.Now()

	if err := validateInvariants(idx, cfgTable, logger); err != nil {
		return nil, fmt.Errorf("invariant check failed: %w", err)
	}

	return &Published{Index: idx, Calendars: calendars}, nil
}

const defaultBoroughProperty = "boro_name"

// loadBoroughResolver builds C1 from the configured GeoJSON
// FeatureCollection. A missing path disables borough resolution from
// coordinates entirely (stops still get a borough from the curated
// station CSV where one is present); that is not a build error, since
// §6 documents the geo file path as operator configuration, not a
// required input.
func loadBoroughResolver(path, property string, logger *slog.Logger) (*geo.BoroughResolver, error) {
	if path == "" {
		return nil, nil
	}
	if property == "" {
		property = defaultBoroughProperty
	}
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("borough geojson missing, continuing without coordinate-based borough resolution", "path", path, "err", err)
		return nil, nil
	}
	defer f.Close()

	resolver, err := geo.NewBoroughResolver(f, property)
	if err != nil {
		return nil, err
	}
	return resolver, nil
}

func loadStationDetails(path string, logger *slog.Logger) (map[string]stationDetail, error) {
	out := map[string]stationDetail{}
	if path == "" {
		return out, nil
	}
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("station details file missing, continuing without it", "path", path, "err", err)
		return out, nil
	}
	defer f.Close()

	rows, err := gtfscsv.ReadStationDetails(f)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		d := stationDetail{
			borough:    row.Borough,
			northLabel: row.NorthLabel,
			southLabel: row.SouthLabel,
			adaNotes:   row.ADANotes,
		}
		if v, err := strconv.Atoi(row.ADA); err == nil {
			d.adaStatus = &v
			d.wheelchairBoarding = &v
		}
		out[row.GTFSStopID] = d
	}
	return out, nil
}

func loadRoutes(path string, sys models.System, idx *StaticIndex) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := gtfscsv.ReadRoutes(f)
	if err != nil {
		return err
	}
	for _, row := range rows {
		idx.Routes[models.UniqueKey(sys, row.RouteID)] = &models.RouteInfo{
			ShortName: row.ShortName,
			LongName:  row.LongName,
			Color:     row.Color,
			TextColor: row.TextColor,
			RouteType: row.RouteType,
			System:    sys,
		}
	}
	return nil
}

func loadStops(path string, sys models.System, cfg sysconfig.Config, details map[string]stationDetail, boroughs *geo.BoroughResolver, idx *StaticIndex) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := gtfscsv.ReadStops(f)
	if err != nil {
		return err
	}
	for _, row := range rows {
		stop := models.NewStopInfo(sys, row.StopID)
		stop.Name = row.Name
		stop.Latitude = row.Lat
		stop.Longitude = row.Lon
		if row.ParentStation != "" {
			stop.ParentStationKey = models.UniqueKey(sys, row.ParentStation)
		}
		if v, err := strconv.Atoi(row.LocationType); err == nil {
			stop.LocationType = &v
		}
		stop.IsTerminal = cfg.IsTerminal(row.StopID, row.Name)

		if sys == models.Subway {
			if d, ok := details[row.StopID]; ok {
				if d.borough != "" {
					b := d.borough
					stop.Borough = &b
				}
				if d.northLabel != "" {
					n := d.northLabel
					stop.NorthLabel = &n
				}
				if d.southLabel != "" {
					s := d.southLabel
					stop.SouthLabel = &s
				}
				stop.ADAStatus = d.adaStatus
				stop.ADANotes = d.adaNotes
				stop.WheelchairBoarding = d.wheelchairBoarding
			}
		}

		// C1: fill in the borough from coordinates for any stop the
		// curated CSV didn't already cover (every LIRR/MNR stop, plus
		// any subway stop missing from the curated sheet).
		if stop.Borough == nil {
			if name, ok := boroughs.Borough(stop.Latitude, stop.Longitude); ok {
				stop.Borough = &name
			}
		}

		idx.Stops[models.UniqueKey(sys, row.StopID)] = stop
	}
	return nil
}

// streamStopTimes is phase 1.3: a single streaming pass over
// stop_times.txt that never materializes the full table. It both
// feeds the per-stop index used by the scheduled fallback and tracks,
// per trip, the row with the maximum stop_sequence (the trip's
// destination).
func streamStopTimes(path string, sys models.System, idx *StaticIndex) (map[string]int, map[string]string, error) {
	maxSeqByTrip := map[string]int{}
	destByTrip := map[string]string{}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	err = gtfscsv.StreamStopTimes(f, func(row *gtfscsv.StopTimeRow) error {
		if row.StopSequence >= maxSeqByTrip[row.TripID] {
			maxSeqByTrip[row.TripID] = row.StopSequence
			destByTrip[row.TripID] = row.StopID
		}

		byStop, ok := idx.StopTimesByOriginalStopID[row.StopID]
		if !ok {
			byStop = map[string]*models.StopTime{}
			idx.StopTimesByOriginalStopID[row.StopID] = byStop
		}
		st := &models.StopTime{
			ScheduledArrivalTime:   row.ArrivalTime,
			ScheduledDepartureTime: row.DepartureTime,
			StopSequence:           row.StopSequence,
			PickupType:             atoiOrZero(row.PickupType),
			DropOffType:            atoiOrZero(row.DropOffType),
			NoteID:                 row.NoteID,
		}
		if row.Track != "" {
			track := row.Track
			st.Track = &track
		}
		byStop[row.TripID] = st
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return maxSeqByTrip, destByTrip, nil
}

func loadTrips(path string, sys models.System, destByTrip map[string]string, idx *StaticIndex, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := gtfscsv.ReadTrips(f)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if existing, ok := idx.Trips[row.TripID]; ok {
			logger.Warn("trip id collision across sub-systems", "trip_id", row.TripID,
				"existing_system", existing.System, "new_system", sys)
			continue
		}

		trip := &models.TripInfo{
			RouteID:                   models.UniqueKey(sys, row.RouteID),
			ServiceID:                 row.ServiceID,
			Headsign:                  row.Headsign,
			ShortName:                 row.ShortName,
			PeakOffpeak:               row.PeakOffpeak,
			DestinationOriginalStopID: destByTrip[row.TripID],
			System:                    sys,
		}
		if v, err := strconv.Atoi(row.DirectionID); err == nil {
			trip.DirectionID = &v
		}
		idx.Trips[row.TripID] = trip
	}
	return nil
}

func linkRoutesAndFeeds(path string, sys models.System, cfg sysconfig.Config, idx *StaticIndex) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return gtfscsv.StreamStopTimes(f, func(row *gtfscsv.StopTimeRow) error {
		trip, ok := idx.Trips[row.TripID]
		if !ok {
			return nil // data anomaly: unknown trip, skip per §7
		}
		originalRouteID := models.StripPrefix(sys, trip.RouteID)
		feedURL := cfg.StaticRouteToFeedURL[originalRouteID]

		stop, ok := idx.Stops[models.UniqueKey(sys, row.StopID)]
		if !ok {
			return nil
		}
		stop.ServedByOriginalRoute[originalRouteID] = struct{}{}
		if feedURL != "" {
			stop.RealtimeFeedURLs[feedURL] = struct{}{}
		}
		if stop.ParentStationKey != "" {
			if parent, ok := idx.Stops[stop.ParentStationKey]; ok {
				parent.ServedByOriginalRoute[originalRouteID] = struct{}{}
				if feedURL != "" {
					parent.RealtimeFeedURLs[feedURL] = struct{}{}
				}
			}
		}

		if trip.ShortName != "" {
			if cfg.UsesTripShortName {
				idx.TripsByShortName[models.UniqueKey(sys, trip.ShortName)] = row.TripID
			}
			if cfg.UsesVehicleTripsMap {
				idx.VehicleTripsMap[models.UniqueKey(sys, trip.ShortName)] = row.TripID
			}
		}
		return nil
	})
}

func loadNotes(path string, sys models.System, idx *StaticIndex, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("notes file missing, continuing without it", "system", sys, "path", path, "err", err)
		return nil
	}
	defer f.Close()

	rows, err := gtfscsv.ReadNotes(f)
	if err != nil {
		return err
	}
	for _, row := range rows {
		idx.Notes[models.UniqueKey(sys, row.NoteID)] = &models.Note{
			Mark:        row.Mark,
			Title:       row.Title,
			Description: row.Description,
		}
	}
	return nil
}

func loadCalendar(calPath, datesPath string, sys models.System, logger *slog.Logger) (*calendar.Calendar, error) {
	f, err := os.Open(calPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	weekly, err := gtfscsv.ReadCalendar(f)
	if err != nil {
		return nil, err
	}

	var dates []*gtfscsv.CalendarDateRow
	if datesPath != "" {
		df, err := os.Open(datesPath)
		if err != nil {
			logger.Warn("calendar_dates file missing, continuing without it", "system", sys, "err", err)
		} else {
			defer df.Close()
			dates, err = gtfscsv.ReadCalendarDates(df)
			if err != nil {
				return nil, err
			}
		}
	}

	return calendar.New(weekly, dates), nil
}

func atoiOrZero(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

// validateInvariants enforces the §4.1 invariants the compiler must
// establish. A violation aborts the rebuild rather than publishing a
// silently-broken index.
func validateInvariants(idx *StaticIndex, cfgTable map[models.System]sysconfig.Config, logger *slog.Logger) error {
	allFeeds := sysconfig.AllFeedURLs()
	for key, stop := range idx.Stops {
		for url := range stop.RealtimeFeedURLs {
			if _, ok := allFeeds[url]; !ok {
				return fmt.Errorf("stop %s references undeclared feed url %s", key, url)
			}
		}
	}

	for tripID, trip := range idx.Trips {
		if trip.DestinationOriginalStopID == "" {
			continue
		}
		destKey := models.UniqueKey(trip.System, trip.DestinationOriginalStopID)
		if _, ok := idx.Stops[destKey]; !ok {
			logger.Error("trip destination not found in same sub-system", "trip", tripID, "dest", destKey)
			return fmt.Errorf("trip %s destination %s not found in the same sub-system", tripID, destKey)
		}
	}

	for key, stop := range idx.Stops {
		if stop.ParentStationKey == "" {
			continue
		}
		parent, ok := idx.Stops[stop.ParentStationKey]
		if !ok {
			continue
		}
		if _, ok := parent.ChildOriginalStopIDs[stop.OriginalStopID]; !ok {
			return fmt.Errorf("parent/child asymmetry: %s not present in %s's children", key, stop.ParentStationKey)
		}
	}
	return nil
}
