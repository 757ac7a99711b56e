// Package resolver implements the departure resolver (C7): the
// request-time merge of realtime protobuf feeds and the compiled
// static schedule into a single ordered Departure list.
package resolver

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/transitcore/departures-api/internal/feedcache"
	"github.com/transitcore/departures-api/internal/models"
	"github.com/transitcore/departures-api/internal/staticindex"
	"github.com/transitcore/departures-api/internal/sysconfig"
)

// Request is the input to Resolve.
type Request struct {
	UniqueStationKey string
	LimitMinutes     *int
	SourceFilter     string // "", "realtime", or "scheduled"
}

// LookupHook is invoked once per Resolve call for observability, per
// §6's trackStationLookup contract.
type LookupHook func(system models.System, uniqueStationKey, name string)

// Resolver answers departuresForStation against a live Store.
type Resolver struct {
	Store  *staticindex.Store
	Feeds  *feedcache.Cache
	Clock  func() time.Time
	Lookup LookupHook
	Logger *slog.Logger
}

// New builds a Resolver with sane defaults for Clock/Logger.
func New(store *staticindex.Store, feeds *feedcache.Cache) *Resolver {
	return &Resolver{
		Store:  store,
		Feeds:  feeds,
		Clock:  time.Now,
		Logger: slog.Default(),
	}
}

// Resolve runs departuresForStation end to end.
func (r *Resolver) Resolve(ctx context.Context, req Request) ([]models.Departure, error) {
	now := r.Clock()
	published := r.Store.Load()
	if published == nil {
		r.Logger.Warn("resolve called before static index is published", "key", req.UniqueStationKey)
		if r.Lookup != nil {
			r.Lookup(models.SystemOf(req.UniqueStationKey), req.UniqueStationKey, "")
		}
		return []models.Departure{}, nil
	}
	idx := published.Index

	sys := models.SystemOf(req.UniqueStationKey)
	originalID := models.StripPrefix(sys, req.UniqueStationKey)
	if sys == models.Subway {
		originalID = applyMLineWorkaround(originalID)
	}
	stationKey := models.UniqueKey(sys, originalID)

	stop, ok := idx.Stops[stationKey]
	if !ok {
		r.Logger.Warn("station key not found in index", "key", stationKey)
		if r.Lookup != nil {
			r.Lookup(sys, req.UniqueStationKey, "")
		}
		return []models.Departure{}, nil
	}
	if r.Lookup != nil {
		r.Lookup(sys, req.UniqueStationKey, stop.Name)
	}

	cfg := sysconfig.Table[sys]

	candidateIDs := make([]string, 0, len(stop.ChildOriginalStopIDs)+1)
	for id := range stop.ChildOriginalStopIDs {
		candidateIDs = append(candidateIDs, id)
	}
	if len(candidateIDs) == 0 {
		candidateIDs = append(candidateIDs, stop.OriginalStopID)
	}
	candidateSet := make(map[string]struct{}, len(candidateIDs))
	for _, id := range candidateIDs {
		candidateSet[id] = struct{}{}
	}

	window := windowBounds(now, req.LimitMinutes)

	feeds := r.fetchFeeds(ctx, stop.RealtimeFeedURLs)

	processedTripIDs := map[string]struct{}{}
	var departures []models.Departure

	for _, feed := range feeds {
		for _, entity := range feed.Entities() {
			tu := entity.GetTripUpdate()
			if tu == nil || len(tu.GetStopTimeUpdate()) == 0 {
				continue
			}
			dep, ok := r.processTripUpdate(idx, cfg, sys, candidateSet, tu, window, now, processedTripIDs)
			if ok {
				departures = append(departures, dep)
			}
		}
	}

	runScheduledFallback := sys != models.Subway || len(departures) == 0
	if runScheduledFallback {
		cal := published.Calendars[sys]
		scheduled, err := r.scheduledFallback(idx, cal, cfg, sys, candidateIDs, window, now, processedTripIDs)
		if err != nil {
			r.Logger.Error("scheduled fallback failed", "err", err)
		} else {
			departures = append(departures, scheduled...)
		}
	}

	departures = filterBySource(departures, req.SourceFilter)
	sortDepartures(departures)
	return departures, nil
}

type window struct {
	start time.Time
	end   time.Time // zero means unbounded
}

func windowBounds(now time.Time, limitMinutes *int) window {
	w := window{start: now.Add(-60 * time.Second)}
	if limitMinutes != nil {
		w.end = now.Add(time.Duration(*limitMinutes) * time.Minute)
	}
	return w
}

// contains treats the window as closed at both ends rather than the
// half-open [start, end) of §4.2; a departure landing on the exact
// boundary second is vanishingly rare and this keeps the comparison
// symmetric with start.
func (w window) contains(t time.Time) bool {
	if t.Before(w.start) {
		return false
	}
	if !w.end.IsZero() && t.After(w.end) {
		return false
	}
	return true
}

func (r *Resolver) fetchFeeds(ctx context.Context, urls map[string]struct{}) []*feedcache.Feed {
	if len(urls) == 0 {
		return nil
	}
	results := make([]*feedcache.Feed, len(urls))
	urlList := make([]string, 0, len(urls))
	for u := range urls {
		urlList = append(urlList, u)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urlList {
		i, u := i, u
		g.Go(func() error {
			feed, err := r.Feeds.Fetch(gctx, u)
			if err != nil {
				r.Logger.Warn("feed fetch failed", "url", u, "err", err)
				return nil // an upstream transient failure contributes nothing, per §7
			}
			results[i] = feed
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*feedcache.Feed, 0, len(results))
	for _, f := range results {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

func applyMLineWorkaround(stopID string) string {
	if len(stopID) < 2 {
		return stopID
	}
	base, suffix := stopID[:len(stopID)-1], stopID[len(stopID)-1:]
	if _, buggy := sysconfig.MLineBuggyStopBases()[base]; !buggy {
		return stopID
	}
	switch suffix {
	case "N":
		return base + "S"
	case "S":
		return base + "N"
	default:
		return stopID
	}
}

func filterBySource(deps []models.Departure, filter string) []models.Departure {
	if filter != "realtime" && filter != "scheduled" {
		return deps
	}
	out := deps[:0]
	for _, d := range deps {
		if d.Source == filter {
			out = append(out, d)
		}
	}
	return out
}

// directionRank orders direction strings for the final sort: known
// labels first in the fixed order from §4.2 step 5, then anything
// else, preserving stability among ties.
func directionRank(direction string) int {
	switch direction {
	case "N", "Uptown":
		return 0
	case "S", "Downtown":
		return 1
	case "Inbound":
		return 2
	case "Outbound":
		return 3
	case "Unknown":
		return 4
	default:
		return 5
	}
}

func sortDepartures(deps []models.Departure) {
	sort.SliceStable(deps, func(i, j int) bool {
		ri, rj := directionRank(deps[i].Direction), directionRank(deps[j].Direction)
		if ri != rj {
			return ri < rj
		}
		ti, tj := deps[i].DepartureTime, deps[j].DepartureTime
		if ti == nil && tj == nil {
			return false
		}
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return ti.Before(*tj)
	})
}

func roundDelayMinutes(seconds int64) int {
	return int(math.Round(float64(seconds) / 60.0))
}

func normalizeTripID(raw string, commuterRail bool) string {
	if !commuterRail {
		return raw
	}
	trimmed := strings.TrimLeft(raw, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

func parseHHMMSS(now time.Time, hhmmss string) (time.Time, bool) {
	parts := strings.Split(hhmmss, ":")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	s, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	day := now
	if h >= 24 {
		h -= 24
		day = day.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, day.Location()), true
}

func deriveStatus(delayMinutes *int, estimated *time.Time, now time.Time) string {
	if delayMinutes != nil {
		abs := *delayMinutes
		if abs < 0 {
			abs = -abs
		}
		if abs <= 1 {
			return "On Time"
		}
		if *delayMinutes > 0 {
			return "Delayed " + strconv.Itoa(*delayMinutes) + " min"
		}
		return "Early " + strconv.Itoa(-*delayMinutes) + " min"
	}
	if estimated != nil {
		diff := estimated.Sub(now)
		if diff >= 30*time.Second && diff <= 120*time.Second {
			return "Approaching"
		}
		if diff >= -30*time.Second && diff <= 30*time.Second {
			return "Due"
		}
	}
	return "Scheduled"
}

func peakStatus(peakOffpeak string) string {
	switch peakOffpeak {
	case "1":
		return "Peak"
	case "0":
		return "Off-Peak"
	default:
		return ""
	}
}
