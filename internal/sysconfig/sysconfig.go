// Package sysconfig is the per-sub-system capability table (C2). Rather
// than a class hierarchy per sub-system, behavior differences are
// expressed as a record of flags consumed by a single resolver
// pipeline. Adding a sub-system means appending a row to Table;
// models.SystemOf and staticindex.Build also list the sub-systems by
// name.
package sysconfig

import (
	"strings"

	"github.com/transitcore/departures-api/internal/models"
)

// TripLookupStrategy selects how the resolver matches a realtime trip
// update against the static trip table.
type TripLookupStrategy int

const (
	// LookupDirect matches the realtime trip id directly against the
	// static trip table.
	LookupDirect TripLookupStrategy = iota
	// LookupVehicleThenShortName prefers the vehicle label, then the
	// trip short name, then falls back to direct id matching. Used
	// only by MNR.
	LookupVehicleThenShortName
)

// Config captures one sub-system's behavioral flags.
type Config struct {
	System System

	// PlatformSuffixDirection selects how §4.2's direction derivation
	// runs for this sub-system: platform-suffix-based for subway,
	// static-directionID-based for commuter rail.
	PlatformSuffixDirection bool

	// RealtimeExtensionKey names which protobuf extension namespace
	// this sub-system's feeds carry (see feedcache package).
	RealtimeExtensionKey string

	// TerminalOriginalStopIDs are stop ids that are always terminals,
	// regardless of name.
	TerminalOriginalStopIDs map[string]struct{}
	// TerminalNameSubstrings: a stop whose name contains one of these
	// (case-sensitive, matching the source data's own casing) is also
	// a terminal.
	TerminalNameSubstrings []string

	TripLookup TripLookupStrategy

	// UsesTripShortName: commuter-rail sub-systems populate
	// tripsByShortName; subway does not.
	UsesTripShortName bool

	// UsesVehicleTripsMap: true only for the one commuter-rail
	// sub-system where the realtime vehicle label equals the static
	// trip short name token (MNR).
	UsesVehicleTripsMap bool

	// StaticRouteToFeedURL maps an original route id to the realtime
	// feed URL that carries updates for it.
	StaticRouteToFeedURL map[string]string
}

// System is re-exported for readability in config literals below.
type System = models.System

// mLineBuggyStopBases is the open-question list from spec.md §9: the
// source's M-line platform-direction bug affects exactly six stop
// bases. If the upstream bug is ever fixed, emptying this set makes
// the rewrite in the resolver a no-op without further code changes.
var mLineBuggyStopBases = map[string]struct{}{
	"M11": {},
	"M12": {},
	"M13": {},
	"M14": {},
	"M16": {},
	"M18": {},
}

// MLineBuggyStopBases returns the hard-coded set of subway stop bases
// affected by the M-line N/S platform swap bug.
func MLineBuggyStopBases() map[string]struct{} {
	return mLineBuggyStopBases
}

// The feed URL constants below mirror the MTA's real GTFS-RT feed
// grouping: one URL per bundle of subway lines, and one per railroad.
const (
	feedBase  = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs"
	feedL     = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-l"
	feedNQRW  = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-nqrw"
	feedBDFM  = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-bdfm"
	feedACE   = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-ace"
	feedJZ    = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-jz"
	feedG     = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-g"
	feedSI    = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-si"
	feedLIRR  = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/lirr%2Fgtfs-lirr"
	feedMNR   = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/mnr%2Fgtfs-mnr"
)

func subwayRouteToFeed() map[string]string {
	m := map[string]string{}
	for _, r := range []string{"1", "2", "3", "4", "5", "6", "7", "GS"} {
		m[r] = feedBase
	}
	m["L"] = feedL
	for _, r := range []string{"N", "Q", "R", "W"} {
		m[r] = feedNQRW
	}
	for _, r := range []string{"B", "D", "F", "M"} {
		m[r] = feedBDFM
	}
	for _, r := range []string{"A", "C", "E", "H", "FS"} {
		m[r] = feedACE
	}
	m["J"] = feedJZ
	m["Z"] = feedJZ
	m["G"] = feedG
	m["SI"] = feedSI
	m["SIR"] = feedSI
	return m
}

// Table is the static C2 configuration: one Config per sub-system.
// New sub-systems are added by appending a row here. The row alone is
// not enough: models.SystemOf and staticindex.Build each list the three
// existing sub-systems explicitly and do not read them from this table.
var Table = map[System]Config{
	models.Subway: {
		System:                  models.Subway,
		PlatformSuffixDirection: true,
		RealtimeExtensionKey:    "nyct",
		TerminalOriginalStopIDs: map[string]struct{}{},
		TerminalNameSubstrings:  []string{"Terminal", "Last Stop"},
		TripLookup:              LookupDirect,
		UsesTripShortName:       false,
		UsesVehicleTripsMap:     false,
		StaticRouteToFeedURL:    subwayRouteToFeed(),
	},
	models.LIRR: {
		System:                  models.LIRR,
		PlatformSuffixDirection: false,
		RealtimeExtensionKey:    "mtarr",
		TerminalOriginalStopIDs: map[string]struct{}{"237": {}},
		TerminalNameSubstrings:  []string{"Penn Station", "Grand Central", "Atlantic Terminal"},
		TripLookup:              LookupDirect,
		UsesTripShortName:       true,
		UsesVehicleTripsMap:     false,
		StaticRouteToFeedURL:    map[string]string{"1": feedLIRR, "2": feedLIRR, "3": feedLIRR, "10": feedLIRR},
	},
	models.MNR: {
		System:                  models.MNR,
		PlatformSuffixDirection: false,
		RealtimeExtensionKey:    "mtarr",
		TerminalOriginalStopIDs: map[string]struct{}{"1": {}},
		TerminalNameSubstrings:  []string{"Grand Central"},
		TripLookup:              LookupVehicleThenShortName,
		UsesTripShortName:       true,
		UsesVehicleTripsMap:     true,
		StaticRouteToFeedURL:    map[string]string{"1": feedMNR, "2": feedMNR, "3": feedMNR, "4": feedMNR},
	},
}

// IsTerminal applies the per-system terminal rule: the stop's original
// id is in the terminal-id set, OR its name contains one of the
// terminal name substrings.
func (c Config) IsTerminal(originalStopID, name string) bool {
	if _, ok := c.TerminalOriginalStopIDs[originalStopID]; ok {
		return true
	}
	for _, sub := range c.TerminalNameSubstrings {
		if sub != "" && strings.Contains(name, sub) {
			return true
		}
	}
	return false
}

// AllFeedURLs returns the distinct set of every feed URL declared
// across all sub-systems' route-to-feed maps. Used by the static
// compiler to validate its closure invariant (every stop's
// realtimeFeedUrls is a subset of this set).
func AllFeedURLs() map[string]struct{} {
	out := map[string]struct{}{}
	for _, cfg := range Table {
		for _, url := range cfg.StaticRouteToFeedURL {
			out[url] = struct{}{}
		}
	}
	return out
}
