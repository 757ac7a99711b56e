// Package models holds the cross-system data model: stops, routes,
// trips, stop times, notes, and the request-scoped Departure record.
package models

import (
	"fmt"
	"time"
)

// System identifies which sub-system an entity belongs to.
type System string

const (
	Subway System = "SUBWAY"
	LIRR   System = "LIRR"
	MNR    System = "MNR"
)

// UniqueKey composes the cross-system primary key "{SYSTEM}-{originalId}".
func UniqueKey(system System, originalID string) string {
	return fmt.Sprintf("%s-%s", system, originalID)
}

// StripPrefix removes the "{SYSTEM}-" prefix, returning the original id.
// It is the inverse of UniqueKey: StripPrefix(sys, UniqueKey(sys, id)) == id.
func StripPrefix(system System, uniqueKey string) string {
	prefix := string(system) + "-"
	if len(uniqueKey) > len(prefix) && uniqueKey[:len(prefix)] == prefix {
		return uniqueKey[len(prefix):]
	}
	return uniqueKey
}

// SystemOf extracts the system portion of a unique key, e.g.
// "SUBWAY-127" -> SUBWAY. Returns "" if the key has no recognized prefix.
func SystemOf(uniqueKey string) System {
	for _, sys := range []System{Subway, LIRR, MNR} {
		prefix := string(sys) + "-"
		if len(uniqueKey) > len(prefix) && uniqueKey[:len(prefix)] == prefix {
			return sys
		}
	}
	return ""
}

// StopInfo describes a single stop or station, keyed by its unique key.
type StopInfo struct {
	OriginalStopID string
	Name           string
	Latitude       float64
	Longitude      float64
	System         System

	ParentStationKey string // unique key, empty if none
	LocationType     *int

	ChildOriginalStopIDs  map[string]struct{}
	ServedByOriginalRoute map[string]struct{}
	RealtimeFeedURLs      map[string]struct{}

	Borough *string

	IsTerminal bool

	// Subway only, sourced from the curated station CSV.
	NorthLabel *string
	SouthLabel *string

	ADAStatus          *int
	ADANotes           string
	WheelchairBoarding *int
}

// NewStopInfo returns a StopInfo with its set fields initialized empty.
func NewStopInfo(system System, originalStopID string) *StopInfo {
	return &StopInfo{
		System:                system,
		OriginalStopID:        originalStopID,
		ChildOriginalStopIDs:  make(map[string]struct{}),
		ServedByOriginalRoute: make(map[string]struct{}),
		RealtimeFeedURLs:      make(map[string]struct{}),
	}
}

// RouteInfo describes a route, keyed by its unique key.
type RouteInfo struct {
	ShortName string
	LongName  string
	Color     string
	TextColor string
	RouteType int
	System    System
}

// TripInfo describes a scheduled trip, keyed by its raw trip id.
type TripInfo struct {
	RouteID                   string // unique key
	ServiceID                 string
	DirectionID               *int
	Headsign                  string
	ShortName                 string // "train number" for commuter rail
	PeakOffpeak               string // "0", "1", or ""
	DestinationOriginalStopID string
	System                    System
}

// StopTime is a single scheduled (stop, trip) record.
type StopTime struct {
	ScheduledArrivalTime   string // HH:MM:SS, hours may be >= 24
	ScheduledDepartureTime string
	StopSequence           int
	Track                  *string
	PickupType             int
	DropOffType            int
	NoteID                 string
}

// Note is a commuter-rail footnote attached to a stop time.
type Note struct {
	Mark        string
	Title       string
	Description string
}

// Departure is the request-scoped output record of the resolver.
type Departure struct {
	TripID                 string
	RouteID                string
	RouteShortName         string
	RouteLongName          string
	RouteColor             string
	Destination            string
	DestinationBorough     string
	Direction              string
	DepartureTime          *time.Time // scheduled, combined with today's civil date
	EstimatedDepartureTime *time.Time // scheduled + delay
	DelayMinutes           *int
	Track                  *string
	Status                 string
	PeakStatus             string
	System                 System
	IsTerminalArrival      bool
	Source                 string // "realtime" or "scheduled"
	TrainStatus            string
	PickupType             int
	DropOffType            int
	NoteID                 string
	NoteText               string
}
