package resolver

import (
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/transitcore/departures-api/internal/feedcache"
	"github.com/transitcore/departures-api/internal/models"
	"github.com/transitcore/departures-api/internal/staticindex"
	"github.com/transitcore/departures-api/internal/sysconfig"
)

// resolveStopID applies the subway M-line platform-direction bug
// workaround to a raw stop id read off a realtime update. It never
// mutates the decoded protobuf message, since that message may still
// be sitting in the feed cache for other concurrent requests.
func resolveStopID(sys models.System, raw string) string {
	if sys != models.Subway {
		return raw
	}
	return applyMLineWorkaround(raw)
}

// staticTrip resolves a realtime trip update to a static TripInfo
// using the sub-system's configured lookup strategy, returning the
// static trip id used (for the departure's TripID and the scheduled
// stop-time lookup) and the vehicle label if that's what matched (MNR
// only).
func staticTrip(idx *staticindex.StaticIndex, cfg sysconfig.Config, sys models.System, tu *gtfsrt.TripUpdate, normTripID string) (*models.TripInfo, string, string) {
	if cfg.TripLookup == sysconfig.LookupVehicleThenShortName {
		if label := tu.GetVehicle().GetLabel(); label != "" {
			if tripID, ok := idx.VehicleTripsMap[models.UniqueKey(sys, label)]; ok {
				return idx.Trips[tripID], tripID, label
			}
		}
		if tripID, ok := idx.TripsByShortName[models.UniqueKey(sys, normTripID)]; ok {
			return idx.Trips[tripID], tripID, ""
		}
	}
	trip, ok := idx.Trips[normTripID]
	if !ok {
		return nil, normTripID, ""
	}
	return trip, normTripID, ""
}

func firstAndLastStops(idx *staticindex.StaticIndex, sys models.System, updates []*gtfsrt.TripUpdate_StopTimeUpdate) (*models.StopInfo, *models.StopInfo) {
	if len(updates) == 0 {
		return nil, nil
	}
	firstID := resolveStopID(sys, updates[0].GetStopId())
	lastID := resolveStopID(sys, updates[len(updates)-1].GetStopId())
	first := idx.Stops[models.UniqueKey(sys, firstID)]
	last := idx.Stops[models.UniqueKey(sys, lastID)]
	return first, last
}

func lastByMaxSequence(idx *staticindex.StaticIndex, sys models.System, updates []*gtfsrt.TripUpdate_StopTimeUpdate) *models.StopInfo {
	var best *gtfsrt.TripUpdate_StopTimeUpdate
	maxSeq := int32(-1)
	for _, u := range updates {
		if u.GetStopSequence() >= maxSeq {
			maxSeq = int32(u.GetStopSequence())
			best = u
		}
	}
	if best == nil {
		return nil
	}
	id := resolveStopID(sys, best.GetStopId())
	return idx.Stops[models.UniqueKey(sys, id)]
}

func resolveDisplayNameAndBorough(idx *staticindex.StaticIndex, s *models.StopInfo) (string, string) {
	if s == nil {
		return "", ""
	}
	if s.ParentStationKey != "" {
		if parent, ok := idx.Stops[s.ParentStationKey]; ok {
			return parent.Name, derefString(parent.Borough)
		}
	}
	return s.Name, derefString(s.Borough)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func fromDestinationStopID(idx *staticindex.StaticIndex, sys models.System, trip *models.TripInfo) *models.StopInfo {
	if trip == nil || trip.DestinationOriginalStopID == "" {
		return nil
	}
	return idx.Stops[models.UniqueKey(sys, trip.DestinationOriginalStopID)]
}

// deriveDestination implements the sub-system-specific fallback
// chains of §4.2: subway keys off array position, MNR and LIRR key
// off max stop_sequence, and each has its own fallback order before
// giving up and naming the route itself.
func deriveDestination(idx *staticindex.StaticIndex, sys models.System, route *models.RouteInfo, trip *models.TripInfo, updates []*gtfsrt.TripUpdate_StopTimeUpdate) (string, string) {
	var name, borough string

	switch sys {
	case models.Subway:
		if len(updates) > 0 {
			last := updates[len(updates)-1]
			id := resolveStopID(sys, last.GetStopId())
			name, borough = resolveDisplayNameAndBorough(idx, idx.Stops[models.UniqueKey(sys, id)])
		}
		if name == "" && trip != nil {
			name = trip.Headsign
		}
		if name == "" {
			n, b := resolveDisplayNameAndBorough(idx, fromDestinationStopID(idx, sys, trip))
			name = n
			if borough == "" {
				borough = b
			}
		}
		if name == "" && route != nil {
			name = route.LongName
		}
	case models.MNR:
		if trip != nil {
			name = trip.Headsign
		}
		if name == "" {
			n, b := resolveDisplayNameAndBorough(idx, fromDestinationStopID(idx, sys, trip))
			name, borough = n, b
		}
		if name == "" {
			n, b := resolveDisplayNameAndBorough(idx, lastByMaxSequence(idx, sys, updates))
			name, borough = n, b
		}
		if name == "" && route != nil {
			name = route.LongName
		}
	default: // LIRR and any future non-subway sub-system
		n, b := resolveDisplayNameAndBorough(idx, lastByMaxSequence(idx, sys, updates))
		name, borough = n, b
		if name == "" {
			n, b := resolveDisplayNameAndBorough(idx, fromDestinationStopID(idx, sys, trip))
			name, borough = n, b
		}
		if name == "" && trip != nil {
			name = trip.Headsign
		}
		if name == "" && route != nil {
			name = route.LongName
		}
	}
	return name, borough
}

// deriveDirection implements §4.2's per-sub-system direction rules.
func deriveDirection(idx *staticindex.StaticIndex, cfg sysconfig.Config, sys models.System, matchedStop *models.StopInfo, matchedOriginalStopID string, tripDesc *gtfsrt.TripDescriptor, trip *models.TripInfo, updates []*gtfsrt.TripUpdate_StopTimeUpdate) string {
	if cfg.PlatformSuffixDirection {
		suffix := ""
		if len(matchedOriginalStopID) > 0 {
			suffix = matchedOriginalStopID[len(matchedOriginalStopID)-1:]
		}
		parent := matchedStop
		if matchedStop != nil && matchedStop.ParentStationKey != "" {
			if p, ok := idx.Stops[matchedStop.ParentStationKey]; ok {
				parent = p
			}
		}
		switch suffix {
		case "N":
			if parent != nil && parent.NorthLabel != nil {
				return *parent.NorthLabel
			}
			return "N"
		case "S":
			if parent != nil && parent.SouthLabel != nil {
				return *parent.SouthLabel
			}
			return "S"
		}
		ext := feedcache.ExtractTripExtension(tripDesc, cfg.RealtimeExtensionKey)
		if ext.Direction != nil {
			if *ext.Direction == "N" {
				if parent != nil && parent.NorthLabel != nil {
					return *parent.NorthLabel
				}
				return "N"
			}
			if parent != nil && parent.SouthLabel != nil {
				return *parent.SouthLabel
			}
			return "S"
		}
		return "Unknown"
	}

	// Commuter rail: prefer the static directionId. LIRR and MNR share
	// the same trips.txt convention (0 -> Outbound, 1 -> Inbound).
	if trip != nil && trip.DirectionID != nil {
		if *trip.DirectionID == 0 {
			return "Outbound"
		}
		return "Inbound"
	}

	if sys == models.MNR {
		first, last := firstAndLastStops(idx, sys, updates)
		if first != nil && cfg.IsTerminal(first.OriginalStopID, first.Name) {
			return "Outbound"
		}
		if last != nil && cfg.IsTerminal(last.OriginalStopID, last.Name) {
			return "Inbound"
		}
	}
	return "Unknown"
}

// selectTime picks the departure (or, for commuter rail, substitute
// arrival) time for the matched stop-time update and checks it
// against the request's validity window.
func selectTime(update *gtfsrt.TripUpdate_StopTimeUpdate, commuterRail bool, win window) (realtimeInstant *time.Time, protoDelaySeconds *int32, usedArrival bool, valid bool) {
	dep := update.GetDeparture()
	arr := update.GetArrival()

	if dep != nil && dep.Time != nil {
		t := time.Unix(*dep.Time, 0)
		return &t, dep.Delay, false, win.contains(t)
	}
	if commuterRail && arr != nil && arr.Time != nil {
		t := time.Unix(*arr.Time, 0)
		return &t, arr.Delay, true, win.contains(t)
	}
	return nil, nil, false, false
}

func deriveTrack(cfg sysconfig.Config, update *gtfsrt.TripUpdate_StopTimeUpdate) *string {
	ext := feedcache.ExtractStopTimeExtension(update, cfg.RealtimeExtensionKey)
	return ext.Track
}

// processTripUpdate implements one pass of §4.2 step 3 for a single
// feed entity's trip update. It returns false when the trip doesn't
// serve any of the candidate stop ids, or when no valid departure
// time could be derived.
func (r *Resolver) processTripUpdate(
	idx *staticindex.StaticIndex,
	cfg sysconfig.Config,
	sys models.System,
	candidateSet map[string]struct{},
	tu *gtfsrt.TripUpdate,
	win window,
	now time.Time,
	processed map[string]struct{},
) (models.Departure, bool) {
	updates := tu.GetStopTimeUpdate()
	commuterRail := sys != models.Subway

	matchedIdx := -1
	var matchedOriginalID string
	for i, u := range updates {
		id := resolveStopID(sys, u.GetStopId())
		if _, ok := candidateSet[id]; ok {
			matchedIdx = i
			matchedOriginalID = id
			break
		}
	}
	if matchedIdx < 0 {
		return models.Departure{}, false
	}
	matchedUpdate := updates[matchedIdx]

	tripDesc := tu.GetTrip()
	rawTripID := tripDesc.GetTripId()
	normTripID := normalizeTripID(rawTripID, commuterRail)

	trip, staticTripID, vehicleLabel := staticTrip(idx, cfg, sys, tu, normTripID)
	processed[normTripID] = struct{}{}
	if vehicleLabel != "" {
		processed[vehicleLabel] = struct{}{}
	}

	var route *models.RouteInfo
	if trip != nil {
		route = idx.Routes[trip.RouteID]
	}

	matchedStop := idx.Stops[models.UniqueKey(sys, matchedOriginalID)]

	instant, protoDelay, usedArrival, valid := selectTime(matchedUpdate, commuterRail, win)
	if !valid {
		return models.Departure{}, false
	}

	var scheduledStopTime *models.StopTime
	if byStop, ok := idx.StopTimesByOriginalStopID[matchedOriginalID]; ok {
		scheduledStopTime = byStop[staticTripID]
	}

	var scheduled *time.Time
	if scheduledStopTime != nil {
		hhmmss := scheduledStopTime.ScheduledDepartureTime
		if usedArrival {
			hhmmss = scheduledStopTime.ScheduledArrivalTime
		}
		if t, ok := parseHHMMSS(now, hhmmss); ok {
			scheduled = &t
		}
	}

	var delayMinutes *int
	switch {
	case protoDelay != nil:
		d := roundDelayMinutes(int64(*protoDelay))
		delayMinutes = &d
	case scheduled != nil && instant != nil:
		d := roundDelayMinutes(int64(instant.Sub(*scheduled).Seconds()))
		delayMinutes = &d
	}

	estimated := instant
	departureTime := scheduled
	if departureTime == nil {
		departureTime = instant
	}
	if departureTime != nil && delayMinutes != nil {
		e := departureTime.Add(time.Duration(*delayMinutes) * time.Minute)
		estimated = &e
	} else if departureTime != nil {
		estimated = departureTime
	}

	destName, destBorough := deriveDestination(idx, sys, route, trip, updates)
	direction := deriveDirection(idx, cfg, sys, matchedStop, matchedOriginalID, tripDesc, trip, updates)
	track := deriveTrack(cfg, matchedUpdate)

	isTerminalArrival := usedArrival
	if matchedStop != nil {
		isTerminalArrival = isTerminalArrival || matchedStop.IsTerminal
	}

	var noteText, noteID string
	if scheduledStopTime != nil && scheduledStopTime.NoteID != "" {
		noteID = scheduledStopTime.NoteID
		if note, ok := idx.Notes[models.UniqueKey(sys, noteID)]; ok {
			noteText = note.Description
		}
	}

	var trainStatus string
	tripExt := feedcache.ExtractTripExtension(tripDesc, cfg.RealtimeExtensionKey)
	if tripExt.TrainStatus != nil {
		trainStatus = *tripExt.TrainStatus
	}

	dep := models.Departure{
		TripID:                 coalesce(staticTripID, normTripID),
		RouteID:                routeIDOf(trip),
		Destination:            destName,
		DestinationBorough:     destBorough,
		Direction:              direction,
		DepartureTime:          departureTime,
		EstimatedDepartureTime: estimated,
		DelayMinutes:           delayMinutes,
		Track:                  track,
		Status:                 deriveStatus(delayMinutes, estimated, now),
		System:                 sys,
		IsTerminalArrival:      isTerminalArrival,
		Source:                 "realtime",
		TrainStatus:            trainStatus,
		NoteID:                 noteID,
		NoteText:               noteText,
	}
	if route != nil {
		dep.RouteShortName = route.ShortName
		dep.RouteLongName = route.LongName
		dep.RouteColor = route.Color
	}
	if trip != nil {
		dep.PeakStatus = peakStatus(trip.PeakOffpeak)
	}
	if scheduledStopTime != nil {
		dep.PickupType = scheduledStopTime.PickupType
		dep.DropOffType = scheduledStopTime.DropOffType
	}
	return dep, true
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func routeIDOf(trip *models.TripInfo) string {
	if trip == nil {
		return ""
	}
	return trip.RouteID
}
