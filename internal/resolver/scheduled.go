package resolver

import (
	"fmt"
	"time"

	"github.com/transitcore/departures-api/internal/calendar"
	"github.com/transitcore/departures-api/internal/models"
	"github.com/transitcore/departures-api/internal/staticindex"
	"github.com/transitcore/departures-api/internal/sysconfig"
)

const pickupTypeNone = 1

// scheduledFallback implements §4.2 step 4: for every candidate stop
// id, every static trip serving it today that wasn't already covered
// by a realtime departure becomes a scheduled Departure.
func (r *Resolver) scheduledFallback(
	idx *staticindex.StaticIndex,
	cal *calendar.Calendar,
	cfg sysconfig.Config,
	sys models.System,
	candidateIDs []string,
	win window,
	now time.Time,
	processed map[string]struct{},
) ([]models.Departure, error) {
	if cal == nil {
		return nil, fmt.Errorf("no calendar available for system %s", sys)
	}
	activeServices, err := cal.ActiveServicesForToday(now)
	if err != nil {
		return nil, fmt.Errorf("computing active services: %w", err)
	}

	var out []models.Departure
	for _, originalStopID := range candidateIDs {
		byTrip, ok := idx.StopTimesByOriginalStopID[originalStopID]
		if !ok {
			continue
		}
		stop := idx.Stops[models.UniqueKey(sys, originalStopID)]

		for tripID, st := range byTrip {
			trip, ok := idx.Trips[tripID]
			if !ok {
				continue
			}
			if trip.System != sys {
				continue
			}
			if _, skip := processed[tripID]; skip {
				continue
			}
			if trip.ShortName != "" {
				if _, skip := processed[trip.ShortName]; skip {
					continue
				}
			}
			if _, active := activeServices[trip.ServiceID]; !active {
				continue
			}
			if st.PickupType == pickupTypeNone {
				continue
			}

			scheduledTime, ok := parseHHMMSS(now, st.ScheduledDepartureTime)
			if !ok {
				continue
			}
			if !win.contains(scheduledTime) {
				continue
			}

			route := idx.Routes[trip.RouteID]

			isTerminalArrival := false
			if stop != nil {
				isTerminalArrival = stop.IsTerminal
			}
			if sys != models.Subway && trip.DirectionID != nil && *trip.DirectionID == 1 {
				isTerminalArrival = true
			}

			dep := models.Departure{
				TripID:                 tripID,
				RouteID:                trip.RouteID,
				Destination:            destinationName(idx, sys, trip),
				Direction:              deriveScheduledDirection(cfg, sys, trip),
				DepartureTime:          &scheduledTime,
				EstimatedDepartureTime: &scheduledTime,
				Status:                 "Scheduled",
				System:                 sys,
				IsTerminalArrival:      isTerminalArrival,
				Source:                 "scheduled",
				PeakStatus:             peakStatus(trip.PeakOffpeak),
				PickupType:             st.PickupType,
				DropOffType:            st.DropOffType,
				NoteID:                 st.NoteID,
				Track:                  st.Track,
			}
			if route != nil {
				dep.RouteShortName = route.ShortName
				dep.RouteLongName = route.LongName
				dep.RouteColor = route.Color
			}
			if st.NoteID != "" {
				if note, ok := idx.Notes[models.UniqueKey(sys, st.NoteID)]; ok {
					dep.NoteText = note.Description
				}
			}
			out = append(out, dep)
		}
	}
	return out, nil
}

func destinationName(idx *staticindex.StaticIndex, sys models.System, trip *models.TripInfo) string {
	if trip.DestinationOriginalStopID != "" {
		if s, ok := idx.Stops[models.UniqueKey(sys, trip.DestinationOriginalStopID)]; ok {
			name, _ := resolveDisplayNameAndBorough(idx, s)
			if name != "" {
				return name
			}
		}
	}
	if trip.Headsign != "" {
		return trip.Headsign
	}
	if route := idx.Routes[trip.RouteID]; route != nil {
		return route.LongName
	}
	return ""
}

func deriveScheduledDirection(cfg sysconfig.Config, sys models.System, trip *models.TripInfo) string {
	if cfg.PlatformSuffixDirection {
		return "Unknown"
	}
	if trip.DirectionID == nil {
		return "Unknown"
	}
	// LIRR and MNR share the same trips.txt convention (0 -> Outbound,
	// 1 -> Inbound).
	if *trip.DirectionID == 0 {
		return "Outbound"
	}
	return "Inbound"
}
