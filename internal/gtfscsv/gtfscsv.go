// Package gtfscsv provides the bulk and streaming CSV readers (C3) used
// by the static compiler. Bulk tables are decoded in one shot with
// gocsv; stop_times.txt, which can be the largest table by a wide
// margin, is read row-by-row so the compiler's streaming pass never
// materializes the whole file.
package gtfscsv

import (
	"io"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"
)

var configureOnce sync.Once

// Configure installs a BOM-stripping, lazily-quoted CSV reader as
// gocsv's default. Real-world GTFS bundles are exported by a wide
// range of agency tooling and are not always strict about quoting or
// byte-order marks; this mirrors tidbyt-gtfs's parse.ParseStatic setup.
func Configure() {
	configureOnce.Do(func() {
		gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
			return gocsv.LazyCSVReader(bom.NewReader(in))
		})
	})
}

// RouteRow is one row of routes.txt.
type RouteRow struct {
	RouteID   string `csv:"route_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	Color     string `csv:"route_color"`
	TextColor string `csv:"route_text_color"`
	RouteType int    `csv:"route_type"`
}

// StopRow is one row of stops.txt.
type StopRow struct {
	StopID        string  `csv:"stop_id"`
	Name          string  `csv:"stop_name"`
	Lat           float64 `csv:"stop_lat"`
	Lon           float64 `csv:"stop_lon"`
	ParentStation string  `csv:"parent_station"`
	LocationType  string  `csv:"location_type"`
}

// TripRow is one row of trips.txt.
type TripRow struct {
	RouteID     string `csv:"route_id"`
	ServiceID   string `csv:"service_id"`
	TripID      string `csv:"trip_id"`
	Headsign    string `csv:"trip_headsign"`
	ShortName   string `csv:"trip_short_name"`
	DirectionID string `csv:"direction_id"`
	PeakOffpeak string `csv:"peak_offpeak"`
}

// StopTimeRow is one row of stop_times.txt.
type StopTimeRow struct {
	TripID        string `csv:"trip_id"`
	StopID        string `csv:"stop_id"`
	ArrivalTime   string `csv:"arrival_time"`
	DepartureTime string `csv:"departure_time"`
	StopSequence  int    `csv:"stop_sequence"`
	Track         string `csv:"track"`
	PickupType    string `csv:"pickup_type"`
	DropOffType   string `csv:"drop_off_type"`
	NoteID        string `csv:"note_id"`
}

// CalendarRow is one row of calendar.txt.
type CalendarRow struct {
	ServiceID string `csv:"service_id"`
	Monday    string `csv:"monday"`
	Tuesday   string `csv:"tuesday"`
	Wednesday string `csv:"wednesday"`
	Thursday  string `csv:"thursday"`
	Friday    string `csv:"friday"`
	Saturday  string `csv:"saturday"`
	Sunday    string `csv:"sunday"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
}

// CalendarDateRow is one row of calendar_dates.txt.
type CalendarDateRow struct {
	ServiceID     string `csv:"service_id"`
	Date          string `csv:"date"`
	ExceptionType int    `csv:"exception_type"`
}

// NoteRow is one row of the commuter-rail-only notes.txt.
type NoteRow struct {
	NoteID      string `csv:"note_id"`
	Mark        string `csv:"note_mark"`
	Title       string `csv:"note_title"`
	Description string `csv:"note_desc"`
}

// StationDetailRow is one row of the curated subway station CSV.
type StationDetailRow struct {
	GTFSStopID  string `csv:"GTFS Stop ID"`
	Borough     string `csv:"Borough"`
	NorthLabel  string `csv:"North Direction Label"`
	SouthLabel  string `csv:"South Direction Label"`
	ADA         string `csv:"ADA"`
	ADANotes    string `csv:"ADA Notes"`
}

// ReadRoutes decodes routes.txt in full.
func ReadRoutes(r io.Reader) ([]*RouteRow, error) {
	Configure()
	var rows []*RouteRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshaling routes.txt")
	}
	return rows, nil
}

// ReadStops decodes stops.txt in full.
func ReadStops(r io.Reader) ([]*StopRow, error) {
	Configure()
	var rows []*StopRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshaling stops.txt")
	}
	return rows, nil
}

// ReadTrips decodes trips.txt in full.
func ReadTrips(r io.Reader) ([]*TripRow, error) {
	Configure()
	var rows []*TripRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshaling trips.txt")
	}
	return rows, nil
}

// ReadCalendar decodes calendar.txt in full. Missing file is the
// caller's concern; a header-only file yields an empty, non-error
// result, while a zero-byte reader is reported as an error by gocsv.
func ReadCalendar(r io.Reader) ([]*CalendarRow, error) {
	Configure()
	var rows []*CalendarRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshaling calendar.txt")
	}
	return rows, nil
}

// ReadCalendarDates decodes calendar_dates.txt in full.
func ReadCalendarDates(r io.Reader) ([]*CalendarDateRow, error) {
	Configure()
	var rows []*CalendarDateRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshaling calendar_dates.txt")
	}
	return rows, nil
}

// ReadNotes decodes the commuter-rail notes.txt in full.
func ReadNotes(r io.Reader) ([]*NoteRow, error) {
	Configure()
	var rows []*NoteRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshaling notes.txt")
	}
	return rows, nil
}

// ReadStationDetails decodes the curated subway station CSV in full.
func ReadStationDetails(r io.Reader) ([]*StationDetailRow, error) {
	Configure()
	var rows []*StationDetailRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshaling station detail csv")
	}
	return rows, nil
}

// StreamStopTimes reads stop_times.txt row by row, invoking fn for
// each decoded row without ever materializing the full table. This is
// the streaming pass required by the static compiler: stop_times.txt
// is routinely the largest table in a GTFS bundle by an order of
// magnitude or more.
func StreamStopTimes(r io.Reader, fn func(*StopTimeRow) error) error {
	Configure()
	err := gocsv.UnmarshalToCallbackWithError(r, fn)
	if err != nil {
		return errors.Wrap(err, "streaming stop_times.txt")
	}
	return nil
}
