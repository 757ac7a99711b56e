package calendar

import (
	"sync"
	"testing"
	"time"

	"github.com/transitcore/departures-api/internal/gtfscsv"
)

func TestActiveServicesWeekdayMatch(t *testing.T) {
	weekly := []*gtfscsv.CalendarRow{
		{ServiceID: "WKDY", Monday: "1", Tuesday: "1", Wednesday: "1", Thursday: "1", Friday: "1",
			StartDate: "20260101", EndDate: "20261231"},
		{ServiceID: "WKND", Saturday: "1", Sunday: "1",
			StartDate: "20260101", EndDate: "20261231"},
	}
	c := New(weekly, nil)

	// 2026-07-31 is a Friday.
	got, err := c.ActiveServicesForToday(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ActiveServicesForToday: %v", err)
	}
	if _, ok := got["WKDY"]; !ok {
		t.Errorf("expected WKDY active on Friday, got %v", got)
	}
	if _, ok := got["WKND"]; ok {
		t.Errorf("did not expect WKND active on Friday, got %v", got)
	}
}

func TestActiveServicesExceptionAddAndRemove(t *testing.T) {
	weekly := []*gtfscsv.CalendarRow{
		{ServiceID: "WKDY", Friday: "1", StartDate: "20260101", EndDate: "20261231"},
	}
	dates := []*gtfscsv.CalendarDateRow{
		{ServiceID: "WKDY", Date: "20260731", ExceptionType: 2}, // removed for this Friday
		{ServiceID: "HOLIDAY", Date: "20260731", ExceptionType: 1},
	}
	c := New(weekly, dates)

	got, err := c.ActiveServicesForToday(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ActiveServicesForToday: %v", err)
	}
	if _, ok := got["WKDY"]; ok {
		t.Error("WKDY should have been removed by exception")
	}
	if _, ok := got["HOLIDAY"]; !ok {
		t.Error("HOLIDAY should have been added by exception")
	}
}

func TestActiveServicesOutsideDateRangeExcluded(t *testing.T) {
	weekly := []*gtfscsv.CalendarRow{
		{ServiceID: "EXPIRED", Friday: "1", StartDate: "20200101", EndDate: "20200601"},
	}
	c := New(weekly, nil)

	got, err := c.ActiveServicesForToday(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ActiveServicesForToday: %v", err)
	}
	if _, ok := got["EXPIRED"]; ok {
		t.Error("service outside [startDate,endDate] must not be active")
	}
}

func TestActiveServicesIdempotent(t *testing.T) {
	weekly := []*gtfscsv.CalendarRow{
		{ServiceID: "WKDY", Friday: "1", StartDate: "20260101", EndDate: "20261231"},
	}
	c := New(weekly, nil)
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	first, err := c.ActiveServicesForToday(today)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := c.ActiveServicesForToday(today)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("length mismatch: %v vs %v", first, second)
	}
	for k := range first {
		if _, ok := second[k]; !ok {
			t.Errorf("second call missing %q present in first", k)
		}
	}
}

func TestActiveServicesConcurrentFirstCallDoesNotRace(t *testing.T) {
	weekly := []*gtfscsv.CalendarRow{
		{ServiceID: "WKDY", Friday: "1", StartDate: "20260101", EndDate: "20261231"},
	}
	c := New(weekly, nil)
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.ActiveServicesForToday(today); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent call failed: %v", err)
	}
}

func TestActiveServicesMutationDoesNotCorruptCache(t *testing.T) {
	weekly := []*gtfscsv.CalendarRow{
		{ServiceID: "WKDY", Friday: "1", StartDate: "20260101", EndDate: "20261231"},
	}
	c := New(weekly, nil)
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	first, err := c.ActiveServicesForToday(today)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	first["INJECTED"] = struct{}{}

	second, err := c.ActiveServicesForToday(today)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if _, ok := second["INJECTED"]; ok {
		t.Error("mutating a returned set must not affect the cache")
	}
}
