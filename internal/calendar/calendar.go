// Package calendar computes the set of GTFS service ids active on a
// given civil date from calendar.txt's weekly pattern and
// calendar_dates.txt's per-date exceptions (C5). One Calendar is built
// per sub-system bundle, mirroring tidbyt-gtfs's per-feed service
// computation.
package calendar

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/transitcore/departures-api/internal/gtfscsv"
)

const dateLayout = "20060102"

// exceptionType mirrors GTFS's calendar_dates.txt exception_type
// column: 1 adds service, 2 removes it.
const (
	exceptionAdd    = 1
	exceptionRemove = 2
)

type weeklyRow struct {
	serviceID string
	days      [7]bool // Sunday=0 .. Saturday=6, matching time.Weekday
	start     string
	end       string
}

// Calendar answers activeServicesForToday for one sub-system's
// calendar.txt/calendar_dates.txt pair. It is safe for concurrent use;
// the per-date cache is guarded by a singleflight group so concurrent
// first-callers-of-the-day collapse into one computation instead of
// racing on the cache.
type Calendar struct {
	weekly     []weeklyRow
	exceptions map[string][]exception // date -> exceptions for that date

	mu    sync.RWMutex
	cache map[string]map[string]struct{}
	group singleflight.Group
}

type exception struct {
	serviceID string
	kind      int
}

// New builds a Calendar from decoded calendar.txt and
// calendar_dates.txt rows. Either slice may be empty.
func New(weekly []*gtfscsv.CalendarRow, dates []*gtfscsv.CalendarDateRow) *Calendar {
	c := &Calendar{
		exceptions: map[string][]exception{},
		cache:      map[string]map[string]struct{}{},
	}
	for _, row := range weekly {
		c.weekly = append(c.weekly, weeklyRow{
			serviceID: row.ServiceID,
			days: [7]bool{
				row.Sunday == "1",
				row.Monday == "1",
				row.Tuesday == "1",
				row.Wednesday == "1",
				row.Thursday == "1",
				row.Friday == "1",
				row.Saturday == "1",
			},
			start: row.StartDate,
			end:   row.EndDate,
		})
	}
	for _, row := range dates {
		c.exceptions[row.Date] = append(c.exceptions[row.Date], exception{
			serviceID: row.ServiceID,
			kind:      row.ExceptionType,
		})
	}
	return c
}

// ActiveServicesForToday returns the set of service ids active on
// now's civil date, computing it once per date and caching the
// result. Calling it twice for the same date returns identical sets.
func (c *Calendar) ActiveServicesForToday(now time.Time) (map[string]struct{}, error) {
	key := now.Format(dateLayout)

	c.mu.RLock()
	if cached, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return cloneSet(cached), nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		if cached, ok := c.cache[key]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()

		set, err := c.compute(key)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[key] = set
		c.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneSet(v.(map[string]struct{})), nil
}

func (c *Calendar) compute(key string) (map[string]struct{}, error) {
	weekday, err := dateToWeekday(key)
	if err != nil {
		return nil, fmt.Errorf("computing active services for %s: %w", key, err)
	}

	set := map[string]struct{}{}
	for _, row := range c.weekly {
		if !row.days[weekday] {
			continue
		}
		if key < row.start || key > row.end {
			continue
		}
		set[row.serviceID] = struct{}{}
	}

	for _, ex := range c.exceptions[key] {
		switch ex.kind {
		case exceptionAdd:
			set[ex.serviceID] = struct{}{}
		case exceptionRemove:
			delete(set, ex.serviceID)
		}
	}
	return set, nil
}

func dateToWeekday(key string) (time.Weekday, error) {
	t, err := time.Parse(dateLayout, key)
	if err != nil {
		return 0, err
	}
	return t.Weekday(), nil
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
