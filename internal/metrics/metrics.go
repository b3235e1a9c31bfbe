package metrics

import (
	"fmt"
	"time"

	"scheduling-sync-service/internal/store"
	"scheduling-sync-service/internal/sync"
)

// Stats are the aggregates for one window. Bookings count by creation
// day, calls by scheduled day; the two dimensions are independent.
type Stats struct {
	TotalBookings int     `json:"total_bookings"`
	CallsTaken    int     `json:"calls_taken"`
	Cancelled     int     `json:"cancelled"`
	Upcoming      int     `json:"upcoming"`
	ShowUpRate    float64 `json:"show_up_rate"`
}

// Growth is signed percentage change against the previous window,
// zero when the previous value is zero.
type Growth struct {
	TotalBookings float64 `json:"total_bookings"`
	CallsTaken    float64 `json:"calls_taken"`
	Cancelled     float64 `json:"cancelled"`
	ShowUpRate    float64 `json:"show_up_rate"`
}

type Report struct {
	Current  Stats  `json:"current"`
	Previous Stats  `json:"previous"`
	Growth   Growth `json:"growth"`
}

// Range is an inclusive civil-date range in a named timezone. From and
// To are midnights in Loc.
type Range struct {
	From time.Time
	To   time.Time
	Loc  *time.Location
}

const dateLayout = "2006-01-02"

func ParseRange(from, to, tz string) (Range, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Range{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	f, err := time.ParseInLocation(dateLayout, from, loc)
	if err != nil {
		return Range{}, fmt.Errorf("invalid from date %q: %w", from, err)
	}
	t, err := time.ParseInLocation(dateLayout, to, loc)
	if err != nil {
		return Range{}, fmt.Errorf("invalid to date %q: %w", to, err)
	}
	if t.Before(f) {
		return Range{}, fmt.Errorf("to date %s precedes from date %s", to, from)
	}
	return Range{From: f, To: t, Loc: loc}, nil
}

// Days returns the inclusive length of the range in calendar days.
func (r Range) Days() int {
	days := 0
	for d := r.From; !d.After(r.To); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}

// Previous returns the equal-length window ending the day before From.
func (r Range) Previous() Range {
	n := r.Days()
	return Range{
		From: r.From.AddDate(0, 0, -n),
		To:   r.From.AddDate(0, 0, -1),
		Loc:  r.Loc,
	}
}

// dayOf truncates an instant to its calendar day in loc. Day
// membership is always decided in the caller's named timezone, never
// in UTC or server-local time.
func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func inRange(day time.Time, r Range) bool {
	return !day.Before(r.From) && !day.After(r.To)
}

// Compute aggregates one window from reconciled events. Pure; now only
// feeds the completed/upcoming classification.
//
// The show-up rate measures attendance among calls whose slot has
// passed: a cancellation scheduled in the future counts as cancelled
// but is not a missed call yet, so it stays out of the denominator.
func Compute(events []*store.Event, r Range, now time.Time) Stats {
	var s Stats
	missed := 0
	for _, e := range events {
		if inRange(dayOf(e.CreatedAt, r.Loc), r) {
			s.TotalBookings++
		}
		if inRange(dayOf(e.ScheduledAt, r.Loc), r) {
			switch sync.Classify(e.Status, e.ScheduledAt, now) {
			case sync.CategoryCancelled:
				s.Cancelled++
				if e.ScheduledAt.Before(now) {
					missed++
				}
			case sync.CategoryCompleted:
				s.CallsTaken++
			case sync.CategoryUpcoming:
				s.Upcoming++
			}
		}
	}
	s.ShowUpRate = rate(s.CallsTaken, s.CallsTaken+missed)
	return s
}

// rate is a percentage with a guarded denominator: 0/0 is 0, never NaN.
func rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func growth(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

func compare(current, previous Stats) Growth {
	return Growth{
		TotalBookings: growth(float64(current.TotalBookings), float64(previous.TotalBookings)),
		CallsTaken:    growth(float64(current.CallsTaken), float64(previous.CallsTaken)),
		Cancelled:     growth(float64(current.Cancelled), float64(previous.Cancelled)),
		ShowUpRate:    growth(current.ShowUpRate, previous.ShowUpRate),
	}
}
