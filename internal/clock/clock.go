// Package clock computes the business notion of "today".
//
// The operating day starts at a fixed cutover hour (01:00 by default) in the
// business location rather than at midnight, so late-night activity belongs
// to the previous day. Every "today" scoped read in the application takes
// its range from Business.OperatingDayRange.
package clock

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultCutoverHour is the local hour at which a new operating day begins.
const DefaultCutoverHour = 1

// Clock abstracts wall-clock time so tests can pin "now".
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Manual is a settable Clock for tests and simulations. Safe for concurrent use.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

// NewManual returns a Manual clock pinned at t.
func NewManual(t time.Time) *Manual { return &Manual{t: t} }

// Now returns the pinned time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Set pins the clock at t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
	return m.t
}

// QuotaPeriod selects how monthly quota windows are bounded.
type QuotaPeriod string

const (
	// PeriodCalendar bounds months at local midnight on the 1st.
	PeriodCalendar QuotaPeriod = "calendar"
	// PeriodOperating bounds months at the cutover hour on the 1st.
	PeriodOperating QuotaPeriod = "operating"
)

// ParseQuotaPeriod validates a configured quota period.
func ParseQuotaPeriod(s string) (QuotaPeriod, error) {
	switch QuotaPeriod(strings.ToLower(strings.TrimSpace(s))) {
	case PeriodCalendar, "":
		return PeriodCalendar, nil
	case PeriodOperating:
		return PeriodOperating, nil
	default:
		return "", fmt.Errorf("unknown quota period %q", s)
	}
}

// Business converts wall-clock instants into operating days and months.
type Business struct {
	Loc         *time.Location
	CutoverHour int
	Clock       Clock
}

// New constructs a Business clock. A nil location means UTC, a nil clock
// means the system clock, and an out-of-range cutover falls back to the default.
func New(loc *time.Location, cutoverHour int, clk Clock) *Business {
	if loc == nil {
		loc = time.UTC
	}
	if clk == nil {
		clk = System{}
	}
	if cutoverHour < 0 || cutoverHour > 23 {
		cutoverHour = DefaultCutoverHour
	}
	return &Business{Loc: loc, CutoverHour: cutoverHour, Clock: clk}
}

// Now returns the current instant in the business location.
func (b *Business) Now() time.Time { return b.Clock.Now().In(b.Loc) }

// OperatingDate returns local midnight of the operating date containing now:
// the previous calendar date before the cutover hour, the same date otherwise.
func (b *Business) OperatingDate(now time.Time) time.Time {
	local := now.In(b.Loc)
	y, m, d := local.Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, b.Loc)
	if local.Hour() < b.CutoverHour {
		date = date.AddDate(0, 0, -1)
	}
	return date
}

// OperatingDayRange returns the half-open range [start, end) of the operating
// day containing now, i.e. cutover of the operating date up to cutover of
// the following date.
func (b *Business) OperatingDayRange(now time.Time) (start, end time.Time) {
	date := b.OperatingDate(now)
	start = b.atCutover(date)
	end = b.atCutover(date.AddDate(0, 0, 1))
	return start, end
}

// MonthRange returns the calendar month containing now, bounded at local
// midnight on the 1st.
func (b *Business) MonthRange(now time.Time) (start, end time.Time) {
	local := now.In(b.Loc)
	start = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, b.Loc)
	return start, start.AddDate(0, 1, 0)
}

// OperatingMonthRange returns the month of the operating date containing now,
// bounded at the cutover hour on the 1st.
func (b *Business) OperatingMonthRange(now time.Time) (start, end time.Time) {
	date := b.OperatingDate(now)
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, b.Loc)
	return b.atCutover(first), b.atCutover(first.AddDate(0, 1, 0))
}

// QuotaRange returns the month window used for quota counting.
func (b *Business) QuotaRange(now time.Time, p QuotaPeriod) (start, end time.Time) {
	if p == PeriodOperating {
		return b.OperatingMonthRange(now)
	}
	return b.MonthRange(now)
}

func (b *Business) atCutover(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), b.CutoverHour, 0, 0, 0, b.Loc)
}
