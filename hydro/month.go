package hydro

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - Calculation period
// =============================================================================

// Month identifies one calculation period. The balance is monthly: every
// measurement, cache key, and transfer idempotency key is anchored to a
// Month. Comparable, so it works directly as a map key.
type Month struct {
	Year  int
	Month time.Month
}

// NewMonth builds a Month from a year and month.
func NewMonth(year int, month time.Month) Month {
	return Month{Year: year, Month: month}
}

// MonthOf truncates a time to its calendar month.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// CurrentMonth returns the month containing now, in UTC.
func CurrentMonth() Month {
	return MonthOf(time.Now().UTC())
}

// ParseMonth parses the wire format "2006-01".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q (want YYYY-MM): %w", s, err)
	}
	return MonthOf(t), nil
}

// String renders the wire format "2006-01".
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Time returns the first instant of the month in UTC.
func (m Month) Time() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether m is the zero Month.
func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// Prev returns the preceding month.
func (m Month) Prev() Month {
	return MonthOf(m.Time().AddDate(0, -1, 0))
}

// Next returns the following month.
func (m Month) Next() Month {
	return MonthOf(m.Time().AddDate(0, 1, 0))
}
