package pricing

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME CONTEXT - Calendar fields DATE conditions read from
// =============================================================================

// TimeContext is the calendar view of the evaluation instant.
type TimeContext struct {
	Date       string // YYYY-MM-DD
	Year       int
	Month      int // 1-12
	DayOfMonth int
	DayOfWeek  int // 0=Sunday .. 6=Saturday
	Hour       int
	Minute     int
}

// NewTimeContext derives calendar fields from ts. With a timezone the fields
// reflect that IANA zone; an empty timezone uses system-local time.
func NewTimeContext(ts time.Time, timezone string) (TimeContext, error) {
	loc := time.Local
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return TimeContext{}, &TimezoneError{Name: timezone, Err: err}
		}
		loc = l
	}
	t := ts.In(loc)
	return TimeContext{
		Date:       t.Format("2006-01-02"),
		Year:       t.Year(),
		Month:      int(t.Month()),
		DayOfMonth: t.Day(),
		DayOfWeek:  int(t.Weekday()),
		Hour:       t.Hour(),
		Minute:     t.Minute(),
	}, nil
}

// Field returns the value a DATE condition with the given field name reads.
func (tc TimeContext) Field(name string) (any, bool) {
	switch name {
	case "date":
		return tc.Date, true
	case "year":
		return tc.Year, true
	case "month":
		return tc.Month, true
	case "dayOfMonth":
		return tc.DayOfMonth, true
	case "dayOfWeek":
		return tc.DayOfWeek, true
	case "hour":
		return tc.Hour, true
	case "minute":
		return tc.Minute, true
	default:
		return nil, false
	}
}

func (tc TimeContext) String() string {
	return fmt.Sprintf("%s %02d:%02d (dow %d)", tc.Date, tc.Hour, tc.Minute, tc.DayOfWeek)
}

// dateFields is the DATE field whitelist used by validation.
var dateFields = []string{"date", "year", "month", "dayOfMonth", "dayOfWeek", "hour", "minute"}
