package catalog

import (
	"time"

	"arcade-presence/internal/models"
)

var weekdayKeys = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// NextClosing computes the venue's next closing instant after now, in the
// venue's own timezone. Returns false when the venue has no usable schedule
// (unknown timezone, no hours at all), in which case callers skip the
// closing-time bound on departures.
//
// A close time at or before the open time means the venue runs past
// midnight, so the close lands on the following day. The scan starts one
// day back to catch an overnight session still running from yesterday.
func NextClosing(v *models.Venue, now time.Time) (time.Time, bool) {
	if v == nil || len(v.OpeningHours) == 0 {
		return time.Time{}, false
	}
	loc, err := time.LoadLocation(v.Timezone)
	if err != nil {
		return time.Time{}, false
	}

	local := now.In(loc)
	for offset := -1; offset <= 7; offset++ {
		day := local.AddDate(0, 0, offset)
		entry := v.OpeningHours[weekdayKeys[day.Weekday()]]
		if entry == nil {
			continue
		}
		openAt, okOpen := atClock(day, entry.Open, loc)
		closeAt, okClose := atClock(day, entry.Close, loc)
		if !okOpen || !okClose {
			continue
		}
		if !closeAt.After(openAt) {
			closeAt = closeAt.AddDate(0, 0, 1)
		}
		if closeAt.After(now) {
			return closeAt, true
		}
	}
	return time.Time{}, false
}

func atClock(day time.Time, clock string, loc *time.Location) (time.Time, bool) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc), true
}
