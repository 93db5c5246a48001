package domain

import (
	"math"
	"time"
)

const millisPerDay = 24 * 60 * 60 * 1000

// DaysRemaining returns the number of calendar days from now until the
// start date. Both sides are truncated to local midnight and the
// millisecond difference is ceiling-divided by one day. Negative values
// mean the start date is in the past.
func DaysRemaining(startDate string, now time.Time) (int, error) {
	start, err := time.ParseInLocation(DateLayout, startDate, now.Location())
	if err != nil {
		return 0, err
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	diff := start.Sub(today).Milliseconds()
	return int(math.Ceil(float64(diff) / float64(millisPerDay))), nil
}

// AlertLevel derives the urgency indicator for an activity: 1 when the
// activity starts today or tomorrow, 3 when it starts in two or three
// days, absent otherwise (including already-started activities and
// unparseable dates).
func AlertLevel(a Activity, now time.Time) (int, bool) {
	days, err := DaysRemaining(a.StartDate, now)
	if err != nil {
		return 0, false
	}
	switch {
	case days >= 0 && days <= 1:
		return 1, true
	case days > 1 && days <= 3:
		return 3, true
	}
	return 0, false
}
