package cfg

import (
	"strings"
	"time"
)

// IsOpen reports whether t falls inside one of the trading ranges configured
// for t's weekday. Both range ends are inclusive and compared at minute
// resolution in t's location. Malformed ranges never match.
func (s TradingSettings) IsOpen(t time.Time) bool {
	ranges, ok := s.TradingHours[t.Weekday().String()]
	if !ok {
		return false
	}

	now := t.Hour()*60 + t.Minute()
	for _, r := range ranges {
		start, end, found := strings.Cut(r, "-")
		if !found {
			continue
		}
		from, err := parseClock(start)
		if err != nil {
			continue
		}
		to, err := parseClock(end)
		if err != nil {
			continue
		}
		if from <= now && now <= to {
			return true
		}
	}
	return false
}
