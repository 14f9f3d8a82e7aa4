package types

import (
	"time"

	"github.com/tradekit-lab/marketstream/pkg/errors"
)

// Interval is a candle interval in the provider-neutral wire notation.
type Interval string

const (
	IntervalOneSecond      Interval = "1s"
	IntervalOneMinute      Interval = "1m"
	IntervalThreeMinutes   Interval = "3m"
	IntervalFiveMinutes    Interval = "5m"
	IntervalFifteenMinutes Interval = "15m"
	IntervalThirtyMinutes  Interval = "30m"
	IntervalOneHour        Interval = "1h"
	IntervalTwoHours       Interval = "2h"
	IntervalFourHours      Interval = "4h"
	IntervalSixHours       Interval = "6h"
	IntervalEightHours     Interval = "8h"
	IntervalTwelveHours    Interval = "12h"
	IntervalOneDay         Interval = "1d"
)

// intervalDurations maps every supported interval to its fixed duration.
// Calendar intervals (weeks, months) are excluded on purpose: the synthesizer
// rolls windows on a uniform wall-clock grid and needs a constant width.
var intervalDurations = map[Interval]time.Duration{
	IntervalOneSecond:      time.Second,
	IntervalOneMinute:      time.Minute,
	IntervalThreeMinutes:   3 * time.Minute,
	IntervalFiveMinutes:    5 * time.Minute,
	IntervalFifteenMinutes: 15 * time.Minute,
	IntervalThirtyMinutes:  30 * time.Minute,
	IntervalOneHour:        time.Hour,
	IntervalTwoHours:       2 * time.Hour,
	IntervalFourHours:      4 * time.Hour,
	IntervalSixHours:       6 * time.Hour,
	IntervalEightHours:     8 * time.Hour,
	IntervalTwelveHours:    12 * time.Hour,
	IntervalOneDay:         24 * time.Hour,
}

// ParseInterval validates the given notation and returns it as an Interval.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", errors.Newf(errors.ErrCodeInvalidInterval, "unsupported interval: %q", s)
	}

	return iv, nil
}

// Duration returns the fixed width of one window of this interval.
// Returns 0 for unsupported intervals.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// Valid reports whether the interval is one of the supported notations.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]

	return ok
}

// Truncate aligns t down to the wall-clock grid of this interval.
// The result is the window start containing t.
func (i Interval) Truncate(t time.Time) time.Time {
	d := i.Duration()
	if d == 0 {
		return t
	}

	return t.UTC().Truncate(d)
}

func (i Interval) String() string {
	return string(i)
}
