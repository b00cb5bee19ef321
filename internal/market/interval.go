package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Interval is an exchange kline interval such as "1h". Only fixed-length
// intervals are supported since the duration drives cursor arithmetic.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval3m:  3 * time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval2h:  2 * time.Hour,
	Interval4h:  4 * time.Hour,
	Interval6h:  6 * time.Hour,
	Interval8h:  8 * time.Hour,
	Interval12h: 12 * time.Hour,
	Interval1d:  24 * time.Hour,
	Interval3d:  72 * time.Hour,
	Interval1w:  7 * 24 * time.Hour,
}

// ParseInterval normalises input and rejects unsupported intervals.
func ParseInterval(input string) (Interval, error) {
	iv := Interval(strings.ToLower(strings.TrimSpace(input)))
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("unsupported interval: %q", input)
	}
	return iv, nil
}

// SupportedIntervals returns all interval keys, shortest first.
func SupportedIntervals() []Interval {
	out := make([]Interval, 0, len(intervalDurations))
	for iv := range intervalDurations {
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool {
		return intervalDurations[out[i]] < intervalDurations[out[j]]
	})
	return out
}

// Duration returns the exact interval length, or 0 if unsupported.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

func (i Interval) Millis() int64 {
	return i.Duration().Milliseconds()
}

func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

func (i Interval) String() string { return string(i) }
