// Package timeutil supplies the node clock and the market office-hours
// schedule that drives the worker cycle interval.
package timeutil

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sleep pauses for d unless the context ends first, in which case it
// returns the context's error.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Clock returns the current instant. Components take a Clock instead of
// calling time.Now so tests can pin time.
type Clock func() time.Time

// DebugTimeEnv overrides the clock outside production; the value must be
// RFC-3339. Production ignores it.
const DebugTimeEnv = "DEBUG_SYSTEM_TIME"

// NewClock builds the process clock. The override is re-read on every call
// so operators can steer a running non-production node.
func NewClock(environment string, log *zap.Logger) Clock {
	var warnOnce sync.Once
	return func() time.Time {
		raw := os.Getenv(DebugTimeEnv)
		if raw == "" {
			return time.Now().UTC()
		}
		if environment == "production" {
			warnOnce.Do(func() {
				log.Warn("debug time override ignored in production")
			})
			return time.Now().UTC()
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			warnOnce.Do(func() {
				log.Error("invalid debug time override, using system time",
					zap.String("value", raw),
					zap.Error(err))
			})
			return time.Now().UTC()
		}
		return t.UTC()
	}
}

// DebugOverride reports the active debug time value, if any. It mirrors
// NewClock's rules: the override counts only outside production and only
// when it parses as RFC-3339.
func DebugOverride(environment string) (string, bool) {
	raw := os.Getenv(DebugTimeEnv)
	if raw == "" || environment == "production" {
		return "", false
	}
	if _, err := time.Parse(time.RFC3339, raw); err != nil {
		return "", false
	}
	return raw, true
}

// OfficeHours describes when the Vietnamese market is considered open for
// the purpose of choosing the worker cycle interval.
type OfficeHours struct {
	enabled      bool
	zone         string
	loc          *time.Location
	startHour    int
	endHour      int
	weekdaysOnly bool
}

// NewOfficeHours loads the zone once. A zone that cannot be loaded makes
// Contains always false, so the node falls back to the quiet interval.
func NewOfficeHours(enabled bool, zone string, startHour, endHour int, weekdaysOnly bool, log *zap.Logger) OfficeHours {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		log.Warn("failed to load office hours zone",
			zap.String("zone", zone),
			zap.Error(err))
		loc = nil
	}
	return OfficeHours{
		enabled:      enabled,
		zone:         zone,
		loc:          loc,
		startHour:    startHour,
		endHour:      endHour,
		weekdaysOnly: weekdaysOnly,
	}
}

// Enabled reports whether the schedule participates in interval choice.
func (o OfficeHours) Enabled() bool { return o.enabled }

// Zone returns the configured IANA zone name.
func (o OfficeHours) Zone() string { return o.zone }

// Hours returns the configured local start and end hours.
func (o OfficeHours) Hours() (start, end int) { return o.startHour, o.endHour }

// Contains reports whether t falls inside office hours.
func (o OfficeHours) Contains(t time.Time) bool {
	if o.loc == nil {
		return false
	}
	local := t.In(o.loc)
	if o.weekdaysOnly {
		switch local.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}
	h := local.Hour()
	return h >= o.startHour && h < o.endHour
}

// Interval picks the worker cycle interval for the instant t: the office
// interval inside office hours, the quiet interval otherwise. A disabled
// schedule always yields the office interval.
func (o OfficeHours) Interval(t time.Time, office, quiet time.Duration) time.Duration {
	if !o.enabled {
		return office
	}
	if o.Contains(t) {
		return office
	}
	return quiet
}
