// Package models holds the wire and in-memory market data types shared by
// the store, the ingestion pipeline, and the workers.
package models

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Bar is one OHLCV observation for a symbol over one interval. On the wire
// time is RFC-3339 UTC; symbol may be omitted in series responses but is
// mandatory on ingestion paths.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	Symbol string    `json:"symbol,omitempty"`
}

// Validate reports whether the bar carries usable market data: finite
// positive prices and a non-negative volume.
func (b Bar) Validate() error {
	prices := [...]struct {
		name  string
		value float64
	}{
		{"open", b.Open},
		{"high", b.High},
		{"low", b.Low},
		{"close", b.Close},
	}
	for _, p := range prices {
		if math.IsNaN(p.value) || math.IsInf(p.value, 0) {
			return fmt.Errorf("%s is not finite", p.name)
		}
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", p.name, p.value)
		}
	}
	if b.Volume < 0 {
		return fmt.Errorf("volume must be non-negative, got %d", b.Volume)
	}
	return nil
}

// Normalize sorts bars ascending by time and collapses duplicate
// timestamps, keeping the most recently appended bar for each instant.
// The input slice is modified and returned.
func Normalize(bars []Bar) []Bar {
	if len(bars) < 2 {
		return bars
	}
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Time.Before(bars[j].Time)
	})
	out := bars[:1]
	for _, b := range bars[1:] {
		if b.Time.Equal(out[len(out)-1].Time) {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

// Last returns the final bar of an ascending series.
func Last(series []Bar) (Bar, bool) {
	if len(series) == 0 {
		return Bar{}, false
	}
	return series[len(series)-1], true
}

// CloneSeries deep-copies a series so callers can read it lock-free.
func CloneSeries(series []Bar) []Bar {
	if series == nil {
		return nil
	}
	out := make([]Bar, len(series))
	copy(out, series)
	return out
}
