package ingest

import (
	"sync/atomic"
	"time"
)

// Watermark is the wall-clock instant of the most recent authenticated
// commit. It only advances; concurrent writers race harmlessly because
// readers check a lower bound only.
type Watermark struct {
	nanos atomic.Int64
}

// NewWatermark starts the watermark at t, so a freshly booted node gives
// internal ingestion one trust window before the public path locks.
func NewWatermark(t time.Time) *Watermark {
	w := &Watermark{}
	w.nanos.Store(t.UnixNano())
	return w
}

// Advance raises the watermark to t. Older instants are ignored.
func (w *Watermark) Advance(t time.Time) {
	n := t.UnixNano()
	for {
		cur := w.nanos.Load()
		if n <= cur || w.nanos.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Time returns the current watermark.
func (w *Watermark) Time() time.Time {
	return time.Unix(0, w.nanos.Load()).UTC()
}
