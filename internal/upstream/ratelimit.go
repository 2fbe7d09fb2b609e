package upstream

import (
	"context"
	"sync"
	"time"
)

// slidingWindow admits at most limit sends in any rolling window. When the
// window is full the caller sleeps until just past the expiry of the oldest
// send, then re-attempts admission.
type slidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	grace  time.Duration
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	sent   []time.Time
}

func newSlidingWindow(limit int) *slidingWindow {
	return &slidingWindow{
		limit:  limit,
		window: time.Minute,
		grace:  100 * time.Millisecond,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// wait blocks until a send slot is free, then claims it.
func (w *slidingWindow) wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := w.now()
		kept := w.sent[:0]
		for _, t := range w.sent {
			if now.Sub(t) < w.window {
				kept = append(kept, t)
			}
		}
		w.sent = kept

		if len(w.sent) < w.limit {
			w.sent = append(w.sent, now)
			w.mu.Unlock()
			return nil
		}
		pause := w.sent[0].Add(w.window).Sub(now) + w.grace
		w.mu.Unlock()

		if err := w.sleep(ctx, pause); err != nil {
			return err
		}
	}
}

// sleepContext sleeps for d unless the context ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
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
