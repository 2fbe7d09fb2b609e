// Package worker runs the background loops that keep the store fresh: the
// core fetch-and-distribute worker, its gossip broadcaster, and the
// follower sync puller.
package worker

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/aipriceaction/priceproxy/internal/models"
	"github.com/aipriceaction/priceproxy/internal/store"
	"github.com/aipriceaction/priceproxy/internal/timeutil"
	"github.com/aipriceaction/priceproxy/pkg/metrics"
)

const (
	// batchSize is how many symbols share one upstream request.
	batchSize = 10

	// fetchStart is the first trading day the proxy backfills from.
	fetchStart = "2024-01-01"

	// fetchInterval is the bar resolution the proxy serves.
	fetchInterval = "1D"

	interBatchMin = 1000 * time.Millisecond
	interBatchMax = 2000 * time.Millisecond
)

// Fetcher pulls batched history from the upstream market API. A symbol
// with no usable data is absent from the result map.
type Fetcher interface {
	FetchBatch(ctx context.Context, symbols []string, start, end, interval string) (map[string][]models.Bar, error)
}

// Core is the fetch-and-distribute worker of a core node. Each cycle it
// fetches the whole symbol universe in shuffled batches, installs the
// returned series, and gossips every fresh last bar to the peer networks.
type Core struct {
	fetcher     Fetcher
	store       *store.SymbolStore
	broadcaster *Broadcaster
	symbols     []string
	hours       timeutil.OfficeHours
	interval    time.Duration
	quiet       time.Duration
	status      *Status
	clock       timeutil.Clock
	sleep       func(context.Context, time.Duration) error
	log         *zap.Logger
}

// NewCore builds the core worker over the full symbol universe. Symbols
// are deduplicated once here; every cycle reshuffles them.
func NewCore(
	fetcher Fetcher,
	st *store.SymbolStore,
	broadcaster *Broadcaster,
	symbols []string,
	hours timeutil.OfficeHours,
	officeInterval, quietInterval time.Duration,
	status *Status,
	clock timeutil.Clock,
	log *zap.Logger,
) *Core {
	return &Core{
		fetcher:     fetcher,
		store:       st,
		broadcaster: broadcaster,
		symbols:     dedupe(symbols),
		hours:       hours,
		interval:    officeInterval,
		quiet:       quietInterval,
		status:      status,
		clock:       clock,
		sleep:       timeutil.Sleep,
		log:         log.Named("worker"),
	}
}

// Run executes fetch cycles until the context is canceled. Every failure
// inside a cycle is logged and survived; only cancellation stops the loop.
func (c *Core) Run(ctx context.Context) {
	c.log.Info("core worker started",
		zap.Int("symbols", len(c.symbols)),
		zap.Duration("office_interval", c.interval),
		zap.Duration("quiet_interval", c.quiet))

	for {
		c.runCycle(ctx)
		if ctx.Err() != nil {
			break
		}

		now := c.clock()
		c.status.RecordCycle(now)
		c.publishStoreSize()

		if err := c.sleep(ctx, c.hours.Interval(now, c.interval, c.quiet)); err != nil {
			break
		}
	}
	c.broadcaster.Wait()
	c.log.Info("core worker stopped")
}

// runCycle fetches every batch once. A failed batch is logged and skipped;
// the remaining batches still run.
func (c *Core) runCycle(ctx context.Context) {
	symbols := make([]string, len(c.symbols))
	copy(symbols, c.symbols)
	rand.Shuffle(len(symbols), func(i, j int) {
		symbols[i], symbols[j] = symbols[j], symbols[i]
	})

	for start := 0; start < len(symbols); start += batchSize {
		if ctx.Err() != nil {
			return
		}
		end := start + batchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[start:end]

		series, err := c.fetcher.FetchBatch(ctx, batch, fetchStart, "", fetchInterval)
		if err != nil {
			c.log.Warn("batch fetch failed",
				zap.Strings("symbols", batch),
				zap.Error(err))
		} else {
			c.commitBatch(ctx, series)
		}

		if end < len(symbols) {
			if err := c.sleep(ctx, interBatchPause()); err != nil {
				return
			}
		}
	}

	if trimmedSymbols, trimmedBars := c.store.Cap(store.MaxBarsPerSymbol); trimmedBars > 0 {
		c.log.Debug("trimmed store",
			zap.Int("symbols", trimmedSymbols),
			zap.Int("bars", trimmedBars))
	}
}

// commitBatch installs every returned series and gossips its last bar.
func (c *Core) commitBatch(ctx context.Context, series map[string][]models.Bar) {
	installed := 0
	for symbol, bars := range series {
		last, ok := models.Last(bars)
		if !ok {
			continue
		}
		c.store.Replace(symbol, bars)
		c.broadcaster.Broadcast(ctx, last)
		installed++
	}
	if installed > 0 {
		c.log.Debug("batch committed", zap.Int("symbols", installed))
	}
}

func (c *Core) publishStoreSize() {
	st := c.store.Stats()
	metrics.StoreSymbols.Set(float64(st.Symbols))
	metrics.StoreBars.Set(float64(st.Bars))
}

// interBatchPause spreads upstream load: a uniform pause in
// [interBatchMin, interBatchMax).
func interBatchPause() time.Duration {
	return interBatchMin + time.Duration(rand.Int63n(int64(interBatchMax-interBatchMin)))
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
