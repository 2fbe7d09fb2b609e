package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aipriceaction/priceproxy/internal/models"
	"github.com/aipriceaction/priceproxy/internal/store"
	"github.com/aipriceaction/priceproxy/internal/timeutil"
	"github.com/aipriceaction/priceproxy/pkg/metrics"
)

// pullTimeout bounds one follower pull of the core node's full dataset.
const pullTimeout = 30 * time.Second

// Follower periodically pulls the full dataset from a core node and
// merges it into the local store. It never fetches upstream and never
// fans out.
type Follower struct {
	coreURL    string
	store      *store.SymbolStore
	interval   time.Duration
	httpClient *http.Client
	status     *Status
	clock      timeutil.Clock
	sleep      func(context.Context, time.Duration) error
	log        *zap.Logger
}

// NewFollower builds the sync puller against the core node's base URL.
func NewFollower(
	coreURL string,
	st *store.SymbolStore,
	refreshInterval time.Duration,
	status *Status,
	clock timeutil.Clock,
	log *zap.Logger,
) *Follower {
	return &Follower{
		coreURL:    coreURL,
		store:      st,
		interval:   refreshInterval,
		httpClient: &http.Client{Timeout: pullTimeout},
		status:     status,
		clock:      clock,
		sleep:      timeutil.Sleep,
		log:        log.Named("follower"),
	}
}

// Run pulls until the context is canceled. Pull errors are logged and the
// loop continues on schedule.
func (f *Follower) Run(ctx context.Context) {
	f.log.Info("follower started",
		zap.String("core_url", f.coreURL),
		zap.Duration("refresh_interval", f.interval))

	for {
		if err := f.pull(ctx); err != nil && ctx.Err() == nil {
			f.log.Warn("sync pull failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			break
		}

		f.status.RecordCycle(f.clock())
		st := f.store.Stats()
		metrics.StoreSymbols.Set(float64(st.Symbols))
		metrics.StoreBars.Set(float64(st.Bars))

		if err := f.sleep(ctx, f.interval); err != nil {
			break
		}
	}
	f.log.Info("follower stopped")
}

// pull fetches the core node's dataset and installs every series that
// ends strictly later than the local one.
func (f *Follower) pull(ctx context.Context) error {
	url := f.coreURL + "/tickers"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create sync request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach core node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("core node returned status %d", resp.StatusCode)
	}

	var dataset map[string][]models.Bar
	if err := json.NewDecoder(resp.Body).Decode(&dataset); err != nil {
		return fmt.Errorf("failed to decode core dataset: %w", err)
	}

	installed := 0
	for symbol, series := range dataset {
		if f.store.ReplaceIfNewer(symbol, series) {
			installed++
		}
	}
	f.log.Info("sync pull complete",
		zap.Int("symbols", len(dataset)),
		zap.Int("installed", installed))
	return nil
}
