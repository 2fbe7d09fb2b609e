// Package ingest gates bar submissions into the store: the internal path
// by shared token, the public path by reputation, system trust, and price
// plausibility. Rejections are values, not errors, so the HTTP layer and
// tests consume the same categorized outcomes.
package ingest

import (
	"encoding/json"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/aipriceaction/priceproxy/internal/models"
	"github.com/aipriceaction/priceproxy/internal/reputation"
	"github.com/aipriceaction/priceproxy/internal/store"
	"github.com/aipriceaction/priceproxy/internal/timeutil"
	"github.com/aipriceaction/priceproxy/pkg/metrics"
)

const (
	// TrustWindow is how stale the watermark may be before public
	// submissions are refused outright.
	TrustWindow = 300 * time.Second

	// MaxPriceDelta is the largest relative close-to-close move a public
	// submission may carry against the stored baseline.
	MaxPriceDelta = 0.10
)

// Outcome categorizes an ingestion attempt.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeForbidden    Outcome = "forbidden"
	OutcomeUnavailable  Outcome = "unavailable"
	OutcomeBadRequest   Outcome = "bad_request"
)

// Result is the verdict on one submission. Committed reports whether the
// store changed; an authenticated replay of an old bar is OK but not
// committed.
type Result struct {
	Outcome   Outcome
	Reason    string
	Committed bool
}

// Pipeline validates and commits single bars. One instance serves all
// handlers; every field is safe for concurrent use.
type Pipeline struct {
	store     *store.SymbolStore
	registry  *reputation.Registry
	watermark *Watermark
	primary   string
	secondary string
	now       timeutil.Clock
	log       *zap.Logger
}

// NewPipeline wires the pipeline. The watermark starts at the current
// clock reading.
func NewPipeline(
	st *store.SymbolStore,
	registry *reputation.Registry,
	primaryToken, secondaryToken string,
	clock timeutil.Clock,
	log *zap.Logger,
) *Pipeline {
	return &Pipeline{
		store:     st,
		registry:  registry,
		watermark: NewWatermark(clock()),
		primary:   primaryToken,
		secondary: secondaryToken,
		now:       clock,
		log:       log.Named("ingest"),
	}
}

// Watermark exposes the trust watermark for health reporting.
func (p *Pipeline) Watermark() time.Time { return p.watermark.Time() }

// Authenticated admits a raw bar payload from an internal peer. Any valid
// token advances the watermark, even when the payload is then rejected:
// the peer proved liveness of the trusted network. Check order is fixed:
// token, watermark, payload, symbol, commit.
func (p *Pipeline) Authenticated(token string, payload []byte) Result {
	if token == "" || (token != p.primary && token != p.secondary) {
		return p.done("internal", Result{Outcome: OutcomeUnauthorized})
	}
	p.watermark.Advance(p.now())

	bar, result, ok := p.decode(payload)
	if !ok {
		return p.done("internal", result)
	}

	committed := p.store.AppendIfNewer(bar.Symbol, bar)
	if committed {
		p.log.Debug("internal bar committed",
			zap.String("symbol", bar.Symbol),
			zap.Time("bar_time", bar.Time))
	}
	return p.done("internal", Result{Outcome: OutcomeOK, Committed: committed})
}

// Public admits a raw bar payload from an unauthenticated source. Check
// order is fixed: ban, trust window, payload, symbol, price, commit; a
// banned source is refused before its payload is even decoded.
func (p *Pipeline) Public(sourceAddr string, payload []byte) Result {
	if _, ok := p.registry.Admit(sourceAddr); !ok {
		return p.done("public", Result{Outcome: OutcomeForbidden})
	}

	if p.now().Sub(p.watermark.Time()) > TrustWindow {
		return p.done("public", Result{Outcome: OutcomeUnavailable, Reason: "trusted feed is stale"})
	}

	bar, result, ok := p.decode(payload)
	if !ok {
		return p.done("public", result)
	}

	if last, ok := p.store.LastBar(bar.Symbol); ok {
		delta := math.Abs(bar.Close-last.Close) / last.Close
		if delta > MaxPriceDelta {
			if p.registry.RecordFailure(sourceAddr) {
				metrics.BannedActors.Inc()
				p.log.Warn("source banned after repeated implausible submissions",
					zap.String("source", sourceAddr),
					zap.String("symbol", bar.Symbol))
			}
			return p.done("public", Result{Outcome: OutcomeBadRequest, Reason: "implausible price change"})
		}
	}

	p.registry.RecordSuccess(sourceAddr)
	p.store.Merge(bar.Symbol, bar)
	return p.done("public", Result{Outcome: OutcomeOK, Committed: true})
}

// decode unmarshals and validates a wire bar. The returned Result is only
// meaningful when ok is false.
func (p *Pipeline) decode(payload []byte) (models.Bar, Result, bool) {
	var bar models.Bar
	if err := json.Unmarshal(payload, &bar); err != nil {
		return bar, Result{Outcome: OutcomeBadRequest, Reason: "malformed payload"}, false
	}
	if bar.Symbol == "" {
		return bar, Result{Outcome: OutcomeBadRequest, Reason: "missing symbol"}, false
	}
	if err := bar.Validate(); err != nil {
		return bar, Result{Outcome: OutcomeBadRequest, Reason: err.Error()}, false
	}
	return bar, Result{}, true
}

func (p *Pipeline) done(path string, r Result) Result {
	metrics.IngestOutcomes.WithLabelValues(path, string(r.Outcome)).Inc()
	return r
}
