package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aipriceaction/priceproxy/internal/models"
	"github.com/aipriceaction/priceproxy/pkg/metrics"
)

// fanoutTimeout bounds every peer POST so a dead peer cannot pin a
// goroutine past one cycle.
const fanoutTimeout = 10 * time.Second

// Broadcaster fans a bar out to the peer networks. Posts are
// fire-and-forget: each peer gets its own goroutine and failures are
// logged, counted, and dropped.
type Broadcaster struct {
	httpClient    *http.Client
	internalPeers []string
	publicPeers   []string
	token         string
	production    bool
	log           *zap.Logger

	wg sync.WaitGroup
}

// NewBroadcaster wires the fan-out side of the worker. Public peers are
// only contacted when production is true.
func NewBroadcaster(internalPeers, publicPeers []string, primaryToken string, production bool, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		httpClient:    &http.Client{Timeout: fanoutTimeout},
		internalPeers: internalPeers,
		publicPeers:   publicPeers,
		token:         primaryToken,
		production:    production,
		log:           log.Named("gossip"),
	}
}

// Broadcast posts the bar to every internal peer, and to every public
// peer when the node runs in production. It returns immediately; the
// posts proceed in the background.
func (b *Broadcaster) Broadcast(ctx context.Context, bar models.Bar) {
	body, err := json.Marshal(bar)
	if err != nil {
		b.log.Error("failed to encode gossip payload",
			zap.String("symbol", bar.Symbol),
			zap.Error(err))
		return
	}

	for _, peer := range b.internalPeers {
		url := peer + "/gossip"
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.post(ctx, "internal", url, body, b.token)
		}()
	}

	if !b.production {
		return
	}
	for _, peer := range b.publicPeers {
		url := peer + "/public/gossip"
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.post(ctx, "public", url, body, "")
		}()
	}
}

// Wait blocks until every in-flight post has finished. The worker calls
// it on shutdown; tests use it to observe fan-out deterministically.
func (b *Broadcaster) Wait() { b.wg.Wait() }

// post delivers one gossip payload. Errors terminate here: a slow or dead
// peer must never propagate into the fetch loop.
func (b *Broadcaster) post(ctx context.Context, network, url string, body []byte, bearer string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		b.observe(network, url, fmt.Errorf("failed to create gossip request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.observe(network, url, fmt.Errorf("failed to send gossip: %w", err))
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.observe(network, url, fmt.Errorf("peer returned status %d", resp.StatusCode))
		return
	}
	b.observe(network, url, nil)
}

func (b *Broadcaster) observe(network, url string, err error) {
	if err != nil {
		metrics.GossipFanout.WithLabelValues(network, "error").Inc()
		b.log.Warn("gossip delivery failed",
			zap.String("network", network),
			zap.String("peer", url),
			zap.Error(err))
		return
	}
	metrics.GossipFanout.WithLabelValues(network, "ok").Inc()
	b.log.Debug("gossip delivered",
		zap.String("network", network),
		zap.String("peer", url))
}
