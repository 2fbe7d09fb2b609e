// Package upstream implements the chart-API client: batched history
// queries under a sliding-window rate limit, with retries, jitter, and
// browser-shaped request headers.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aipriceaction/priceproxy/internal/models"
	"github.com/aipriceaction/priceproxy/pkg/metrics"
)

const (
	// DefaultBaseURL is the production chart API root.
	DefaultBaseURL = "https://trading.vietcap.com.vn/api/"

	chartPath = "chart/OHLCChart/gap-chart"

	requestTimeout = 30 * time.Second
	maxAttempts    = 5
	maxBackoff     = 60 * time.Second

	dateLayout = "2006-01-02"

	referer = "https://trading.vietcap.com.vn/"
	origin  = "https://trading.vietcap.com.vn"
)

// userAgents is the rotation pool: Chrome on Windows and macOS, Firefox,
// Safari, Edge.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.3 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

// Client queries the chart API. Safe for concurrent use; the rate limiter
// serializes admission across callers.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *slidingWindow
	randomAgent bool
	today       func() time.Time
	sleep       func(context.Context, time.Duration) error
	log         *zap.Logger
}

// New builds a client. An empty baseURL selects the production API;
// randomAgent picks a user agent uniformly per request instead of always
// the first.
func New(baseURL string, ratePerMinute int, randomAgent bool, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: requestTimeout},
		limiter:     newSlidingWindow(ratePerMinute),
		randomAgent: randomAgent,
		today:       time.Now,
		sleep:       sleepContext,
		log:         log.Named("upstream"),
	}
}

type chartRequest struct {
	TimeFrame string   `json:"timeFrame"`
	Symbols   []string `json:"symbols"`
	To        int64    `json:"to"`
	CountBack int      `json:"countBack"`
}

// epochSeconds tolerates the upstream habit of sending timestamps as
// either integers or numeric strings.
type epochSeconds int64

func (e *epochSeconds) UnmarshalJSON(raw []byte) error {
	s := strings.Trim(string(raw), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", string(raw), err)
	}
	*e = epochSeconds(n)
	return nil
}

// chartEntry is one symbol's parallel-array series in the response.
type chartEntry struct {
	Symbol string         `json:"symbol"`
	O      []float64      `json:"o"`
	H      []float64      `json:"h"`
	L      []float64      `json:"l"`
	C      []float64      `json:"c"`
	V      []float64      `json:"v"`
	T      []epochSeconds `json:"t"`
}

// Fetch returns the history of one symbol from start (inclusive) to end
// ("" means today). Parse problems on a single-symbol fetch are errors.
func (c *Client) Fetch(ctx context.Context, symbol, start, end, interval string) ([]models.Bar, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	entries, startDate, err := c.query(ctx, []string{symbol}, start, end, interval)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("upstream returned no data for %s", symbol)
	}
	return c.parseEntry(entries[0], symbol, startDate)
}

// FetchBatch returns histories for several symbols in one request. The
// response aligns positionally with the requested symbols; a symbol whose
// entry is missing, malformed, or empty is absent from the result map.
func (c *Client) FetchBatch(ctx context.Context, symbols []string, start, end, interval string) (map[string][]models.Bar, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("symbols list cannot be empty")
	}
	entries, startDate, err := c.query(ctx, symbols, start, end, interval)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]models.Bar, len(symbols))
	for i, symbol := range symbols {
		if i >= len(entries) {
			continue
		}
		series, err := c.parseEntry(entries[i], symbol, startDate)
		if err != nil {
			c.log.Debug("dropping symbol from batch response",
				zap.String("symbol", symbol),
				zap.Error(err))
			continue
		}
		if len(series) == 0 {
			continue
		}
		out[symbol] = series
	}
	return out, nil
}

// query builds the chart request and executes it with retries. It returns
// the raw per-symbol entries plus the parsed start date for filtering.
func (c *Client) query(ctx context.Context, symbols []string, start, end, interval string) ([]json.RawMessage, time.Time, error) {
	code, err := intervalCode(interval)
	if err != nil {
		return nil, time.Time{}, err
	}
	startDate, err := time.Parse(dateLayout, start)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}

	var endDate time.Time
	if end == "" {
		now := c.today().UTC()
		endDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		endDate, err = time.Parse(dateLayout, end)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("invalid end date %q: %w", end, err)
		}
	}
	// The chart API addresses days in its own zone, UTC+7.
	to := endDate.AddDate(0, 0, 1).Unix() - 7*3600

	payload := chartRequest{
		TimeFrame: code,
		Symbols:   symbols,
		To:        to,
		CountBack: countBack(startDate, endDate, interval),
	}

	began := time.Now()
	defer func() {
		metrics.UpstreamLatency.Observe(time.Since(began).Seconds())
	}()

	entries, err := c.post(ctx, payload)
	if err != nil {
		return nil, time.Time{}, err
	}
	return entries, startDate, nil
}

// post sends the request under the rate limiter, retrying transient
// failures with jittered exponential backoff.
func (c *Client) post(ctx context.Context, payload chartRequest) ([]json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chart request: %w", err)
	}
	url := c.baseURL + chartPath

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.wait(ctx); err != nil {
			return nil, err
		}
		if attempt > 1 {
			delay := backoffDelay(attempt - 1)
			c.log.Warn("retrying upstream request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create upstream request: %w", err)
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("upstream request failed: %w", err)
			metrics.UpstreamRequests.WithLabelValues("retry").Inc()
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			data, err := decodeBody(resp)
			resp.Body.Close()
			if err != nil {
				lastErr = err
				metrics.UpstreamRequests.WithLabelValues("retry").Inc()
				continue
			}
			var entries []json.RawMessage
			if err := json.Unmarshal(data, &entries); err != nil {
				metrics.UpstreamRequests.WithLabelValues("failed").Inc()
				return nil, fmt.Errorf("failed to decode upstream response: %w", err)
			}
			metrics.UpstreamRequests.WithLabelValues("ok").Inc()
			return entries, nil
		}

		status := resp.StatusCode
		resp.Body.Close()
		if status == http.StatusForbidden || status == http.StatusTooManyRequests || status >= 500 {
			lastErr = fmt.Errorf("upstream returned status %d", status)
			metrics.UpstreamRequests.WithLabelValues("retry").Inc()
			continue
		}
		metrics.UpstreamRequests.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("upstream rejected request with status %d", status)
	}

	metrics.UpstreamRequests.WithLabelValues("failed").Inc()
	return nil, fmt.Errorf("upstream request failed after %d attempts: %w", maxAttempts, lastErr)
}

// setHeaders applies the browser-shaped header set and the user agent.
func (c *Client) setHeaders(req *http.Request) {
	ua := userAgents[0]
	if c.randomAgent {
		ua = userAgents[rand.Intn(len(userAgents))]
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,vi-VN;q=0.8,vi;q=0.7")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("DNT", "1")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-site")
	req.Header.Set("sec-ch-ua", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
	req.Header.Set("sec-ch-ua-mobile", "?0")
	req.Header.Set("sec-ch-ua-platform", `"Windows"`)
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Referer", referer)
	req.Header.Set("Origin", origin)
}

// parseEntry converts one symbol's parallel arrays into a sorted series.
// Bars with non-positive or non-finite prices, negative volume, or a time
// before the start date are dropped individually.
func (c *Client) parseEntry(raw json.RawMessage, symbol string, startDate time.Time) ([]models.Bar, error) {
	var entry chartEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode series for %s: %w", symbol, err)
	}
	if entry.O == nil || entry.H == nil || entry.L == nil || entry.C == nil || entry.V == nil || entry.T == nil {
		return nil, fmt.Errorf("series for %s is missing one of o/h/l/c/v/t", symbol)
	}
	n := len(entry.T)
	if len(entry.O) != n || len(entry.H) != n || len(entry.L) != n || len(entry.C) != n || len(entry.V) != n {
		return nil, fmt.Errorf("series for %s has inconsistent array lengths", symbol)
	}

	bars := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		if entry.V[i] < 0 {
			c.log.Debug("dropping bar with negative volume",
				zap.String("symbol", symbol),
				zap.Int("index", i))
			continue
		}
		bar := models.Bar{
			Time:   time.Unix(int64(entry.T[i]), 0).UTC(),
			Open:   entry.O[i],
			High:   entry.H[i],
			Low:    entry.L[i],
			Close:  entry.C[i],
			Volume: int64(entry.V[i]),
			Symbol: symbol,
		}
		if err := bar.Validate(); err != nil {
			c.log.Debug("dropping invalid bar",
				zap.String("symbol", symbol),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		if bar.Time.Before(startDate) {
			continue
		}
		bars = append(bars, bar)
	}
	return models.Normalize(bars), nil
}

// intervalCode maps the public interval names onto the three upstream
// time frames. Weekly and monthly are requested as days; aggregation is
// the consumer's concern.
func intervalCode(interval string) (string, error) {
	switch interval {
	case "1m", "5m", "15m", "30m":
		return "ONE_MINUTE", nil
	case "1H":
		return "ONE_HOUR", nil
	case "1D", "1W", "1M":
		return "ONE_DAY", nil
	default:
		return "", fmt.Errorf("invalid interval %q", interval)
	}
}

// countBack estimates how many data points cover the requested span, with
// ten points of slack.
func countBack(startDate, endDate time.Time, interval string) int {
	days := int(endDate.Sub(startDate).Hours() / 24)
	if days < 0 {
		days = 0
	}
	switch interval {
	case "1D", "1W", "1M":
		return days + 10
	case "1H":
		return days*7 + 10
	default:
		return days*7*60 + 10
	}
}

// backoffDelay is the pause before retry n (1-based): 2^(n-1) seconds
// plus up to one second of jitter, capped at maxBackoff.
func backoffDelay(retry int) time.Duration {
	secs := math.Pow(2, float64(retry-1)) + rand.Float64()
	if secs > maxBackoff.Seconds() {
		secs = maxBackoff.Seconds()
	}
	return time.Duration(secs * float64(time.Second))
}
