package api

import (
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aipriceaction/priceproxy/internal/ingest"
	"github.com/aipriceaction/priceproxy/internal/models"
	"github.com/aipriceaction/priceproxy/internal/store"
	"github.com/aipriceaction/priceproxy/internal/timeutil"
)

// tickerParams are the /tickers query controls. symbol repeats; dates are
// inclusive YYYY-MM-DD; latest collapses each series to its newest bar.
type tickerParams struct {
	Symbols   []string `form:"symbol"`
	StartDate string   `form:"start_date"`
	EndDate   string   `form:"end_date"`
	Latest    bool     `form:"latest"`
	Format    string   `form:"format"`
}

// getTickers serves the store snapshot as JSON (default) or flat CSV.
func (s *Server) getTickers(c *gin.Context) {
	var params tickerParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	start, err := parseDateBound(params.StartDate, false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date, want YYYY-MM-DD"})
		return
	}
	end, err := parseDateBound(params.EndDate, true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date, want YYYY-MM-DD"})
		return
	}

	data := s.filterTickers(params, start, end)

	c.Header("Cache-Control", "public, max-age=30")
	if strings.EqualFold(params.Format, "csv") {
		c.Data(http.StatusOK, "text/csv; charset=utf-8", formatSeriesCSV(data))
		return
	}
	c.JSON(http.StatusOK, data)
}

// filterTickers narrows the snapshot by symbol, date window, and the
// latest flag. Symbols whose series filter down to nothing are omitted.
func (s *Server) filterTickers(params tickerParams, start, end time.Time) map[string][]models.Bar {
	var snapshot map[string][]models.Bar
	if len(params.Symbols) > 0 {
		snapshot = make(map[string][]models.Bar, len(params.Symbols))
		for _, symbol := range params.Symbols {
			if series, ok := s.store.Get(symbol); ok {
				snapshot[symbol] = series
			}
		}
	} else {
		snapshot = s.store.GetAll()
	}

	out := make(map[string][]models.Bar, len(snapshot))
	for symbol, series := range snapshot {
		filtered := filterByDate(series, start, end)
		if params.Latest {
			if last, ok := models.Last(filtered); ok {
				filtered = []models.Bar{last}
			} else {
				filtered = nil
			}
		}
		if len(filtered) > 0 {
			out[symbol] = filtered
		}
	}
	return out
}

// parseDateBound interprets an inclusive YYYY-MM-DD bound. End bounds
// cover the whole day; an empty value is unbounded (zero time).
func parseDateBound(value string, endOfDay bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}

func filterByDate(series []models.Bar, start, end time.Time) []models.Bar {
	if start.IsZero() && end.IsZero() {
		return series
	}
	filtered := make([]models.Bar, 0, len(series))
	for _, b := range series {
		if !start.IsZero() && b.Time.Before(start) {
			continue
		}
		if !end.IsZero() && b.Time.After(end) {
			continue
		}
		filtered = append(filtered, b)
	}
	return filtered
}

// formatSeriesCSV flattens the snapshot to one row per bar, symbols in
// lexical order, bars in series order.
func formatSeriesCSV(data map[string][]models.Bar) []byte {
	symbols := make([]string, 0, len(data))
	for symbol := range data {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var b strings.Builder
	b.WriteString("symbol,time,open,high,low,close,volume\n")
	for _, symbol := range symbols {
		for _, bar := range data[symbol] {
			b.WriteString(symbol)
			b.WriteByte(',')
			b.WriteString(bar.Time.UTC().Format(time.RFC3339))
			b.WriteByte(',')
			b.WriteString(formatPrice(bar.Open))
			b.WriteByte(',')
			b.WriteString(formatPrice(bar.High))
			b.WriteByte(',')
			b.WriteString(formatPrice(bar.Low))
			b.WriteByte(',')
			b.WriteString(formatPrice(bar.Close))
			b.WriteByte(',')
			b.WriteString(strconv.FormatInt(bar.Volume, 10))
			b.WriteByte('\n')
		}
	}
	return []byte(b.String())
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// getTickerGroups serves the static catalogue.
func (s *Server) getTickerGroups(c *gin.Context) {
	c.JSON(http.StatusOK, s.groups)
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// postGossip admits a bar from an internal peer.
func (s *Server) postGossip(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	s.respond(c, s.pipeline.Authenticated(bearerToken(c), payload))
}

// postPublicGossip admits a bar from anyone still in the limiter's and the
// registry's good graces.
func (s *Server) postPublicGossip(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	s.respond(c, s.pipeline.Public(c.ClientIP(), payload))
}

// respond maps pipeline outcomes onto HTTP statuses.
func (s *Server) respond(c *gin.Context, result ingest.Result) {
	switch result.Outcome {
	case ingest.OutcomeOK:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "committed": result.Committed})
	case ingest.OutcomeUnauthorized:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
	case ingest.OutcomeForbidden:
		c.JSON(http.StatusForbidden, gin.H{"error": "source address is banned"})
	case ingest.OutcomeUnavailable:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": result.Reason})
	case ingest.OutcomeBadRequest:
		c.JSON(http.StatusBadRequest, gin.H{"error": result.Reason})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unhandled ingestion outcome"})
	}
}

// healthResponse is the monitoring contract; operators scrape these field
// names, so they change only deliberately.
type healthResponse struct {
	IsOfficeHours       bool   `json:"is_office_hours"`
	CurrentIntervalSecs uint64 `json:"current_interval_secs"`
	OfficeHoursEnabled  bool   `json:"office_hours_enabled"`
	Timezone            string `json:"timezone"`
	OfficeStartHour     int    `json:"office_start_hour"`
	OfficeEndHour       int    `json:"office_end_hour"`

	Environment string `json:"environment"`
	NodeName    string `json:"node_name"`
	NodeMode    string `json:"node_mode"`
	InstanceID  string `json:"instance_id"`
	UptimeSecs  uint64 `json:"uptime_secs"`

	TotalTickersCount  int `json:"total_tickers_count"`
	ActiveTickersCount int `json:"active_tickers_count"`

	MemoryUsageBytes   int     `json:"memory_usage_bytes"`
	MemoryUsageMB      float64 `json:"memory_usage_mb"`
	MemoryLimitMB      int     `json:"memory_limit_mb"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`

	InternalPeersCount int `json:"internal_peers_count"`
	PublicPeersCount   int `json:"public_peers_count"`

	IterationCount      uint64 `json:"iteration_count"`
	LastUpdateTimestamp string `json:"last_update_timestamp,omitempty"`

	CurrentSystemTime string `json:"current_system_time"`
	DebugTimeOverride string `json:"debug_time_override,omitempty"`

	BuildDate string `json:"build_date,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

// getHealth reports node state: schedule, store footprint, peers, worker
// progress, and the possibly-overridden clock.
func (s *Server) getHealth(c *gin.Context) {
	now := s.clock()
	stats := s.store.Stats()
	snap := s.status.Snapshot()

	interval := s.hours.Interval(now, s.cfg.CoreWorkerInterval, s.cfg.CoreWorkerQuietInterval)
	startHour, endHour := s.hours.Hours()

	mode := "core"
	if s.cfg.IsFollower() {
		mode = "follower"
	}

	resp := healthResponse{
		IsOfficeHours:       s.hours.Contains(now),
		CurrentIntervalSecs: uint64(interval / time.Second),
		OfficeHoursEnabled:  s.hours.Enabled(),
		Timezone:            s.hours.Zone(),
		OfficeStartHour:     startHour,
		OfficeEndHour:       endHour,
		Environment:         s.cfg.Environment,
		NodeName:            s.cfg.NodeName,
		NodeMode:            mode,
		InstanceID:          s.instanceID,
		UptimeSecs:          uint64(time.Since(s.startedAt) / time.Second),
		TotalTickersCount:   s.totalTickers,
		ActiveTickersCount:  stats.Symbols,
		MemoryUsageBytes:    stats.EstimatedBytes,
		MemoryUsageMB:       float64(stats.EstimatedBytes) / (1024 * 1024),
		MemoryLimitMB:       store.MaxMemoryMB,
		MemoryUsagePercent:  float64(stats.EstimatedBytes) / (store.MaxMemoryMB * 1024 * 1024) * 100,
		InternalPeersCount:  len(s.cfg.InternalPeers),
		PublicPeersCount:    len(s.cfg.PublicPeers),
		IterationCount:      snap.Iterations,
		CurrentSystemTime:   now.UTC().Format(time.RFC3339),
		BuildDate:           s.cfg.BuildDate,
		GitCommit:           s.cfg.GitCommit,
	}
	if !snap.LastCycle.IsZero() {
		resp.LastUpdateTimestamp = snap.LastCycle.UTC().Format(time.RFC3339)
	}
	if override, ok := timeutil.DebugOverride(s.cfg.Environment); ok {
		resp.DebugTimeOverride = override
	}

	c.JSON(http.StatusOK, resp)
}
