// Package store holds the in-memory symbol time series shared by the
// ingestion pipeline, the workers, and the HTTP read paths.
package store

import (
	"sync"

	"github.com/aipriceaction/priceproxy/internal/models"
)

const (
	// MaxBarsPerSymbol bounds each series; the worker trims after every
	// fetch cycle, keeping the most recent bars.
	MaxBarsPerSymbol = 100

	// MaxMemoryMB is the soft memory budget surfaced on /health.
	MaxMemoryMB = 100
)

// Stats is a point-in-time summary of the store for health reporting.
type Stats struct {
	Symbols        int
	Bars           int
	EstimatedBytes int
}

// SymbolStore maps symbol to its ascending bar series under one coarse
// lock. Holders never perform network I/O while locked; reads copy out.
type SymbolStore struct {
	mu   sync.RWMutex
	data map[string][]models.Bar
}

// New returns an empty store.
func New() *SymbolStore {
	return &SymbolStore{data: make(map[string][]models.Bar)}
}

// GetAll returns a deep snapshot of every series.
func (s *SymbolStore) GetAll() map[string][]models.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]models.Bar, len(s.data))
	for symbol, series := range s.data {
		out[symbol] = models.CloneSeries(series)
	}
	return out
}

// Get returns a copy of one series and whether the symbol exists.
func (s *SymbolStore) Get(symbol string) ([]models.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series, ok := s.data[symbol]
	if !ok {
		return nil, false
	}
	return models.CloneSeries(series), true
}

// LastBar returns the newest bar of a series without copying it.
func (s *SymbolStore) LastBar(symbol string) (models.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.Last(s.data[symbol])
}

// Replace atomically installs a full series for the symbol. The input is
// copied and normalized (sorted ascending, duplicate instants collapsed).
// An empty series is a no-op: a symbol exists only once it has bars.
func (s *SymbolStore) Replace(symbol string, series []models.Bar) {
	if len(series) == 0 {
		return
	}
	normalized := models.Normalize(models.CloneSeries(series))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[symbol] = normalized
}

// ReplaceIfNewer installs the incoming series iff the local series is
// empty or the incoming series ends strictly later than the local one.
// Reports whether it installed. Used by follower sync.
func (s *SymbolStore) ReplaceIfNewer(symbol string, series []models.Bar) bool {
	normalized := models.Normalize(models.CloneSeries(series))
	incoming, ok := models.Last(normalized)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if local, ok := models.Last(s.data[symbol]); ok && !incoming.Time.After(local.Time) {
		return false
	}
	s.data[symbol] = normalized
	return true
}

// AppendIfNewer appends the bar iff the series is empty or the bar is
// strictly newer than the current last bar. Reports whether it committed.
func (s *SymbolStore) AppendIfNewer(symbol string, bar models.Bar) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	series := s.data[symbol]
	if last, ok := models.Last(series); ok && !bar.Time.After(last.Time) {
		return false
	}
	s.data[symbol] = append(series, bar)
	return true
}

// Merge appends the bar and re-sorts the series, collapsing a duplicate
// instant in favor of the incoming bar. Used by the public ingest commit,
// which accepts out-of-order history.
func (s *SymbolStore) Merge(symbol string, bar models.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[symbol] = models.Normalize(append(s.data[symbol], bar))
}

// Cap trims every series to its most recent max bars, returning how many
// symbols and bars were trimmed.
func (s *SymbolStore) Cap(max int) (symbols, bars int) {
	if max <= 0 {
		return 0, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol, series := range s.data {
		if len(series) <= max {
			continue
		}
		trimmed := make([]models.Bar, max)
		copy(trimmed, series[len(series)-max:])
		s.data[symbol] = trimmed
		symbols++
		bars += len(series) - max
	}
	return symbols, bars
}

// Stats estimates the store footprint for health reporting. The estimate
// charges a fixed in-memory cost per bar plus string and slice overhead.
func (s *SymbolStore) Stats() Stats {
	const barCost = 64 // time.Time + 4 prices + volume
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Symbols: len(s.data)}
	for symbol, series := range s.data {
		st.Bars += len(series)
		st.EstimatedBytes += len(symbol) + 24 + cap(series)*barCost
		for _, b := range series {
			st.EstimatedBytes += len(b.Symbol)
		}
	}
	return st
}
