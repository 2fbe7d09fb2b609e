package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aipriceaction/priceproxy/internal/models"
	"github.com/aipriceaction/priceproxy/internal/store"
	"github.com/aipriceaction/priceproxy/internal/timeutil"
)

func testBar(symbol string, day int, close float64) models.Bar {
	return models.Bar{
		Time:   time.Date(2025, 7, day, 0, 0, 0, 0, time.UTC),
		Open:   close,
		High:   close,
		Low:    close,
		Close:  close,
		Volume: 1000,
		Symbol: symbol,
	}
}

// fakeFetcher records every requested batch and serves canned series.
type fakeFetcher struct {
	mu      sync.Mutex
	batches [][]string
	series  map[string][]models.Bar
	err     error
}

func (f *fakeFetcher) FetchBatch(_ context.Context, symbols []string, _, _, _ string) (map[string][]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]string, len(symbols))
	copy(batch, symbols)
	f.batches = append(f.batches, batch)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]models.Bar)
	for _, s := range symbols {
		if series, ok := f.series[s]; ok {
			out[s] = series
		}
	}
	return out, nil
}

func newTestCore(t *testing.T, fetcher *fakeFetcher, b *Broadcaster, symbols []string) (*Core, *store.SymbolStore) {
	t.Helper()
	st := store.New()
	hours := timeutil.NewOfficeHours(false, "Asia/Ho_Chi_Minh", 9, 16, true, zaptest.NewLogger(t))
	c := NewCore(fetcher, st, b, symbols, hours,
		30*time.Second, 300*time.Second,
		NewStatus(), time.Now, zaptest.NewLogger(t))
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c, st
}

func noopBroadcaster(t *testing.T) *Broadcaster {
	t.Helper()
	return NewBroadcaster(nil, nil, "token", false, zaptest.NewLogger(t))
}

func TestCoreCycleInstallsFetchedSeries(t *testing.T) {
	fetcher := &fakeFetcher{series: map[string][]models.Bar{
		"VCB": {testBar("VCB", 1, 85), testBar("VCB", 2, 86)},
		"HPG": {testBar("HPG", 1, 25)},
	}}
	core, st := newTestCore(t, fetcher, noopBroadcaster(t), []string{"VCB", "HPG", "FPT"})

	core.runCycle(context.Background())

	series, ok := st.Get("VCB")
	require.True(t, ok)
	assert.Len(t, series, 2)
	series, ok = st.Get("HPG")
	require.True(t, ok)
	assert.Len(t, series, 1)
	_, ok = st.Get("FPT")
	assert.False(t, ok, "a symbol absent from the response installs nothing")
}

func TestCoreCyclePartitionsIntoBatchesOfTen(t *testing.T) {
	symbols := make([]string, 23)
	for i := range symbols {
		symbols[i] = string(rune('A'+i/10)) + string(rune('A'+i%10))
	}
	fetcher := &fakeFetcher{}
	core, _ := newTestCore(t, fetcher, noopBroadcaster(t), symbols)

	core.runCycle(context.Background())

	require.Len(t, fetcher.batches, 3)
	assert.Len(t, fetcher.batches[0], 10)
	assert.Len(t, fetcher.batches[1], 10)
	assert.Len(t, fetcher.batches[2], 3)

	seen := make(map[string]int)
	for _, batch := range fetcher.batches {
		for _, s := range batch {
			seen[s]++
		}
	}
	assert.Len(t, seen, 23, "every symbol is requested exactly once per cycle")
	for s, n := range seen {
		assert.Equal(t, 1, n, "symbol %s", s)
	}
}

func TestCoreSurvivesBatchFailures(t *testing.T) {
	fetcher := &fakeFetcher{err: context.DeadlineExceeded}
	core, st := newTestCore(t, fetcher, noopBroadcaster(t), []string{"VCB", "HPG"})

	core.runCycle(context.Background())

	assert.NotEmpty(t, fetcher.batches, "the cycle still attempted its batches")
	assert.Empty(t, st.GetAll())
}

func TestCoreDeduplicatesSymbolUniverse(t *testing.T) {
	fetcher := &fakeFetcher{}
	core, _ := newTestCore(t, fetcher, noopBroadcaster(t), []string{"VCB", "VCB", "HPG", "VCB"})

	core.runCycle(context.Background())

	require.Len(t, fetcher.batches, 1)
	assert.Len(t, fetcher.batches[0], 2)
}

func TestCoreCapsSeriesAfterCycle(t *testing.T) {
	long := make([]models.Bar, store.MaxBarsPerSymbol+20)
	for i := range long {
		long[i] = models.Bar{
			Time:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			Open:   1, High: 1, Low: 1, Close: 1,
			Symbol: "VCB",
		}
	}
	fetcher := &fakeFetcher{series: map[string][]models.Bar{"VCB": long}}
	core, st := newTestCore(t, fetcher, noopBroadcaster(t), []string{"VCB"})

	core.runCycle(context.Background())

	series, ok := st.Get("VCB")
	require.True(t, ok)
	assert.Len(t, series, store.MaxBarsPerSymbol)
	assert.Equal(t, long[len(long)-1].Time, series[len(series)-1].Time, "trimming keeps the newest bars")
}

func TestBroadcasterPostsToInternalPeers(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotAuth string
	var gotBar models.Bar
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBar)
		w.WriteHeader(http.StatusOK)
	}))
	defer peer.Close()

	b := NewBroadcaster([]string{peer.URL}, nil, "secret", false, zaptest.NewLogger(t))
	b.Broadcast(context.Background(), testBar("VCB", 1, 85))
	b.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/gossip", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "VCB", gotBar.Symbol)
	assert.Equal(t, 85.0, gotBar.Close)
}

func TestBroadcasterSkipsPublicPeersOutsideProduction(t *testing.T) {
	var hits int32
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer peer.Close()

	b := NewBroadcaster(nil, []string{peer.URL}, "secret", false, zaptest.NewLogger(t))
	b.Broadcast(context.Background(), testBar("VCB", 1, 85))
	b.Wait()

	assert.Zero(t, hits, "public peers are only contacted in production")
}

func TestBroadcasterReachesPublicPeersInProduction(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotAuth string
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer peer.Close()

	b := NewBroadcaster(nil, []string{peer.URL}, "secret", true, zaptest.NewLogger(t))
	b.Broadcast(context.Background(), testBar("VCB", 1, 85))
	b.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/public/gossip", gotPath)
	assert.Empty(t, gotAuth, "public gossip carries no token")
}

func TestBroadcastDoesNotBlockOnSlowPeer(t *testing.T) {
	release := make(chan struct{})
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer peer.Close()
	defer close(release)

	b := NewBroadcaster([]string{peer.URL}, nil, "secret", false, zaptest.NewLogger(t))

	start := time.Now()
	b.Broadcast(context.Background(), testBar("VCB", 1, 85))
	assert.Less(t, time.Since(start), time.Second, "Broadcast returns before delivery completes")
}

func TestBroadcasterToleratesDeadPeer(t *testing.T) {
	b := NewBroadcaster([]string{"http://127.0.0.1:1"}, nil, "secret", false, zaptest.NewLogger(t))
	b.Broadcast(context.Background(), testBar("VCB", 1, 85))
	b.Wait() // must not panic or hang
}

func newTestFollower(t *testing.T, coreURL string, st *store.SymbolStore) *Follower {
	t.Helper()
	f := NewFollower(coreURL, st, 300*time.Second, NewStatus(), time.Now, zaptest.NewLogger(t))
	f.sleep = func(context.Context, time.Duration) error { return nil }
	return f
}

func TestFollowerPullInstallsCoreDataset(t *testing.T) {
	dataset := map[string][]models.Bar{
		"VCB": {testBar("VCB", 1, 85), testBar("VCB", 2, 86)},
	}
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tickers", r.URL.Path)
		_ = json.NewEncoder(w).Encode(dataset)
	}))
	defer core.Close()

	st := store.New()
	f := newTestFollower(t, core.URL, st)

	require.NoError(t, f.pull(context.Background()))

	series, ok := st.Get("VCB")
	require.True(t, ok)
	assert.Len(t, series, 2)
}

func TestFollowerNeverInstallsOlderSeries(t *testing.T) {
	var mu sync.Mutex
	dataset := map[string][]models.Bar{
		"VCB": {testBar("VCB", 1, 85), testBar("VCB", 2, 86)},
	}
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewEncoder(w).Encode(dataset)
	}))
	defer core.Close()

	st := store.New()
	f := newTestFollower(t, core.URL, st)
	require.NoError(t, f.pull(context.Background()))

	// The core regresses to an older snapshot of the symbol.
	mu.Lock()
	dataset = map[string][]models.Bar{"VCB": {testBar("VCB", 1, 80)}}
	mu.Unlock()
	require.NoError(t, f.pull(context.Background()))

	series, ok := st.Get("VCB")
	require.True(t, ok)
	require.Len(t, series, 2, "an older pulled series never replaces a newer local one")
	assert.Equal(t, 86.0, series[1].Close)
}

func TestFollowerPullErrorsAreReturnedNotFatal(t *testing.T) {
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer core.Close()

	st := store.New()
	f := newTestFollower(t, core.URL, st)

	assert.Error(t, f.pull(context.Background()))
	assert.Empty(t, st.GetAll())
}

func TestInterBatchPauseBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		p := interBatchPause()
		assert.GreaterOrEqual(t, p, interBatchMin)
		assert.Less(t, p, interBatchMax)
	}
}

func TestStatusSnapshot(t *testing.T) {
	s := NewStatus()
	snap := s.Snapshot()
	assert.Zero(t, snap.Iterations)
	assert.True(t, snap.LastCycle.IsZero())

	at := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	s.RecordCycle(at)
	snap = s.Snapshot()
	assert.Equal(t, uint64(1), snap.Iterations)
	assert.Equal(t, at, snap.LastCycle)
}
