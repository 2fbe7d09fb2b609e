package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(day int, close float64) Bar {
	return Bar{
		Time:   time.Date(2025, 7, day, 0, 0, 0, 0, time.UTC),
		Open:   close - 0.5,
		High:   close + 1,
		Low:    close - 1,
		Close:  close,
		Volume: 1000,
	}
}

func TestBarValidate(t *testing.T) {
	valid := bar(1, 100)
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Bar)
	}{
		{"zero open", func(b *Bar) { b.Open = 0 }},
		{"negative high", func(b *Bar) { b.High = -1 }},
		{"NaN low", func(b *Bar) { b.Low = math.NaN() }},
		{"infinite close", func(b *Bar) { b.Close = math.Inf(1) }},
		{"negative volume", func(b *Bar) { b.Volume = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bar(1, 100)
			tt.mutate(&b)
			assert.Error(t, b.Validate())
		})
	}
}

func TestBarWireFormat(t *testing.T) {
	b := bar(1, 100)
	b.Symbol = "VCB"

	raw, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"time":"2025-07-01T00:00:00Z"`)
	assert.Contains(t, string(raw), `"symbol":"VCB"`)

	// symbol omitted when empty, as in series responses
	raw, err = json.Marshal(bar(1, 100))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "symbol")
}

func TestNormalizeSortsAscending(t *testing.T) {
	series := []Bar{bar(3, 103), bar(1, 101), bar(2, 102)}
	out := Normalize(series)

	require.Len(t, out, 3)
	assert.Equal(t, 101.0, out[0].Close)
	assert.Equal(t, 102.0, out[1].Close)
	assert.Equal(t, 103.0, out[2].Close)
}

func TestNormalizeCollapsesDuplicatesKeepingLatest(t *testing.T) {
	first := bar(1, 100)
	replacement := bar(1, 200)
	out := Normalize([]Bar{bar(2, 102), first, replacement})

	require.Len(t, out, 2)
	assert.Equal(t, 200.0, out[0].Close, "later append wins the duplicate instant")
	assert.Equal(t, 102.0, out[1].Close)
}

func TestLast(t *testing.T) {
	_, ok := Last(nil)
	assert.False(t, ok)

	last, ok := Last([]Bar{bar(1, 101), bar(2, 102)})
	require.True(t, ok)
	assert.Equal(t, 102.0, last.Close)
}

func TestCloneSeriesIsIndependent(t *testing.T) {
	original := []Bar{bar(1, 101)}
	clone := CloneSeries(original)
	clone[0].Close = 999

	assert.Equal(t, 101.0, original[0].Close)
	assert.Nil(t, CloneSeries(nil))
}
