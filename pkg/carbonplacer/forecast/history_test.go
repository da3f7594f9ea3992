package forecast

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC)

func sampleRecords() []Record {
	return []Record{
		{Timestamp: day.Add(9 * time.Hour), DatacenterID: "UK-Wales", Intensity: 180, Renewable: 40},
		{Timestamp: day.Add(9*time.Hour + 30*time.Minute), DatacenterID: "UK-Wales", Intensity: 200, Renewable: 44},
		{Timestamp: day.Add(14 * time.Hour), DatacenterID: "UK-Wales", Intensity: 150, Renewable: 50},
		{Timestamp: day.Add(9 * time.Hour), DatacenterID: "UK-South", Intensity: 250, Renewable: 30},
		// two days earlier, outside the lookback used below
		{Timestamp: day.Add(-48*time.Hour + 9*time.Hour), DatacenterID: "UK-Wales", Intensity: 900, Renewable: 0},
	}
}

func TestHistoryStores(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		path    func(dir string) string
	}{
		{name: "sqlite", backend: BackendSQLite, path: func(dir string) string { return filepath.Join(dir, "db", "history.db") }},
		{name: "file", backend: BackendFile, path: func(dir string) string { return filepath.Join(dir, "history") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(tt.backend, tt.path(t.TempDir()))
			require.NoError(t, err)
			defer store.Close()

			require.NoError(t, store.Store(sampleRecords()))
			require.NoError(t, store.Store(nil))

			profile, err := store.HourlyProfile("UK-Wales", day.Add(-24*time.Hour))
			require.NoError(t, err)
			require.Len(t, profile, 2)

			morning, ok := profile.At(day.Add(9*time.Hour + 10*time.Minute))
			require.True(t, ok)
			assert.InDelta(t, 190.0, morning.Intensity, 1e-9)
			assert.InDelta(t, 42.0, morning.Renewable, 1e-9)
			assert.Equal(t, 2, morning.Samples)

			afternoon := profile[14]
			assert.InDelta(t, 150.0, afternoon.Intensity, 1e-9)

			_, ok = profile.At(day.Add(3 * time.Hour))
			assert.False(t, ok)

			removed, err := store.Cleanup(day.Add(-24 * time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), removed)

			all, err := store.HourlyProfile("UK-Wales", time.Time{})
			require.NoError(t, err)
			assert.InDelta(t, 190.0, all[9].Intensity, 1e-9, "old sample must be gone")

			empty, err := store.HourlyProfile("UK-Nowhere", time.Time{})
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("redis", t.TempDir())
	assert.Error(t, err)
}

func TestFileHistorySkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileHistoryStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Store([]Record{{Timestamp: day.Add(time.Hour), DatacenterID: "dc", Intensity: 100, Renewable: 10}}))

	path := filepath.Join(dir, "dc_2025-12-10.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	profile, err := store.HourlyProfile("dc", day)
	require.NoError(t, err)
	assert.Equal(t, 1, profile[1].Samples)
}

func TestFileHistoryMatchesExactDatacenter(t *testing.T) {
	store, err := NewFileHistoryStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Store([]Record{
		{Timestamp: day.Add(time.Hour), DatacenterID: "dc", Intensity: 100, Renewable: 10},
		{Timestamp: day.Add(time.Hour), DatacenterID: "dc_eu", Intensity: 500, Renewable: 90},
	}))

	profile, err := store.HourlyProfile("dc", day)
	require.NoError(t, err)
	assert.Equal(t, HourStat{Intensity: 100, Renewable: 10, Samples: 1}, profile[1])

	profile, err = store.HourlyProfile("dc_eu", day)
	require.NoError(t, err)
	assert.Equal(t, 500.0, profile[1].Intensity)
}

func TestSplitFileName(t *testing.T) {
	tests := []struct {
		name   string
		wantID string
		wantOK bool
	}{
		{name: "dc_2025-12-10.jsonl", wantID: "dc", wantOK: true},
		{name: "dc_eu_2025-12-10.jsonl", wantID: "dc_eu", wantOK: true},
		{name: "dc_2025-12-10.json", wantOK: false},
		{name: "dc-2025-12-10.jsonl", wantOK: false},
		{name: "dc_eu.jsonl", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, d, ok := splitFileName(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, id)
				assert.Equal(t, day, d)
			}
		})
	}
}
