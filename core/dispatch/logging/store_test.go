package logging

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords(base time.Time) []LogRecord {
	return []LogRecord{
		{Timestamp: base, MissionID: "m1", Outcome: "assigned", WinnerID: "c1", Alternatives: []string{"c2"}},
		{Timestamp: base.Add(time.Minute), MissionID: "m2", Outcome: "no_collector"},
		{Timestamp: base.Add(2 * time.Minute), MissionID: "m3", Outcome: "assigned", WinnerID: "c2"},
	}
}

func exerciseStore(t *testing.T, store LogStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for _, r := range sampleRecords(base) {
		require.NoError(t, store.Append(ctx, r))
	}

	all, err := store.Query(ctx, LogQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byCollector, err := store.Query(ctx, LogQuery{CollectorID: "c2"})
	require.NoError(t, err)
	require.Len(t, byCollector, 2, "winner and alternative both match")

	byMission, err := store.Query(ctx, LogQuery{MissionID: "m2"})
	require.NoError(t, err)
	require.Len(t, byMission, 1)
	assert.Equal(t, "no_collector", byMission[0].Outcome)

	window, err := store.Query(ctx, LogQuery{Start: base.Add(30 * time.Second), Outcome: "assigned"})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "m3", window[0].MissionID)

	last, err := store.Query(ctx, LogQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "m3", last[0].MissionID)
}

func TestJSONLStore(t *testing.T) {
	store, err := NewJSONLStore(filepath.Join(t.TempDir(), "dispatch.jsonl"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	exerciseStore(t, store)
}

func TestRotatingJSONLStore(t *testing.T) {
	store, err := NewRotatingJSONLStore(filepath.Join(t.TempDir(), "logs", "dispatch.jsonl"), 1, 2, 1)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	exerciseStore(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	exerciseStore(t, store)
}

func TestRotatingJSONLStore_Rotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")
	store, err := NewRotatingJSONLStore(path, 1, 3, 1)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	notes := make(map[string]float64, 200)
	for i := 0; i < 200; i++ {
		notes[fmt.Sprintf("collector-%03d", i)] = float64(i)
	}
	rec := LogRecord{Timestamp: time.Now(), MissionID: "m", Scores: notes}
	for i := 0; i < 600; i++ {
		require.NoError(t, store.Append(context.Background(), rec))
	}
	files, _ := filepath.Glob(filepath.Join(dir, "log*.jsonl"))
	assert.Greater(t, len(files), 1, "expected rotated files")

	out, err := store.Query(context.Background(), LogQuery{MissionID: "m"})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
