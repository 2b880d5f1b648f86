package plugins

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wastedispatch/config"
	"github.com/kilianp07/wastedispatch/core/dispatch/logging"
	"github.com/kilianp07/wastedispatch/core/factory"
)

func TestLogStoresNames(t *testing.T) {
	assert.Equal(t, []string{"jsonl", "sqlite"}, LogStores().Names())
}

func TestNewLogStoreBackends(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		cfg  config.LoggingConfig
		want any
	}{
		{"jsonl", config.LoggingConfig{Backend: "jsonl", Path: filepath.Join(dir, "a.log")}, &logging.JSONLStore{}},
		{"rotating", config.LoggingConfig{Backend: "jsonl", Path: filepath.Join(dir, "b.log"), MaxSizeMB: 1}, &logging.RotatingJSONLStore{}},
		{"sqlite", config.LoggingConfig{Backend: "sqlite", Path: filepath.Join(dir, "c.db")}, &logging.SQLiteStore{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewLogStore(tc.cfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			assert.IsType(t, tc.want, store)

			ctx := context.Background()
			rec := logging.LogRecord{Timestamp: time.Now().UTC(), MissionID: "m1", Outcome: "assigned", WinnerID: "c1"}
			require.NoError(t, store.Append(ctx, rec))
			got, err := store.Query(ctx, logging.LogQuery{MissionID: "m1"})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "c1", got[0].WinnerID)
		})
	}
}

func TestNewLogStoreUnknown(t *testing.T) {
	_, err := NewLogStore(config.LoggingConfig{Backend: "csv", Path: "x"})
	assert.ErrorIs(t, err, factory.ErrUnknownType)
}
