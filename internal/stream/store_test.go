package stream

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/halcyonex/tradecore/internal/config"
	"github.com/halcyonex/tradecore/internal/model"
)

func newTestStore(t *testing.T, thresholdBytes int64) (*Store, string) {
	dir := t.TempDir()
	cfg := config.StreamKindConfig{
		MemoryLimitBytes:   thresholdBytes * 2,
		DumpThresholdBytes: thresholdBytes,
	}
	return NewStore(model.TickSchema, cfg, dir, zaptest.NewLogger(t)), dir
}

func tick(symbol string, ts int64, price float64) model.Observation {
	return model.NewTick(symbol, ts, decimal.NewFromFloat(price), decimal.NewFromInt(1))
}

func dumpFiles(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json.gz") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files
}

func TestLastNAndRange(t *testing.T) {
	s, _ := newTestStore(t, 1<<20)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, s.Append(tick("BTCUSDT", 1000+i, 50000+float64(i))))
	}
	require.NoError(t, s.Append(tick("ETHUSDT", 1005, 3000)))

	last := s.LastN(3)
	require.Len(t, last, 3)
	assert.Equal(t, int64(1008), last[0].Timestamp, "oldest first")
	assert.Equal(t, "ETHUSDT", last[2].Symbol)

	ranged := s.Range("BTCUSDT", 1002, 1004)
	require.Len(t, ranged, 3)
	for i, o := range ranged {
		assert.Equal(t, 1002+int64(i), o.Timestamp)
	}
	assert.Empty(t, s.Range("BTCUSDT", 2000, 3000))
}

func TestForceDumpRoundTrip(t *testing.T) {
	s, dir := newTestStore(t, 1<<20)
	var appended []model.Observation
	for i := int64(0); i < 50; i++ {
		o := tick("BTCUSDT", 1000+i, 50000.5+float64(i))
		appended = append(appended, o)
		require.NoError(t, s.Append(o))
	}

	path, err := s.ForceDump()
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.Zero(t, s.MemoryUsage().RecordCount, "buffer cleared after dump")
	assert.Zero(t, s.MemoryUsage().EstimatedBytes)

	schema, records, err := ReadDump(path)
	require.NoError(t, err)
	assert.Equal(t, model.TickSchema, schema)
	require.Len(t, records, len(appended))
	for i := range appended {
		assert.Equal(t, appended[i].Symbol, records[i].Symbol)
		assert.Equal(t, appended[i].Timestamp, records[i].Timestamp)
		for c := range appended[i].Values {
			assert.True(t, appended[i].Values[c].Equal(records[i].Values[c]))
		}
	}

	// schema survives for subsequent appends
	require.NoError(t, s.Append(tick("BTCUSDT", 2000, 51000)))
	assert.Equal(t, 1, s.MemoryUsage().RecordCount)
	assert.Len(t, dumpFiles(t, dir), 1)
}

func TestEmptyDumpWritesNothing(t *testing.T) {
	s, dir := newTestStore(t, 1<<20)
	path, err := s.ForceDump()
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, dumpFiles(t, dir))
}

func TestThresholdTriggersExactlyOneDump(t *testing.T) {
	// threshold equals ~5 tick records
	s, dir := newTestStore(t, 5*(recordBaseBytes+2*valueBytes))
	batch := make([]model.Observation, 8)
	for i := range batch {
		batch[i] = tick("BTCUSDT", int64(i), 100)
	}
	require.NoError(t, s.AppendBatch(batch))

	require.Eventually(t, func() bool {
		return s.MemoryUsage().RecordCount == 0
	}, 5*time.Second, 10*time.Millisecond, "async dump drains the buffer")

	files := dumpFiles(t, dir)
	require.Len(t, files, 1, "one threshold crossing, one dump")
	_, records, err := ReadDump(files[0])
	require.NoError(t, err)
	assert.Len(t, records, len(batch), "no dropped or double-counted records")
}

func TestAppendAfterCloseRejected(t *testing.T) {
	s, _ := newTestStore(t, 1<<20)
	require.NoError(t, s.Append(tick("BTCUSDT", 1, 100)))
	s.Close()
	require.ErrorIs(t, s.Append(tick("BTCUSDT", 2, 100)), ErrClosed)
	// the remaining buffer stays for the shutdown coordinator's dump
	assert.Equal(t, 1, s.MemoryUsage().RecordCount)
}

func TestMemoryUsagePercent(t *testing.T) {
	s, _ := newTestStore(t, 1<<10)
	require.NoError(t, s.Append(tick("BTCUSDT", 1, 100)))
	u := s.MemoryUsage()
	assert.Equal(t, 1, u.RecordCount)
	assert.Positive(t, u.EstimatedBytes)
	assert.InDelta(t, float64(u.EstimatedBytes)/float64(1<<11)*100, u.PercentOfLimit, 0.01)
}
