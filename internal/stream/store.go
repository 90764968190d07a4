// Package stream holds the append-optimized stores for high-frequency
// market observations: memory-only appends, threshold-triggered batch
// dumps to columnar files, and retention cleanup of old dump files.
package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/halcyonex/tradecore/internal/config"
	"github.com/halcyonex/tradecore/internal/model"
)

// ErrClosed is returned for appends after the store stopped accepting
// ingestion (shutdown).
var ErrClosed = fmt.Errorf("stream store closed")

// estimated fixed overhead per observation on top of its value slots
const recordBaseBytes = 64
const valueBytes = 32

// Usage reports the store's memory accounting.
type Usage struct {
	RecordCount    int     `json:"record_count"`
	EstimatedBytes int64   `json:"estimated_bytes"`
	PercentOfLimit float64 `json:"percent_of_limit"`
}

// Store is one bounded in-memory buffer of schema-stable observations.
// Appends never block on disk: crossing the dump threshold spawns a
// single asynchronous dump which swaps the buffer out and serializes it
// off the hot path.
type Store struct {
	schema model.Schema
	cfg    config.StreamKindConfig
	dir    string
	logger *zap.Logger

	mu      sync.RWMutex
	records []model.Observation
	bytes   int64
	closed  bool

	dumping atomic.Bool
	dumps   sync.WaitGroup
}

// NewStore builds a store for one streaming kind.
func NewStore(schema model.Schema, cfg config.StreamKindConfig, dumpDir string, logger *zap.Logger) *Store {
	return &Store{
		schema: schema,
		cfg:    cfg,
		dir:    dumpDir,
		logger: logger,
	}
}

// Schema returns the store's column layout.
func (s *Store) Schema() model.Schema {
	return s.schema
}

// Append adds one observation.
func (s *Store) Append(obs model.Observation) error {
	return s.AppendBatch([]model.Observation{obs})
}

// AppendBatch adds observations in order. Crossing the dump threshold
// triggers exactly one asynchronous dump; the call itself never waits on
// it.
func (s *Store) AppendBatch(batch []model.Observation) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.records = append(s.records, batch...)
	for i := range batch {
		s.bytes += recordBaseBytes + valueBytes*int64(len(batch[i].Values))
	}
	trigger := s.cfg.DumpThresholdBytes > 0 && s.bytes >= s.cfg.DumpThresholdBytes
	s.mu.Unlock()

	if trigger && s.dumping.CompareAndSwap(false, true) {
		s.dumps.Add(1)
		go func() {
			defer s.dumps.Done()
			defer s.dumping.Store(false)
			if _, err := s.ForceDump(); err != nil {
				s.logger.Error("threshold dump failed", zap.String("kind", s.schema.Kind), zap.Error(err))
			}
		}()
	}
	return nil
}

// LastN returns the most recent n observations, oldest first.
func (s *Store) LastN(n int) []model.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || len(s.records) == 0 {
		return nil
	}
	if n > len(s.records) {
		n = len(s.records)
	}
	out := make([]model.Observation, n)
	copy(out, s.records[len(s.records)-n:])
	return out
}

// Range returns observations for symbol with from <= timestamp <= to,
// oldest first.
func (s *Store) Range(symbol string, from, to int64) []model.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Observation
	for _, o := range s.records {
		if o.Symbol == symbol && o.Timestamp >= from && o.Timestamp <= to {
			out = append(out, o)
		}
	}
	return out
}

// MemoryUsage reports the buffer's accounting against its hard limit.
func (s *Store) MemoryUsage() Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := Usage{RecordCount: len(s.records), EstimatedBytes: s.bytes}
	if s.cfg.MemoryLimitBytes > 0 {
		u.PercentOfLimit = float64(s.bytes) / float64(s.cfg.MemoryLimitBytes) * 100
	}
	return u
}

// ForceDump swaps the whole buffer out and serializes it to one columnar
// batch file, returning the file's location. An empty buffer dumps
// nothing and returns "".
func (s *Store) ForceDump() (string, error) {
	s.mu.Lock()
	batch := s.records
	s.records = nil
	s.bytes = 0
	s.mu.Unlock()

	if len(batch) == 0 {
		return "", nil
	}
	path, err := writeDump(s.dir, s.schema, batch)
	if err != nil {
		dumpsTotal.WithLabelValues(s.schema.Kind, "failed").Inc()
		return "", err
	}
	dumpsTotal.WithLabelValues(s.schema.Kind, "ok").Inc()
	dumpedRecords.WithLabelValues(s.schema.Kind).Add(float64(len(batch)))
	s.logger.Info("stream buffer dumped",
		zap.String("kind", s.schema.Kind),
		zap.Int("records", len(batch)),
		zap.String("file", path))
	return path, nil
}

// Close stops accepting appends and waits for any in-flight threshold
// dump. The remaining buffer is left for the shutdown coordinator's
// ForceDump.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.dumps.Wait()
}
