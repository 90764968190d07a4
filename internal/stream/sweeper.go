package stream

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sweeper deletes dump files older than the retention window on a fixed
// period. It only ever touches on-disk artifacts, never buffer memory.
type Sweeper struct {
	dir           string
	retentionDays int
	interval      time.Duration
	logger        *zap.Logger
}

// NewSweeper builds a retention sweeper over the dump directory.
func NewSweeper(dir string, retentionDays int, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{dir: dir, retentionDays: retentionDays, interval: interval, logger: logger}
}

// Run sweeps on the configured period until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce deletes every expired dump file, returning how many were
// removed.
func (s *Sweeper) SweepOnce() int {
	if s.retentionDays <= 0 {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("retention sweep failed to list dump dir", zap.String("dir", s.dir), zap.Error(err))
		}
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json.gz") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("retention sweep failed to remove dump file", zap.String("file", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		sweptFiles.Add(float64(removed))
		s.logger.Info("retention sweep removed expired dump files", zap.Int("removed", removed))
	}
	return removed
}
