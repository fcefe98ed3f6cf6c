package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ytdl-stream/internal/logging"
)

// Owner reports whether a staged file still belongs to a live job.
type Owner interface {
	Owns(name string) bool
}

// Janitor deletes staged files that outlived their job, such as files left
// behind by a crash between staging and streaming.
type Janitor struct {
	dir       string
	olderThan time.Duration
	owner     Owner
	logger    *slog.Logger
	now       func() time.Time
}

func NewJanitor(dir string, olderThan time.Duration, owner Owner, logger *slog.Logger) *Janitor {
	return &Janitor{
		dir:       dir,
		olderThan: olderThan,
		owner:     owner,
		logger:    logging.NewComponentLogger(logger, "janitor"),
		now:       time.Now,
	}
}

// Start sweeps once immediately and then on every interval until ctx ends.
func (j *Janitor) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			j.run()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (j *Janitor) run() {
	removed, err := j.Sweep()
	if err != nil {
		j.logger.Warn("staging sweep failed", logging.Error(err))
		return
	}
	if removed > 0 {
		j.logger.Info("staging sweep finished", logging.Int("removed", removed))
	}
}

// Sweep removes unowned regular files older than the retention window and
// returns how many it deleted. Dot files such as the instance lock are kept.
func (j *Janitor) Sweep() (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read staging dir: %w", err)
	}

	cutoff := j.now().Add(-j.olderThan)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if j.owner != nil && j.owner.Owns(entry.Name()) {
			continue
		}
		path := filepath.Join(j.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			j.logger.Warn("could not remove stale file", logging.String("path", path), logging.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
