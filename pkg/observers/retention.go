package observers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const timelineExt = ".jsonl"

// Purge removes session timelines older than maxAge. Files of sessions that
// are still running are kept, as is anything that is not a timeline.
func (o *TimelineObserver) Purge(maxAge time.Duration) (int, error) {
	if strings.TrimSpace(o.dir) == "" || maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(o.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != timelineExt {
			continue
		}
		if o.active(strings.TrimSuffix(name, timelineExt)) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(o.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = errors.Join(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}

func (o *TimelineObserver) active(safeID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.files[safeID]
	return ok
}

// RunRetention purges old timelines every interval until ctx is done.
func (o *TimelineObserver) RunRetention(ctx context.Context, maxAge, interval time.Duration, log *slog.Logger) {
	if maxAge <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		switch n, err := o.Purge(maxAge); {
		case err != nil:
			log.Warn("timeline_purge_failed", "dir", o.dir, "error", err.Error())
		case n > 0:
			log.Info("timeline_purged", "dir", o.dir, "removed", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
