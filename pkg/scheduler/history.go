package scheduler

import (
	"time"

	"github.com/speedrun-hq/swaprunner/pkg/config"
	"github.com/speedrun-hq/swaprunner/pkg/models"
)

// history keeps the newest finished jobs within count and age limits. Not safe for concurrent use.
type history struct {
	cfg       config.HistoryConfig
	completed []models.JobOutcome
	failed    []models.JobOutcome
}

func newHistory(cfg config.HistoryConfig) *history {
	return &history{cfg: cfg}
}

func (h *history) addCompleted(o models.JobOutcome) {
	h.completed = trim(append(h.completed, o), h.cfg.CompletedCount, h.cfg.CompletedAge, o.FinishedAt)
}

func (h *history) addFailed(o models.JobOutcome) {
	h.failed = trim(append(h.failed, o), h.cfg.FailedCount, h.cfg.FailedAge, o.FinishedAt)
}

func (h *history) prune(now time.Time) {
	h.completed = trim(h.completed, h.cfg.CompletedCount, h.cfg.CompletedAge, now)
	h.failed = trim(h.failed, h.cfg.FailedCount, h.cfg.FailedAge, now)
}

// trim drops entries older than maxAge, then the oldest entries beyond maxCount.
// Entries are appended in finish order, so the slice is oldest first.
func trim(entries []models.JobOutcome, maxCount int, maxAge time.Duration, now time.Time) []models.JobOutcome {
	if maxAge > 0 {
		cutoff := now.Add(-maxAge)
		idx := 0
		for idx < len(entries) && entries[idx].FinishedAt.Before(cutoff) {
			idx++
		}
		entries = entries[idx:]
	}
	if maxCount > 0 && len(entries) > maxCount {
		entries = entries[len(entries)-maxCount:]
	}
	return entries
}
