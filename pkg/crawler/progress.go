package crawler

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// Progress returns a point-in-time view of the run's counters. It does not touch frontier state.
func (e *Engine) Progress() models.Progress {
	seen, queued, done, failed := e.frontier.Counts()
	return models.Progress{
		Seen:       seen,
		Queued:     queued,
		Done:       done,
		Failed:     failed,
		BytesSaved: e.bytesSaved.Load(),
		PerSecond:  float64(e.completed.Rate()),
	}
}

// ReportProgress logs progress every interval until ctx is done.
// A line is only emitted when the completed count changed since the last report.
func (e *Engine) ReportProgress(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastCompleted := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := e.Progress()
			completed := p.Done + p.Failed
			if completed == lastCompleted {
				continue
			}
			lastCompleted = completed
			e.log.WithFields(logrus.Fields{
				"seen":      p.Seen,
				"queued":    p.Queued,
				"in_flight": p.InFlight(),
				"failed":    p.Failed,
				"per_sec":   p.PerSecond,
				"saved":     humanize.Bytes(uint64(p.BytesSaved)),
			}).Infof("Current workload: %d, Completed: %d", p.Seen, completed)
		}
	}
}

// LogSummary writes the end-of-run banner
func (e *Engine) LogSummary(duration time.Duration) {
	p := e.Progress()
	summaryLog := e.log.WithField("duration", duration.Round(time.Millisecond).String())
	summaryLog.Info("========================================================================")
	summaryLog.Info("MIRROR FINISHED")
	summaryLog.Infof("Paths seen: %d, done: %d, failed: %d, still queued: %d", p.Seen, p.Done, p.Failed, p.Queued)
	summaryLog.Infof("Saved %s to the mirror", humanize.Bytes(uint64(p.BytesSaved)))
	summaryLog.Info("========================================================================")
}
