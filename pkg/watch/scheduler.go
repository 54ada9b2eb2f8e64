package watch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/orchestrate"
)

// MirrorFunc mirrors the given sites and reports one result per site
type MirrorFunc func(ctx context.Context, siteKeys []string) []orchestrate.SiteResult

// Scheduler re-mirrors sites whenever their last run is older than the interval
type Scheduler struct {
	siteKeys     []string
	interval     time.Duration
	tick         time.Duration
	log          *logrus.Entry
	stateManager *StateManager
	mirror       MirrorFunc

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler that mirrors through an orchestrator for validated site keys
func NewScheduler(appCfg *config.AppConfig, siteKeys []string, interval time.Duration, opts orchestrate.Options, log *logrus.Entry) *Scheduler {
	mirror := func(ctx context.Context, keys []string) []orchestrate.SiteResult {
		return orchestrate.NewOrchestrator(appCfg, keys, opts, log).Run(ctx)
	}
	return newScheduler(NewStateManager(afero.NewOsFs(), appCfg.StateDir), siteKeys, interval, mirror, log)
}

func newScheduler(state *StateManager, siteKeys []string, interval time.Duration, mirror MirrorFunc, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		siteKeys:     siteKeys,
		interval:     interval,
		tick:         calculateTickInterval(interval),
		log:          log,
		stateManager: state,
		mirror:       mirror,
	}
}

// Run starts the watch scheduler and blocks until ctx is done and any running mirror has finished
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode for %d sites with interval %s", len(s.siteKeys), FormatInterval(s.interval))
	s.logSchedule()

	s.runDueSites(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.runDueSites(ctx)
		}
	}
}

// runDueSites mirrors all sites that are due, unless the previous round is still running
func (s *Scheduler) runDueSites(ctx context.Context) {
	dueSites := s.getDueSites()
	if len(dueSites) == 0 {
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debugf("Sites %v are due but the previous round is still running", dueSites)
		return
	}

	s.log.Infof("Mirroring %d due sites: %v", len(dueSites), dueSites)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		for _, result := range s.mirror(ctx, dueSites) {
			// An interrupted run is retried on the next start rather than counted
			if errors.Is(result.Error, context.Canceled) {
				continue
			}
			s.stateManager.RecordRun(result)
		}

		if err := s.stateManager.Save(); err != nil {
			s.log.Errorf("Failed to save watch state: %v", err)
		}
		s.logNextRun()
	}()
}

// getDueSites returns sites that are due for a mirror run
func (s *Scheduler) getDueSites() []string {
	var due []string
	for _, siteKey := range s.siteKeys {
		if s.stateManager.ShouldRun(siteKey, s.interval) {
			due = append(due, siteKey)
		}
	}
	return due
}

// calculateTickInterval returns how often to check for due sites
func calculateTickInterval(interval time.Duration) time.Duration {
	// Check at least every minute, or every 1/10th of the interval
	checkInterval := interval / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

// logSchedule logs the current schedule
func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	states := s.stateManager.GetAllSiteStates()
	for _, siteKey := range s.siteKeys {
		state, exists := states[siteKey]
		if !exists {
			s.log.Infof("  %s: never mirrored, will run immediately", siteKey)
			continue
		}
		status := "success"
		if !state.LastRunSuccess {
			status = "failed"
		}
		s.log.Infof("  %s: last run %v (%s, %d done, %d failed), next run %v",
			siteKey,
			state.LastRunTime.Format(time.RFC3339),
			status,
			state.PathsDone,
			state.PathsFailed,
			state.LastRunTime.Add(s.interval).Format(time.RFC3339))
	}
}

// logNextRun logs when the next run will occur
func (s *Scheduler) logNextRun() {
	if len(s.siteKeys) == 0 {
		return
	}
	next := slices.MinFunc(s.siteKeys, func(a, b string) int {
		return s.nextRun(a).Compare(s.nextRun(b))
	})
	nextTime := s.nextRun(next)
	until := max(time.Until(nextTime), 0)
	s.log.Infof("Next mirror: %s in %v (at %s)", next, until.Round(time.Second), nextTime.Format("15:04:05"))
}

// nextRun returns when siteKey is due, now for a site that never ran
func (s *Scheduler) nextRun(siteKey string) time.Time {
	if next, ok := s.stateManager.NextRun(siteKey, s.interval); ok {
		return next
	}
	return time.Now()
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for days and weeks
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}

	if weeks, ok := strings.CutSuffix(s, "w"); ok {
		if n, err := strconv.Atoi(weeks); err == nil && n > 0 {
			return time.Duration(n) * 7 * 24 * time.Hour, nil
		}
	}

	// Day suffix, optionally followed by a standard duration
	if daysStr, remaining, ok := strings.Cut(s, "d"); ok {
		if days, err := strconv.Atoi(daysStr); err == nil && days > 0 {
			d = time.Duration(days) * 24 * time.Hour
			if remaining != "" {
				extra, err := time.ParseDuration(remaining)
				if err != nil || extra < 0 {
					return 0, fmt.Errorf("invalid interval format: %s", s)
				}
				d += extra
			}
			return d, nil
		}
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d, 2w)", s)
}
