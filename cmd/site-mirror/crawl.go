package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/orchestrate"
	"github.com/Sriram-PR/site-mirror/pkg/watch"
)

// selectSiteKeys resolves the -site, -sites and -all-sites flags to a list of site keys.
// A nil result with allSites set means every configured site.
func selectSiteKeys(siteKey, sites string, allSites bool) ([]string, error) {
	switch {
	case allSites:
		return nil, nil
	case sites != "":
		var keys []string
		for _, s := range strings.Split(sites, ",") {
			if s = strings.TrimSpace(s); s != "" {
				keys = append(keys, s)
			}
		}
		if len(keys) == 0 {
			return nil, errors.New("-sites lists no site keys")
		}
		return keys, nil
	case siteKey != "":
		return []string{siteKey}, nil
	}
	return nil, errors.New("one of -site, -sites, or -all-sites is required")
}

// prepareSites loads the config, validates every selected site in place and logs warnings.
func prepareSites(configFile string, siteKeys []string, allSites bool, log *logrus.Logger) (*config.AppConfig, []string, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, nil, err
	}
	appWarnings, _ := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}

	if allSites {
		siteKeys = orchestrate.GetAllSiteKeys(appCfg)
		log.Infof("All sites mode: found %d sites", len(siteKeys))
	}
	if len(siteKeys) == 0 {
		return nil, nil, errors.New("no sites configured")
	}
	if err := orchestrate.ValidateSiteKeys(appCfg, siteKeys); err != nil {
		return nil, nil, err
	}

	for _, key := range siteKeys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			return nil, nil, fmt.Errorf("site '%s' configuration error: %w", key, err)
		}
		for _, w := range siteWarnings {
			log.Warnf("[%s] %s", key, w)
		}
		appCfg.Sites[key] = siteCfg
	}
	return appCfg, siteKeys, nil
}

// notifyShutdown cancels on the first SIGINT/SIGTERM and force-exits on a second one or after a grace period.
// The returned stop function must be called once the caller is done.
func notifyShutdown(cancel context.CancelFunc, done <-chan struct{}, log *logrus.Logger) (stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		case <-done:
		}
	}()

	return func() { signal.Stop(sigChan) }
}

// executeCrawl mirrors the selected sites once and returns the process exit code
func executeCrawl(configFile string, siteKeys []string, allSites bool, logLevelStr string, writeStatusLog bool) int {
	log := setupLogger(logLevelStr)

	appCfg, siteKeys, err := prepareSites(configFile, siteKeys, allSites, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	logAppConfig(appCfg, log)

	// ===========================================================
	// == Setup Global Context & Signal Handling ==
	// ===========================================================
	var crawlCtx context.Context
	var cancelCrawl context.CancelFunc
	if appCfg.GlobalCrawlTimeout > 0 {
		log.Infof("Setting global crawl timeout: %v", appCfg.GlobalCrawlTimeout)
		crawlCtx, cancelCrawl = context.WithTimeout(context.Background(), appCfg.GlobalCrawlTimeout)
	} else {
		log.Info("No global crawl timeout set.")
		crawlCtx, cancelCrawl = context.WithCancel(context.Background())
	}
	defer cancelCrawl()

	finished := make(chan struct{})
	defer close(finished)
	stopSignals := notifyShutdown(cancelCrawl, finished, log)
	defer stopSignals()

	// ===========================================================
	// == Mirror ==
	// ===========================================================
	orch := orchestrate.NewOrchestrator(appCfg, siteKeys, orchestrate.Options{WriteStatusLog: writeStatusLog}, logrus.NewEntry(log))
	results := orch.Run(crawlCtx)

	return exitCode(results, log)
}

// exitCode turns site results into a process exit code. Cancellation is a graceful stop.
func exitCode(results []orchestrate.SiteResult, log *logrus.Logger) int {
	code := 0
	for _, r := range results {
		switch {
		case r.Error == nil:
			if r.Info != nil && r.Info.Failed > 0 {
				log.Warnf("[%s] Mirror completed with %d failed paths; run 'site-mirror failed -site %s' for details.", r.SiteKey, r.Info.Failed, r.SiteKey)
			} else {
				log.Infof("[%s] Mirror completed successfully.", r.SiteKey)
			}
		case errors.Is(r.Error, context.Canceled):
			log.Warnf("[%s] Mirror cancelled gracefully.", r.SiteKey)
		case errors.Is(r.Error, context.DeadlineExceeded):
			log.Errorf("[%s] Mirror timed out (global timeout).", r.SiteKey)
			code = 1
		default:
			log.Errorf("[%s] Mirror finished with error: %v", r.SiteKey, r.Error)
			code = 1
		}
	}
	return code
}

// executeWatch runs the watch scheduler until interrupted
func executeWatch(configFile string, siteKeys []string, allSites bool, intervalStr, logLevelStr string) int {
	log := setupLogger(logLevelStr)

	interval, err := watch.ParseInterval(intervalStr)
	if err != nil {
		log.Errorf("Invalid interval: %v", err)
		return 1
	}
	log.Infof("Watch interval: %s", watch.FormatInterval(interval))

	appCfg, siteKeys, err := prepareSites(configFile, siteKeys, allSites, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	finished := make(chan struct{})
	defer close(finished)
	stopSignals := notifyShutdown(cancel, finished, log)
	defer stopSignals()

	scheduler := watch.NewScheduler(appCfg, siteKeys, interval, orchestrate.Options{}, log.WithField("component", "watch"))
	if err := scheduler.Run(ctx); err != nil {
		log.Errorf("Watch scheduler error: %v", err)
		return 1
	}
	log.Info("Watch mode stopped")
	return 0
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Workers:%d, MaxReqs:%d, IdleRetryDelay:%v, ProgressInterval:%v",
		appCfg.NumWorkers, appCfg.MaxRequests, appCfg.IdleRetryDelay, appCfg.ProgressInterval)
	log.Infof("Global Config: StateDir:%s, OutputDir:%s, CacheFirst:%t",
		appCfg.StateDir, appCfg.OutputBaseDir, appCfg.CacheFirst)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}
