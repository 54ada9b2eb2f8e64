package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "failed":
		runFailed(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "version":
		fmt.Printf("site-mirror %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `site-mirror - Mirror a static site to local storage

Usage:
  site-mirror <command> [options]

Commands:
  crawl       Mirror one or more configured sites
  watch       Re-mirror sites on a fixed interval until interrupted
  failed      List paths that failed in the last crawl of a site
  validate    Validate configuration file
  list-sites  List available site keys
  version     Show version info

Run 'site-mirror <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Infof("Setting log level to: %s", level.String())
	}
	return log
}

// loadSite loads and validates the config and the selected site.
func loadSite(configPath, siteKey string) (*config.AppConfig, config.SiteConfig, []string, error) {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		return nil, config.SiteConfig{}, nil, err
	}
	warnings, _ := appCfg.Validate()

	siteCfg, ok := appCfg.Sites[siteKey]
	if !ok {
		return nil, config.SiteConfig{}, warnings, fmt.Errorf("site '%s' not found in config", siteKey)
	}
	siteWarnings, err := siteCfg.Validate()
	for _, w := range siteWarnings {
		warnings = append(warnings, fmt.Sprintf("[%s] %s", siteKey, w))
	}
	if err != nil {
		return nil, config.SiteConfig{}, warnings, fmt.Errorf("site '%s': %w", siteKey, err)
	}
	return appCfg, siteCfg, warnings, nil
}

// runCrawl handles the crawl subcommand
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config")
	sites := fs.String("sites", "", "Comma-separated site keys to mirror in parallel")
	allSites := fs.Bool("all-sites", false, "Mirror every site in the config")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	writeStatusLog := fs.Bool("write-status-log", false, "Write a TSV of every path and its status on completion")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mirror crawl [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n  site-mirror crawl -site books_toscrape\n  site-mirror crawl -sites books_toscrape,quotes -write-status-log\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	siteKeys, err := selectSiteKeys(*siteKey, *sites, *allSites)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}

	os.Exit(executeCrawl(*configFile, siteKeys, *allSites, *logLevel, *writeStatusLog))
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config")
	sites := fs.String("sites", "", "Comma-separated site keys to watch")
	allSites := fs.Bool("all-sites", false, "Watch every site in the config")
	interval := fs.String("interval", "24h", "Re-mirror interval (e.g. 30m, 6h, 1d, 1w)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mirror watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExample:\n  site-mirror watch -all-sites -interval 6h\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	siteKeys, err := selectSiteKeys(*siteKey, *sites, *allSites)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}

	os.Exit(executeWatch(*configFile, siteKeys, *allSites, *interval, *logLevel))
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mirror validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, *siteKey, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, _ := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}

	keys := slices.Sorted(maps.Keys(appCfg.Sites))
	if siteKey != "" {
		if _, ok := appCfg.Sites[siteKey]; !ok {
			fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
			return 1
		}
		keys = []string{siteKey}
	}
	if len(keys) == 0 {
		fmt.Fprintln(stderr, "Error: no sites configured")
		return 1
	}

	hasError := false
	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		for _, w := range siteWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s] %s\n", key, siteCfg.SiteURL)
	}
	if hasError {
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := flag.NewFlagSet("list-sites", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mirror list-sites [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListSites(*configFile, os.Stdout, os.Stderr))
}

// doListSites lists sites and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListSites(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Sites in %s:\n\n", configPath)
	for _, key := range slices.Sorted(maps.Keys(appCfg.Sites)) {
		site := appCfg.Sites[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    URL: %s\n", site.SiteURL)
		if site.SeedPath != "" {
			fmt.Fprintf(stdout, "    Seed: %s\n", site.SeedPath)
		}
		if config.GetEffectiveCacheFirst(site, *appCfg) {
			fmt.Fprintln(stdout, "    Cache first: yes")
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// runFailed handles the failed subcommand
func runFailed(args []string) {
	fs := flag.NewFlagSet("failed", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mirror failed [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *siteKey == "" {
		fmt.Fprintln(os.Stderr, "Error: -site is required")
		fs.Usage()
		os.Exit(1)
	}

	os.Exit(doFailed(context.Background(), *configFile, *siteKey, os.Stdout, os.Stderr))
}

// doFailed prints the last run summary and every failed path recorded in the site's ledger.
// Returns exit code (0 = success, 1 = error).
func doFailed(ctx context.Context, configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, _, _, err := loadSite(configPath, siteKey)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ledgerPath := storage.LedgerPath(appCfg.StateDir, siteKey)
	if _, err := os.Stat(ledgerPath); err != nil {
		fmt.Fprintf(stderr, "Error: no ledger for site '%s' at %s (run crawl first)\n", siteKey, ledgerPath)
		return 1
	}

	quiet := logrus.New()
	quiet.SetOutput(stderr)
	quiet.SetLevel(logrus.WarnLevel)
	store, err := storage.NewBadgerStore(appCfg.StateDir, siteKey, false, quiet.WithField("site_key", siteKey))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	info, err := store.GetRunInfo()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if info != nil {
		fmt.Fprintf(stdout, "Run %s (%s): started %s, outcome %s\n", info.RunID, info.SiteURL,
			info.StartedAt.Format("2006-01-02 15:04:05"), orUnknown(info.Outcome))
		fmt.Fprintf(stdout, "Seen: %d, done: %d, failed: %d\n\n", info.Seen, info.Done, info.Failed)
	}

	records, err := store.ListByStatus(ctx, models.PathStatusFailed)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(records) == 0 {
		fmt.Fprintln(stdout, "No failed paths.")
		return 0
	}
	for _, rec := range records {
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", rec.Path, rec.Entry.ErrorType, rec.Entry.Error)
	}
	fmt.Fprintf(stdout, "\n%d failed paths.\n", len(records))
	return 0
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
