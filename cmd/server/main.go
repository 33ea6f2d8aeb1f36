package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/discovery"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/internal/syncer"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
	configPath  = flag.String("config", "", "Path to the configuration file")
	discover    = flag.String("discover", "", "Discover server settings for an email address and exit")
	verify      = flag.Bool("verify", false, "With -discover, also verify the discovered servers are reachable")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailsync version %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load environment overrides from .env if present
	_ = godotenv.Load()

	if *discover != "" {
		os.Exit(runDiscover(logger, *discover, *verify))
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting mailsync")

	// Initialize cache
	draftCache, err := cache.NewCache(cfg.CachePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize cache")
	}
	defer draftCache.Close()

	// Initialize draft store
	store := cache.NewStore(draftCache, logger)

	// Register accounts in the store
	for i := range cfg.Accounts {
		if _, err := store.UpsertAccount(&cfg.Accounts[i]); err != nil {
			logger.WithError(err).WithField("account", cfg.Accounts[i].Name).Warn("Failed to register account")
		}
	}

	// Initialize account manager and sync engine
	manager := email.NewAccountManager(cfg, logger)
	engine := syncer.NewEngine(store, manager, logger)
	scheduler := syncer.NewScheduler(engine, cfg.Accounts,
		time.Duration(cfg.PollIntervalSec)*time.Second, logger)

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.WithField("signal", sig).Info("Received shutdown signal")
	cancel()
	scheduler.Stop()

	logger.Info("Shutting down mailsync")
}

// runDiscover resolves server settings for one address and prints the
// published configuration shape as JSON.
func runDiscover(logger *logrus.Logger, address string, verifyServers bool) int {
	logger.SetLevel(logrus.WarnLevel)

	d := discovery.New(logger)
	res := d.Discover(context.Background(), address)
	cfg := discovery.ToDiscoveredEmailConfig(res, address)
	if cfg == nil {
		fmt.Fprintf(os.Stderr, "discovery failed for %s: %v\n", address, res.Err)
		return 1
	}

	if verifyServers {
		v := discovery.NewVerifier(logger)
		if err := v.Verify(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "verification failed: %v\n", err)
			return 1
		}
	}

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding config: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}
