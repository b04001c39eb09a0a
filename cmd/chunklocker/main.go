package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattiekat/chunk-locker/internal/catalog"
	"github.com/mattiekat/chunk-locker/internal/chunker"
	"github.com/mattiekat/chunk-locker/internal/config"
	"github.com/mattiekat/chunk-locker/internal/logging"
	"github.com/mattiekat/chunk-locker/internal/memory"
	"github.com/mattiekat/chunk-locker/internal/metrics"
	"github.com/mattiekat/chunk-locker/internal/scheduler"
	"github.com/mattiekat/chunk-locker/internal/snapshot"
	"github.com/mattiekat/chunk-locker/internal/stage/compressor"
	"github.com/mattiekat/chunk-locker/internal/stage/encryptor"
	"github.com/mattiekat/chunk-locker/internal/stage/signer"
	"github.com/mattiekat/chunk-locker/internal/store"
	"github.com/mattiekat/chunk-locker/internal/throttle"
)

func main() {
	configPath := flag.String("config", "/etc/chunklocker/config.yaml", "path to configuration file")
	once := flag.String("once", "", "run one named snapshot immediately and exit (no daemon)")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090 (empty disables)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	runner, cleanup, err := buildRunner(cfg, logger)
	if err != nil {
		logger.Error("failed to build runner", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if *once != "" {
		entry, ok := findEntry(cfg.Snapshots, *once)
		if !ok {
			logger.Error("no such snapshot configured", "snapshot", *once)
			os.Exit(1)
		}
		res, err := runner.Run(context.Background(), entry)
		if err != nil {
			logger.Error("snapshot run failed", "snapshot", *once, "error", err)
			os.Exit(1)
		}
		logger.Info("snapshot run complete", "snapshot", *once, "result", res)
		return
	}

	sched, err := scheduler.New(runner, cfg.Snapshots, logger)
	if err != nil {
		logger.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: runner.Metrics.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	sched.Start()
	runDaemon(*configPath, sched, logger)
}

func findEntry(entries []config.SnapshotEntry, name string) (config.SnapshotEntry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return config.SnapshotEntry{}, false
}

// runDaemon blocks until SIGTERM or SIGINT. SIGHUP is logged but does not
// currently reload configuration: unlike the ambient stack this binary was
// adapted from, the scheduler here owns a live *snapshot.Runner with an
// open catalog and pool, neither of which can be swapped out mid-flight
// without draining every in-progress run first.
func runDaemon(configPath string, sched *scheduler.Scheduler, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		sig := <-sigCh

		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP; live config reload is not supported, continuing with current config", "path", configPath)
			continue
		}

		logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		sched.Stop(ctx)
		cancel()
		return
	}
}

// buildRunner wires config into a fully constructed snapshot.Runner plus a
// cleanup func that releases everything with an open handle (catalog db,
// metrics registry has nothing to close).
func buildRunner(cfg *config.Config, logger *slog.Logger) (*snapshot.Runner, func(), error) {
	pool := memory.NewPool(cfg.Memory.BufferCount, int(cfg.Memory.BufferSizeRaw))

	chunkerCfg := chunker.NewConfig(cfg.Chunker.MinSizeRaw, cfg.Chunker.AvgSizeRaw, cfg.Chunker.MaxSizeRaw, *cfg.Chunker.NormalizationLevel)

	st, err := buildStore(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("building store: %w", err)
	}

	cat, err := catalog.Open(context.Background(), cfg.Catalog.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening catalog: %w", err)
	}

	compMode, err := parseCompressionMode(cfg.Compression.Mode)
	if err != nil {
		cat.Close()
		return nil, nil, err
	}
	comp := compressor.New(compMode, cfg.Compression.Level, pool)

	var encKey []byte
	if cfg.Encryption.Enabled {
		encKey, err = os.ReadFile(cfg.Encryption.KeyFile)
		if err != nil {
			cat.Close()
			return nil, nil, fmt.Errorf("reading encryption key file: %w", err)
		}
	}
	enc, err := encryptor.New(encKey, pool)
	if err != nil {
		cat.Close()
		return nil, nil, fmt.Errorf("building encryptor: %w", err)
	}

	var sgnr *signer.Signer
	if cfg.Signing.Enabled {
		sgnr, err = signer.LoadFromFiles(cfg.Signing.PrivateKeyFile, cfg.Signing.PublicKeyFile)
		if err != nil {
			cat.Close()
			return nil, nil, fmt.Errorf("loading signing keys: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	runner := &snapshot.Runner{
		Pool:           pool,
		ChunkerCfg:     chunkerCfg,
		Compressor:     comp,
		Encryptor:      enc,
		Signer:         sgnr,
		Store:          st,
		Catalog:        cat,
		Metrics:        m,
		Logger:         logger,
		SnapshotLogDir: cfg.Logging.SnapshotLogDir,
	}

	cleanup := func() {
		cat.Close()
	}
	return runner, cleanup, nil
}

func buildStore(cfg config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Kind {
	case "s3":
		st, err = store.NewS3(context.Background(), store.S3Config{
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	default:
		st, err = store.NewFilesystem(cfg.Filesystem.RootDir)
	}
	if err != nil {
		return nil, err
	}
	return throttle.Wrap(st, cfg.ThrottleBytesPerSec), nil
}

func parseCompressionMode(mode string) (compressor.Mode, error) {
	switch mode {
	case "none":
		return compressor.ModeNone, nil
	case "gzip":
		return compressor.ModeGzip, nil
	case "zstd":
		return compressor.ModeZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression mode %q", mode)
	}
}
