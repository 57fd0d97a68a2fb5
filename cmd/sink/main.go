// Command sink is a local StatsD receiver for development. It listens for
// datagrams on UDP, keeps the lines in memory or BadgerDB and serves them
// over a small HTTP API with a websocket live tail.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nicktill/tinystatsd/pkg/config"
	"github.com/nicktill/tinystatsd/pkg/export"
	"github.com/nicktill/tinystatsd/pkg/receiver"
	"github.com/nicktill/tinystatsd/pkg/storage"
	"github.com/nicktill/tinystatsd/pkg/storage/badger"
	"github.com/nicktill/tinystatsd/pkg/storage/memory"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
	retentionInterval  = time.Minute
)

type options struct {
	listen    string
	httpAddr  string
	dataDir   string
	maxLines  int
	maxSeries int
	maxMemMB  int64
	retention time.Duration
	dev       bool
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("sink", pflag.ContinueOnError)
	fs.StringVarP(&opts.listen, "listen", "l", envOr("STATSD_ADDR", config.DefaultListenAddr), "UDP address for StatsD datagrams")
	fs.StringVar(&opts.httpAddr, "http", envOr("SINK_HTTP_ADDR", config.DefaultHTTPAddr), "HTTP API address")
	fs.StringVarP(&opts.dataDir, "data-dir", "d", envOr("SINK_DATA_DIR", ""), "BadgerDB directory (empty keeps lines in memory)")
	fs.IntVar(&opts.maxLines, "max-lines", config.DefaultMaxLines, "lines kept by the in-memory store")
	fs.IntVar(&opts.maxSeries, "max-series", envInt("SINK_MAX_SERIES", receiver.DefaultMaxSeries), "distinct name|type series accepted")
	fs.Int64Var(&opts.maxMemMB, "max-memory-mb", config.DefaultMaxMemoryMB, "BadgerDB memory budget in MB")
	fs.DurationVar(&opts.retention, "retention", 0, "delete lines older than this (0 keeps everything)")
	fs.BoolVar(&opts.dev, "dev", false, "human readable debug logging")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.retention < 0 {
		return opts, fmt.Errorf("--retention must not be negative, got %s", opts.retention)
	}
	return opts, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(opts.dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Fatal("sink failed", zap.Error(err))
	}
}

func openStore(opts options, logger *zap.Logger) (storage.Storage, error) {
	if opts.dataDir == "" {
		logger.Info("using in-memory storage", zap.Int("max_lines", opts.maxLines))
		return memory.New(opts.maxLines), nil
	}

	if err := os.MkdirAll(opts.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := badger.New(badger.Config{
		Path:        opts.dataDir,
		MaxMemoryMB: opts.maxMemMB,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("using badger storage", zap.String("dir", opts.dataDir), zap.Int64("max_memory_mb", opts.maxMemMB))
	return store, nil
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	store, err := openStore(opts, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := receiver.NewHub(logger.Named("stream"))
	recv := receiver.New(receiver.Config{
		Store:     store,
		Hub:       hub,
		Logger:    logger,
		MaxSeries: opts.maxSeries,
	})

	listener, err := receiver.Listen(opts.listen, recv)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         opts.httpAddr,
		Handler:      newHTTPHandler(recv, store, opts.dataDir, logger),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Serve(ctx); err != nil {
			errCh <- err
		}
	}()

	if bs, ok := store.(*badger.Storage); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runBadgerGC(ctx, bs, logger)
		}()
	}

	if opts.retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runRetention(ctx, store, opts.retention, logger)
		}()
	}

	go func() {
		logger.Info("http api listening", zap.String("addr", opts.httpAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	// Background loops watch ctx; stop them before waiting.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("background tasks did not stop in time")
	}

	logger.Info("sink stopped",
		zap.Uint64("received", recv.Received()),
		zap.Uint64("rejected", recv.Rejected()),
	)
	return runErr
}

// newHTTPHandler builds the sink's HTTP surface. cors wraps the router
// rather than sitting in its middleware chain: mux answers 405 for an
// unrouted OPTIONS before any middleware runs.
func newHTTPHandler(recv *receiver.Receiver, store storage.Storage, dataDir string, logger *zap.Logger) http.Handler {
	router := receiver.NewHandler(recv).Router()
	export.NewHandler(store, logger.Named("export")).Register(router)
	if dataDir != "" {
		monitor := NewStorageMonitor(dataDir)
		router.HandleFunc("/v1/storage", handleStorageUsage(monitor)).Methods(http.MethodGet)
	}
	return cors(router)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// runBadgerGC reclaims value log space. Deleted lines stay on disk until
// the log file they live in is rewritten.
func runBadgerGC(ctx context.Context, store *badger.Storage, logger *zap.Logger) {
	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := store.RunGC(0.5); err != nil {
				logger.Warn("badger gc failed", zap.Error(err))
				continue
			}
			logger.Debug("badger gc finished", zap.Duration("took", time.Since(start)))
		}
	}
}

// runRetention deletes lines older than keep once a minute.
func runRetention(ctx context.Context, store storage.Storage, keep time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := store.Delete(ctx, now.Add(-keep)); err != nil && ctx.Err() == nil {
				logger.Warn("retention cleanup failed", zap.Error(err))
			}
		}
	}
}
