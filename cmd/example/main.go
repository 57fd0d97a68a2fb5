// Command example is a small web app instrumented with the StatsD client.
// Run cmd/sink next to it to see the lines arrive.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nicktill/tinystatsd/pkg/config"
	"github.com/nicktill/tinystatsd/pkg/statsd"
	"github.com/nicktill/tinystatsd/pkg/statsd/httpx"
	"github.com/nicktill/tinystatsd/pkg/statsd/runtime"
	"github.com/nicktill/tinystatsd/pkg/statsd/transport"
)

type options struct {
	statsdAddr string
	sinkURL    string
	listen     string
	interval   time.Duration
	stdout     bool
	overHTTP   bool
	traffic    bool
	dev        bool
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("example", pflag.ContinueOnError)
	fs.StringVar(&opts.statsdAddr, "statsd", net.JoinHostPort(config.DefaultHost, strconv.Itoa(config.DefaultPort)), "StatsD host:port")
	fs.StringVar(&opts.sinkURL, "sink-url", "http://localhost"+config.DefaultHTTPAddr, "sink HTTP API, used by /api/stats")
	fs.StringVar(&opts.listen, "listen", ":3000", "address the example app serves on")
	fs.DurationVar(&opts.interval, "interval", config.DefaultInterval, "client flush interval")
	fs.BoolVar(&opts.stdout, "stdout", false, "print lines instead of sending them")
	fs.BoolVar(&opts.overHTTP, "http-transport", false, "post lines to the sink's HTTP endpoint instead of UDP")
	fs.BoolVar(&opts.traffic, "traffic", true, "generate requests against the app")
	fs.BoolVar(&opts.dev, "dev", true, "human readable logging")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

// socketFor picks the transport selected by opts
func socketFor(opts options) transport.Socket {
	switch {
	case opts.stdout:
		return transport.NewWriter(os.Stdout)
	case opts.overHTTP:
		return transport.NewHTTP(2 * time.Second)
	default:
		return transport.NewUDP()
	}
}

func newClient(opts options, logger *zap.Logger, sends *statsd.SendStats) (*statsd.Client, error) {
	host, portStr, err := net.SplitHostPort(opts.statsdAddr)
	if err != nil {
		return nil, fmt.Errorf("--statsd: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("--statsd port: %w", err)
	}

	return statsd.New(statsd.ClientConfig{
		Host:     host,
		Port:     port,
		Socket:   socketFor(opts),
		Interval: opts.interval,
		OnSend:   statsd.ChainSends(statsd.LogSends(logger.Named("statsd")), statsd.CountSends(sends)),
	})
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

	var logger *zap.Logger
	if opts.dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sends := &statsd.SendStats{}
	client, err := newClient(opts, logger, sends)
	if err != nil {
		logger.Fatal("failed to create statsd client", zap.Error(err))
	}
	defer client.Dispose()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := newApp(client, sends, opts.sinkURL, logger)

	mux := http.NewServeMux()
	app.routes(mux)

	server := &http.Server{
		Addr:    opts.listen,
		Handler: httpx.Middleware(client, "example")(mux),
	}

	go runtime.NewCollector(client, "example", 10*time.Second).Start(ctx)
	go app.backgroundJobs(ctx, 2*time.Second)
	if opts.traffic {
		go app.simulateTraffic(ctx, "http://localhost"+portSuffix(opts.listen), 3*time.Second)
	}

	go func() {
		logger.Info("example app listening",
			zap.String("addr", opts.listen),
			zap.String("statsd", opts.statsdAddr),
			zap.Duration("interval", client.Interval()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}

	// Dispose does not flush; send what is left first.
	client.Dispose()
	client.Flush()

	logger.Info("example app exited",
		zap.Int64("lines_sent", sends.Sent()),
		zap.Int64("lines_failed", sends.Failed()),
	)
}

// portSuffix turns ":3000" or "0.0.0.0:3000" into ":3000"
func portSuffix(addr string) string {
	if _, port, err := net.SplitHostPort(addr); err == nil {
		return ":" + port
	}
	return addr
}
