package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/lightforgemedia/go-ledgerclient/pkg/client"
	"github.com/lightforgemedia/go-ledgerclient/pkg/config"
	"github.com/lightforgemedia/go-ledgerclient/pkg/transport/wstransport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// app holds what every subcommand shares once flags and config are resolved.
type app struct {
	configPath  string
	address     string
	logLevel    string
	compact     bool
	metricsAddr string

	out    io.Writer
	errOut io.Writer
	cfg    config.File
	logger *slog.Logger

	// metricsBound is the address the metrics server listens on once started.
	metricsBound string
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "ledgerwatch",
		Short: "Ledger node WebSocket client",
		Long: `ledgerwatch connects to a ledger node over WebSocket.

It follows push streams (ledger, transactions, server), optionally relaying every
event to NATS, and issues one-off commands such as server_info or account_info.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd) },
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML config file (reloaded on change by watch)")
	flags.StringVarP(&a.address, "address", "a", "", "node WebSocket URL, overrides the config file")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	flags.BoolVar(&a.compact, "compact", false, "print JSON on one line")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(newWatchCmd(a), newRequestCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("address") {
		cfg.Address = a.address
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, _ := config.ParseLevel(cfg.LogLevel)

	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))
	return nil
}

// newClient builds a client from the resolved config. The returned release func
// closes the client and stops the metrics server, if one was started.
func (a *app) newClient() (*client.Client, func(), error) {
	t := wstransport.New(wstransport.WithLogger(a.logger))
	opts := a.cfg.ClientOptions(a.logger)

	var srv *http.Server
	if a.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, client.WithMetrics(reg))
		s, err := a.serveMetrics(reg)
		if err != nil {
			return nil, nil, err
		}
		srv = s
	}

	c, err := client.New(t, opts...)
	if err != nil {
		if srv != nil {
			_ = srv.Close()
		}
		return nil, nil, err
	}
	release := func() {
		_ = c.Close()
		if srv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown", "error", err)
		}
	}
	return c, release, nil
}

func (a *app) serveMetrics(reg *prometheus.Registry) (*http.Server, error) {
	ln, err := net.Listen("tcp", a.metricsAddr)
	if err != nil {
		return nil, errorf("metrics listener: %w", err)
	}
	a.metricsBound = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: a.metricsBound, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.logger.Info("serving metrics", "addr", a.metricsBound)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	return srv, nil
}

func errorf(format string, args ...any) error {
	return fmt.Errorf("ledgerwatch: "+format, args...)
}
