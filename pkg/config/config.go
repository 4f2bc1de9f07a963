// Package config loads the YAML configuration of the ledgerwatch tool and turns it
// into client options.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lightforgemedia/go-ledgerclient/pkg/client"
	"github.com/lightforgemedia/go-ledgerclient/pkg/filewatcher"
	"github.com/lightforgemedia/go-ledgerclient/pkg/requests"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// File is the on-disk configuration.
type File struct {
	Address            string        `yaml:"address"`
	Streams            []string      `yaml:"streams"`
	RequestTimeout     time.Duration `yaml:"requestTimeout"`
	ConnectTimeout     time.Duration `yaml:"connectTimeout"`
	StaleLedgerTimeout time.Duration `yaml:"staleLedgerTimeout"`
	// DrainPolicy is "fail-fast" or "retry".
	DrainPolicy string    `yaml:"drainPolicy"`
	Reconnect   Reconnect `yaml:"reconnect"`
	RateLimit   RateLimit `yaml:"rateLimit"`
	NATS        NATS      `yaml:"nats"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
}

type Reconnect struct {
	Enabled     bool          `yaml:"enabled"`
	MinDelay    time.Duration `yaml:"minDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	MaxAttempts int           `yaml:"maxAttempts"`
	// Jitter adds up to this fraction of each delay at random.
	Jitter float64 `yaml:"jitter"`
}

type RateLimit struct {
	PerSecond float64 `yaml:"perSecond"`
	Burst     int     `yaml:"burst"`
}

// NATS configures the event relay. An empty URL disables it.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		Address:        "wss://s1.ripple.com",
		Streams:        []string{"ledger"},
		RequestTimeout: 10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		DrainPolicy:    requests.FailFast.String(),
		Reconnect: Reconnect{
			Enabled:  true,
			MinDelay: time.Second,
			MaxDelay: 30 * time.Second,
		},
		NATS:     NATS{SubjectPrefix: "ledger"},
		LogLevel: "info",
	}
}

// Load reads path over Default. Keys missing from the file keep their defaults.
func Load(path string) (File, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return File{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return File{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid value.
func (f File) Validate() error {
	var errs []error
	if f.Address == "" {
		errs = append(errs, errors.New("address is required"))
	} else if !strings.HasPrefix(f.Address, "ws://") && !strings.HasPrefix(f.Address, "wss://") {
		errs = append(errs, fmt.Errorf("address %q must be a ws:// or wss:// URL", f.Address))
	}
	if f.RequestTimeout < 0 || f.ConnectTimeout < 0 || f.StaleLedgerTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if _, err := f.drainPolicy(); err != nil {
		errs = append(errs, err)
	}
	if f.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.maxAttempts must not be negative"))
	}
	if f.Reconnect.MaxDelay > 0 && f.Reconnect.MaxDelay < f.Reconnect.MinDelay {
		errs = append(errs, errors.New("reconnect.maxDelay must not be less than reconnect.minDelay"))
	}
	if f.Reconnect.Jitter < 0 || f.Reconnect.Jitter > 1 {
		errs = append(errs, errors.New("reconnect.jitter must be between 0 and 1"))
	}
	if f.RateLimit.PerSecond < 0 || f.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rateLimit values must not be negative"))
	}
	if _, err := ParseLevel(f.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (f File) drainPolicy() (requests.DrainPolicy, error) {
	switch strings.ToLower(f.DrainPolicy) {
	case "", requests.FailFast.String():
		return requests.FailFast, nil
	case requests.Retry.String():
		return requests.Retry, nil
	default:
		return 0, fmt.Errorf("unknown drainPolicy %q", f.DrainPolicy)
	}
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown logLevel %q", s)
	}
	return level, nil
}

// ClientOptions converts f into client options. f must be valid.
func (f File) ClientOptions(logger *slog.Logger) []client.Option {
	policy, _ := f.drainPolicy()
	opts := []client.Option{
		client.WithLogger(logger),
		client.WithDefaultRequestTimeout(f.RequestTimeout),
		client.WithConnectTimeout(f.ConnectTimeout),
		client.WithDrainPolicy(policy),
		client.WithStaleLedgerTimeout(f.StaleLedgerTimeout),
	}
	if f.Reconnect.Enabled {
		opts = append(opts, client.WithAutoReconnect(f.Reconnect.MaxAttempts, f.Reconnect.MinDelay, f.Reconnect.MaxDelay))
		if f.Reconnect.Jitter > 0 {
			opts = append(opts, client.WithBackoff(client.Jittered(
				client.Exponential(f.Reconnect.MinDelay, f.Reconnect.MaxDelay), f.Reconnect.Jitter)))
		}
	} else {
		opts = append(opts, client.WithoutAutoReconnect())
	}
	if f.RateLimit.PerSecond > 0 {
		opts = append(opts, client.WithRateLimit(rate.Limit(f.RateLimit.PerSecond), f.RateLimit.Burst))
	}
	return opts
}

// Watch calls fn with the reloaded configuration every time path settles after a
// change, until ctx is done. Invalid edits are logged and skipped.
func Watch(ctx context.Context, path string, logger *slog.Logger, fn func(File)) error {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := filewatcher.New([]string{path}, filewatcher.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}
	fw.AddCallback(func(string) {
		cfg, err := Load(path)
		if err != nil {
			logger.Warn("config: ignoring invalid change", "path", path, "error", err)
			return
		}
		logger.Info("config: reloaded", "path", path)
		fn(cfg)
	})
	return fw.Run(ctx)
}
