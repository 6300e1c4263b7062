package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oukeidos/restora/internal/auth"
	"github.com/oukeidos/restora/internal/cleanup"
	"github.com/oukeidos/restora/internal/config"
	"github.com/oukeidos/restora/internal/files"
	"github.com/oukeidos/restora/internal/httpclient"
	"github.com/oukeidos/restora/internal/logger"
	"github.com/oukeidos/restora/internal/service"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

var (
	isTerminal     = term.IsTerminal
	getToken       = auth.GetToken
	getEnvToken    = auth.GetEnvToken
	hasToken       = auth.HasToken
	promptForToken = auth.PromptForToken
	lookupEnv      = os.LookupEnv
	loadDotEnv     = config.LoadDotEnv
)

// serviceOptions are the flags shared by every command that talks to the
// processing service.
type serviceOptions struct {
	apiURL        string
	httpTimeout   time.Duration
	pollInterval  time.Duration
	maxPolls      int
	statusRetries int
	allowEnv      bool
	envOnly       bool
	logFilePath   string
	debug         bool
}

func addServiceFlags(cmd *cobra.Command, opts *serviceOptions, polling bool) {
	cmd.Flags().StringVar(&opts.apiURL, "api-url", service.DefaultBaseURL, "Processing service API root (env "+config.EnvAPIURL+")")
	cmd.Flags().DurationVar(&opts.httpTimeout, "http-timeout", config.DefaultHTTPTimeout, "Timeout for a single HTTP request")
	if polling {
		cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", time.Second, "Delay between status queries")
		cmd.Flags().IntVar(&opts.maxPolls, "max-polls", 300, "Status queries before giving up with a timeout")
		cmd.Flags().IntVar(&opts.statusRetries, "status-retries", 0, "Retries for a status query after a temporary error (0-5)")
	}
	cmd.Flags().BoolVar(&opts.allowEnv, "allow-env", false, "Allow reading the service token from "+auth.EnvVar)
	cmd.Flags().BoolVar(&opts.envOnly, "env-only", false, "Use only "+auth.EnvVar+" for the service token")
	cmd.Flags().StringVar(&opts.logFilePath, "log-file", "", "Path to save machine-readable JSONL logs")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
}

func setupLogging(opts *serviceOptions) error {
	logLevel := logger.LevelInfo
	if opts.debug {
		logLevel = logger.LevelDebug
	}
	var logFileW io.Writer
	if opts.logFilePath != "" {
		if err := files.RejectSymlinkPath(opts.logFilePath); err != nil {
			return err
		}
		f, err := os.OpenFile(opts.logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cleanup.Register(f.Close)
		logFileW = f
	}
	logger.Init(logLevel, logFileW)
	return nil
}

// loadConfig layers .env files, the environment and explicitly set flags,
// in that order of increasing precedence.
func loadConfig(cmd *cobra.Command, opts *serviceOptions) (config.Config, error) {
	if err := loadDotEnv(config.DotEnvFiles...); err != nil {
		return config.Config{}, err
	}
	cfg, notes := config.Load(lookupEnv)

	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "api-url":
			cfg.APIURL = opts.apiURL
		case "http-timeout":
			cfg.HTTPTimeout = opts.httpTimeout
		case "poll-interval":
			cfg.PollInterval = opts.pollInterval
		case "max-polls":
			cfg.MaxPolls = opts.maxPolls
		case "status-retries":
			cfg.StatusRetries = opts.statusRetries
		}
	})

	cfg, adjusted := cfg.Normalize()
	for _, note := range append(notes, adjusted...) {
		logger.Warn("Config adjusted", "note", note)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// resolveToken finds the optional service token. No token is not an error:
// the service may run without authentication.
func resolveToken(allowEnv, envOnly bool) (string, string, error) {
	if envOnly {
		if token, ok := getEnvToken(); ok {
			return token, auth.SourceEnv, nil
		}
		return "", "", fmt.Errorf("env-only set but %s is not set", auth.EnvVar)
	}
	if token, source := getToken(allowEnv); token != "" {
		return token, source, nil
	}
	return "", "", nil
}

func newServiceClient(cmd *cobra.Command, opts *serviceOptions) (*service.Client, config.Config, error) {
	if err := setupLogging(opts); err != nil {
		return nil, config.Config{}, err
	}
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, config.Config{}, err
	}
	token, source, err := resolveToken(opts.allowEnv, opts.envOnly)
	if err != nil {
		return nil, config.Config{}, err
	}
	if token != "" {
		logger.Info("Using service token", "source", source)
	}
	logger.Debug("Service configured", "api_url", cfg.APIURL, "poll_interval", cfg.PollInterval, "max_polls", cfg.MaxPolls)
	return service.NewClient(cfg.APIURL, token, httpclient.NewClient(cfg.HTTPTimeout)), cfg, nil
}

func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("Cancellation requested")
		cancel()
	}()
	stop := func() {
		signal.Stop(sigCh)
		cancel()
	}
	return ctx, stop
}
