// Package config resolves client settings from the environment, optional
// .env files and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/oukeidos/restora/internal/poller"
	"github.com/oukeidos/restora/internal/service"
)

const (
	EnvAPIURL        = "RESTORA_API_URL"
	EnvPollInterval  = "RESTORA_POLL_INTERVAL"
	EnvMaxPolls      = "RESTORA_MAX_POLLS"
	EnvHTTPTimeout   = "RESTORA_HTTP_TIMEOUT"
	EnvStatusRetries = "RESTORA_STATUS_RETRIES"
)

const (
	DefaultHTTPTimeout = 10 * time.Minute
	MinPollInterval    = 100 * time.Millisecond
	MaxStatusRetries   = 5
)

// DotEnvFiles are read, when present, before the environment is consulted.
// Variables already set in the process environment win.
var DotEnvFiles = []string{".env", ".env.local"}

type Config struct {
	APIURL        string
	PollInterval  time.Duration
	MaxPolls      int
	HTTPTimeout   time.Duration
	StatusRetries int
}

func Default() Config {
	return Config{
		APIURL:        service.DefaultBaseURL,
		PollInterval:  poller.DefaultInterval,
		MaxPolls:      poller.DefaultMaxTicks,
		HTTPTimeout:   DefaultHTTPTimeout,
		StatusRetries: 0,
	}
}

// LoadDotEnv loads the given files, skipping missing ones.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads settings through lookup (os.LookupEnv in production). Values
// that cannot be parsed keep their default and are reported in notes.
func Load(lookup func(string) (string, bool)) (Config, []string) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	c := Default()
	var notes []string

	c.APIURL = getEnv(lookup, EnvAPIURL, c.APIURL)
	if d, ok, err := getEnvDuration(lookup, EnvPollInterval); err != nil {
		notes = append(notes, err.Error())
	} else if ok {
		c.PollInterval = d
	}
	if d, ok, err := getEnvDuration(lookup, EnvHTTPTimeout); err != nil {
		notes = append(notes, err.Error())
	} else if ok {
		c.HTTPTimeout = d
	}
	if n, ok, err := getEnvInt(lookup, EnvMaxPolls); err != nil {
		notes = append(notes, err.Error())
	} else if ok {
		c.MaxPolls = n
	}
	if n, ok, err := getEnvInt(lookup, EnvStatusRetries); err != nil {
		notes = append(notes, err.Error())
	} else if ok {
		c.StatusRetries = n
	}
	return c, notes
}

func getEnv(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

// maxSeconds is the longest bare-seconds value a time.Duration can hold.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// getEnvDuration accepts Go durations ("1500ms") and bare seconds ("2").
func getEnvDuration(lookup func(string) (string, bool), key string) (time.Duration, bool, error) {
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return 0, false, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) > maxSeconds {
			return 0, false, fmt.Errorf("ignoring %s=%q: not a duration", key, v)
		}
		return time.Duration(secs * float64(time.Second)), true, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("ignoring %s=%q: not a duration", key, v)
	}
	return d, true, nil
}

func getEnvInt(lookup func(string) (string, bool), key string) (int, bool, error) {
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("ignoring %s=%q: not an integer", key, v)
	}
	return n, true, nil
}

// Normalize applies safe bounds to config values and returns any adjustments.
func (c Config) Normalize() (Config, []string) {
	var notes []string
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	if c.PollInterval > 0 && c.PollInterval < MinPollInterval {
		notes = append(notes, fmt.Sprintf("poll-interval raised from %s to %s (min %s)", c.PollInterval, MinPollInterval, MinPollInterval))
		c.PollInterval = MinPollInterval
	}
	if c.StatusRetries > MaxStatusRetries {
		notes = append(notes, fmt.Sprintf("status-retries clamped from %d to %d (max %d)", c.StatusRetries, MaxStatusRetries, MaxStatusRetries))
		c.StatusRetries = MaxStatusRetries
	}
	return c, notes
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api-url must be an http(s) URL, got %q", c.APIURL)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be greater than 0, got %s", c.PollInterval)
	}
	if c.MaxPolls <= 0 {
		return fmt.Errorf("max-polls must be greater than 0, got %d", c.MaxPolls)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http-timeout must be greater than 0, got %s", c.HTTPTimeout)
	}
	if c.StatusRetries < 0 {
		return fmt.Errorf("status-retries must be 0 or greater, got %d", c.StatusRetries)
	}
	return nil
}

// Poller returns the polling settings.
func (c Config) Poller() poller.Config {
	return poller.Config{
		Interval:      c.PollInterval,
		MaxTicks:      c.MaxPolls,
		StatusRetries: c.StatusRetries,
	}
}
