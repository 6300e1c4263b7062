package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	c, notes := Load(lookupFrom(nil))
	if len(notes) != 0 {
		t.Fatalf("unexpected notes: %v", notes)
	}
	if c != Default() {
		t.Fatalf("expected defaults, got %+v", c)
	}
	if c.APIURL != "http://localhost:5000/api" || c.PollInterval != time.Second || c.MaxPolls != 300 || c.StatusRetries != 0 {
		t.Fatalf("unexpected default values: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	c, notes := Load(lookupFrom(map[string]string{
		EnvAPIURL:        " https://gpu.example.com/api ",
		EnvPollInterval:  "1500ms",
		EnvMaxPolls:      "600",
		EnvHTTPTimeout:   "30",
		EnvStatusRetries: "2",
	}))
	if len(notes) != 0 {
		t.Fatalf("unexpected notes: %v", notes)
	}
	if c.APIURL != "https://gpu.example.com/api" || c.PollInterval != 1500*time.Millisecond ||
		c.MaxPolls != 600 || c.HTTPTimeout != 30*time.Second || c.StatusRetries != 2 {
		t.Fatalf("unexpected config: %+v", c)
	}
	p := c.Poller()
	if p.Interval != c.PollInterval || p.MaxTicks != 600 || p.StatusRetries != 2 {
		t.Fatalf("unexpected poller config: %+v", p)
	}
}

func TestLoad_InvalidValuesKeepDefaults(t *testing.T) {
	c, notes := Load(lookupFrom(map[string]string{
		EnvPollInterval: "often",
		EnvMaxPolls:     "many",
	}))
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %v", notes)
	}
	if c.PollInterval != time.Second || c.MaxPolls != 300 {
		t.Fatalf("defaults not kept: %+v", c)
	}
	if !strings.Contains(notes[0], EnvPollInterval) {
		t.Fatalf("note should name the variable: %q", notes[0])
	}
}

func TestLoad_RejectsUnrepresentableSeconds(t *testing.T) {
	for _, v := range []string{"NaN", "Inf", "-Inf", "1e12"} {
		t.Run(v, func(t *testing.T) {
			c, notes := Load(lookupFrom(map[string]string{EnvPollInterval: v, EnvHTTPTimeout: v}))
			if len(notes) != 2 {
				t.Fatalf("expected 2 notes, got %v", notes)
			}
			for _, n := range notes {
				if !strings.Contains(n, "not a duration") {
					t.Fatalf("unexpected note: %q", n)
				}
			}
			if c != Default() {
				t.Fatalf("defaults not kept: %+v", c)
			}
		})
	}

	c, notes := Load(lookupFrom(map[string]string{EnvHTTPTimeout: "9223372036"}))
	if len(notes) != 0 || c.HTTPTimeout != 9223372036*time.Second {
		t.Fatalf("largest whole-second value rejected: %v %v", c.HTTPTimeout, notes)
	}
}

func TestNormalize(t *testing.T) {
	c := Default()
	c.APIURL = "http://host/api/"
	c.PollInterval = time.Millisecond
	c.StatusRetries = 50
	n, notes := c.Normalize()
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %v", notes)
	}
	if n.APIURL != "http://host/api" || n.PollInterval != MinPollInterval || n.StatusRetries != MaxStatusRetries {
		t.Fatalf("unexpected normalized config: %+v", n)
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"bad scheme":     func(c *Config) { c.APIURL = "ftp://host" },
		"no host":        func(c *Config) { c.APIURL = "http://" },
		"zero interval":  func(c *Config) { c.PollInterval = 0 },
		"zero polls":     func(c *Config) { c.MaxPolls = 0 },
		"zero timeout":   func(c *Config) { c.HTTPTimeout = 0 },
		"negative retry": func(c *Config) { c.StatusRetries = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("RESTORA_MAX_POLLS=42\nRESTORA_API_URL=http://dotenv/api\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(EnvAPIURL, "http://process/api")
	t.Setenv(EnvMaxPolls, "")
	os.Unsetenv(EnvMaxPolls)

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	c, _ := Load(os.LookupEnv)
	if c.MaxPolls != 42 {
		t.Fatalf("dotenv value not loaded: %+v", c)
	}
	if c.APIURL != "http://process/api" {
		t.Fatalf("process environment must win over .env: %q", c.APIURL)
	}
}
