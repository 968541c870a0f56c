package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/hashgate/powreg/pow"
)

const (
	defaultTimeout = 5000 // milliseconds
)

// Config defines the configuration options for powreg.
//
//nolint:lll
type Config struct {
	URL         string   `short:"u" long:"url"     env:"POWREG_URL"     description:"Registration endpoint URL (challenge is fetched from and solution submitted to the same URL)"`
	Emails      []string `short:"e" long:"email"   env:"POWREG_EMAIL"   env-delim:"," description:"Email address to register; may be given more than once"`
	Timeout     uint64   `long:"timeout"           env:"POWREG_TIMEOUT" description:"Wall-clock budget in milliseconds shared by the challenge fetch and the submission"`
	MaxAttempts uint64   `long:"max-attempts" description:"Upper bound on nonce candidates tried per challenge"`
	Verbose     bool     `short:"v" long:"verbose" description:"Log attempt progress"`
	JSONLog     bool     `long:"jsonlog" description:"Whether to log in JSON format"`
	LogFile     string   `long:"logfile" description:"Also write logs to this file"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	return &Config{
		Timeout:     defaultTimeout,
		MaxAttempts: pow.DefaultMaxAttempts,
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// SetupConfig validates the parsed configuration.
func SetupConfig(cfg *Config) (*Config, error) {
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL %q: %w", cfg.URL, err)
	}
	if !endpoint.IsAbs() {
		return nil, fmt.Errorf("endpoint URL %q must be absolute", cfg.URL)
	}
	if len(cfg.Emails) == 0 {
		return nil, errors.New("at least one email is required")
	}
	if cfg.Timeout == 0 {
		return nil, errors.New("timeout must be positive")
	}
	if cfg.MaxAttempts == 0 {
		return nil, errors.New("max-attempts must be positive")
	}
	return cfg, nil
}

// Budget returns the per-attempt deadline as a duration.
func (c *Config) Budget() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}
