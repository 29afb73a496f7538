package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"commercepay/core/genesis"
	"commercepay/native/commerce"
)

// APIKey is one gateway credential. Requests are signed with the secret over
// timestamp, nonce and body; RateLimit caps sustained requests per second.
type APIKey struct {
	Key       string  `toml:"Key"`
	Secret    string  `toml:"Secret"`
	RateLimit float64 `toml:"RateLimit"`
}

type Config struct {
	ListenAddress        string   `toml:"ListenAddress"`
	DataDir              string   `toml:"DataDir"`
	RecognizedCurrencies []string `toml:"RecognizedCurrencies"`
	// RecordDeposit is a pointer so an explicit `RecordDeposit = 0` (deposits
	// disabled) survives loading instead of being mistaken for "unset".
	RecordDeposit      *uint64              `toml:"RecordDeposit"`
	SchedulerEnabled   bool                 `toml:"SchedulerEnabled"`
	SchedulerInterval  string               `toml:"SchedulerInterval"`
	AuthTimestampSkew  string               `toml:"AuthTimestampSkew"`
	APIKeys            []APIKey             `toml:"APIKeys"`
	GenesisAllocations []genesis.Allocation `toml:"GenesisAllocations"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8690"
	}
	if c.RecordDeposit == nil {
		deposit := commerce.DefaultRecordDeposit
		c.RecordDeposit = &deposit
	}
	if strings.TrimSpace(c.SchedulerInterval) == "" {
		c.SchedulerInterval = "30s"
	}
	if strings.TrimSpace(c.AuthTimestampSkew) == "" {
		c.AuthTimestampSkew = "2m"
	}
	if c.RecognizedCurrencies == nil {
		c.RecognizedCurrencies = []string{}
	}
}

// Validate checks the decoded values without touching the filesystem.
func (c *Config) Validate() error {
	if _, err := c.Currencies(); err != nil {
		return err
	}
	if _, err := c.SchedulerTick(); err != nil {
		return err
	}
	if _, err := c.TimestampSkew(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.APIKeys))
	for _, key := range c.APIKeys {
		if strings.TrimSpace(key.Key) == "" || strings.TrimSpace(key.Secret) == "" {
			return fmt.Errorf("config: api key entries need both Key and Secret")
		}
		if seen[key.Key] {
			return fmt.Errorf("config: duplicate api key %q", key.Key)
		}
		seen[key.Key] = true
		if key.RateLimit < 0 {
			return fmt.Errorf("config: api key %q: negative rate limit", key.Key)
		}
	}
	return genesis.ValidateAllocations(c.GenesisAllocations)
}

// Deposit returns the native amount locked per created record. Zero disables
// deposits entirely.
func (c *Config) Deposit() uint64 {
	if c.RecordDeposit == nil {
		return commerce.DefaultRecordDeposit
	}
	return *c.RecordDeposit
}

// Currencies parses the configured currency registry.
func (c *Config) Currencies() ([]commerce.CurrencyID, error) {
	out := make([]commerce.CurrencyID, 0, len(c.RecognizedCurrencies))
	for _, raw := range c.RecognizedCurrencies {
		currency, err := commerce.ParseCurrencyID(raw)
		if err != nil {
			return nil, fmt.Errorf("config: currency %q: %w", raw, err)
		}
		out = append(out, currency)
	}
	return out, nil
}

// SchedulerTick parses the settlement polling interval.
func (c *Config) SchedulerTick() (time.Duration, error) {
	tick, err := time.ParseDuration(c.SchedulerInterval)
	if err != nil {
		return 0, fmt.Errorf("config: scheduler interval: %w", err)
	}
	if tick <= 0 {
		return 0, fmt.Errorf("config: scheduler interval must be positive")
	}
	return tick, nil
}

// TimestampSkew parses the maximum accepted clock drift for signed requests.
func (c *Config) TimestampSkew() (time.Duration, error) {
	skew, err := time.ParseDuration(c.AuthTimestampSkew)
	if err != nil {
		return 0, fmt.Errorf("config: auth timestamp skew: %w", err)
	}
	if skew <= 0 {
		return 0, fmt.Errorf("config: auth timestamp skew must be positive")
	}
	return skew, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.DataDir = "./commerce-data"
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
