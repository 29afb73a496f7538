package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"commercepay/native/commerce"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `DataDir = "/tmp/commerce"`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8690" {
		t.Fatalf("listen = %q", cfg.ListenAddress)
	}
	if cfg.Deposit() != commerce.DefaultRecordDeposit {
		t.Fatalf("record deposit = %d, want default", cfg.Deposit())
	}
	tick, err := cfg.SchedulerTick()
	if err != nil || tick != 30*time.Second {
		t.Fatalf("tick = %v, %v", tick, err)
	}
}

func TestLoadPreservesExplicitZeroDeposit(t *testing.T) {
	path := writeConfig(t, `RecordDeposit = 0`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Deposit() != 0 {
		t.Fatalf("explicit zero deposit rewritten to %d", cfg.Deposit())
	}

	path = writeConfig(t, `RecordDeposit = 750`)
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Deposit() != 750 {
		t.Fatalf("deposit = %d, want 750", cfg.Deposit())
	}
}

func TestLoadParsesGenesisAllocations(t *testing.T) {
	path := writeConfig(t, `
[[GenesisAllocations]]
Account = "0x0101010101010101010101010101010101010101010101010101010101010101"
Native = 10000000
[GenesisAllocations.Tokens]
"0x5555555555555555555555555555555555555555555555555555555555555555" = 500
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.GenesisAllocations) != 1 {
		t.Fatalf("allocations = %d, want 1", len(cfg.GenesisAllocations))
	}
	alloc := cfg.GenesisAllocations[0]
	if alloc.Native != 10_000_000 || len(alloc.Tokens) != 1 {
		t.Fatalf("allocation = %+v", alloc)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file missing: %v", err)
	}
	if cfg.DataDir == "" {
		t.Fatalf("default data dir empty")
	}
}

func TestLoadParsesCurrencies(t *testing.T) {
	path := writeConfig(t, `
RecognizedCurrencies = [
  "0x5555555555555555555555555555555555555555555555555555555555555555",
]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	currencies, err := cfg.Currencies()
	if err != nil {
		t.Fatalf("currencies: %v", err)
	}
	if len(currencies) != 1 || currencies[0][0] != 0x55 {
		t.Fatalf("currencies = %v", currencies)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed currency", `RecognizedCurrencies = ["not-hex"]`},
		{"bad interval", `SchedulerInterval = "soon"`},
		{"zero interval", `SchedulerInterval = "0s"`},
		{"key without secret", `
[[APIKeys]]
Key = "ops"
`},
		{"duplicate key", `
[[APIKeys]]
Key = "ops"
Secret = "a"
[[APIKeys]]
Key = "ops"
Secret = "b"
`},
		{"malformed allocation account", `
[[GenesisAllocations]]
Account = "not-hex"
Native = 1
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
