package genesis

import (
	"fmt"
	"sort"

	"commercepay/core/state"
	"commercepay/native/commerce"
)

// Allocation seeds one account at first boot: a native balance that funds
// storage deposits, plus optional custodial token balances keyed by currency.
type Allocation struct {
	Account string            `toml:"Account"`
	Native  uint64            `toml:"Native"`
	Tokens  map[string]uint64 `toml:"Tokens"`
}

// appliedFlag guards the allocations so a restart over a durable database
// never re-credits them.
const appliedFlag = "genesis/allocations"

// ValidateAllocations checks account and currency encodings without touching
// state, so configuration errors surface at load time.
func ValidateAllocations(allocations []Allocation) error {
	seen := make(map[commerce.PublicKey]bool, len(allocations))
	for i, alloc := range allocations {
		account, err := commerce.ParsePublicKey(alloc.Account)
		if err != nil {
			return fmt.Errorf("genesis: allocation[%d]: %w", i, err)
		}
		if seen[account] {
			return fmt.Errorf("genesis: allocation[%d]: duplicate account %s", i, account.Hex())
		}
		seen[account] = true
		for raw := range alloc.Tokens {
			if _, err := commerce.ParseCurrencyID(raw); err != nil {
				return fmt.Errorf("genesis: allocation[%d]: token %q: %w", i, raw, err)
			}
		}
	}
	return nil
}

// Apply credits the allocations in one transaction, at most once per
// database. The first call commits the balances together with the applied
// marker; every later call, including after a daemon restart, reports false
// and leaves state untouched.
func Apply(manager *state.Manager, allocations []Allocation) (bool, error) {
	if manager == nil {
		return false, fmt.Errorf("genesis: state manager must not be nil")
	}
	if err := ValidateAllocations(allocations); err != nil {
		return false, err
	}
	txn := manager.Begin()
	applied, err := txn.Flag(appliedFlag)
	if err != nil {
		return false, err
	}
	if applied {
		return false, nil
	}

	// Deterministic application order: accounts sorted, then currencies
	// sorted within each account.
	sorted := append([]Allocation(nil), allocations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Account < sorted[j].Account })
	for _, alloc := range sorted {
		account, err := commerce.ParsePublicKey(alloc.Account)
		if err != nil {
			return false, err
		}
		if alloc.Native > 0 {
			if err := txn.NativeCredit(account, alloc.Native); err != nil {
				return false, err
			}
		}
		symbols := make([]string, 0, len(alloc.Tokens))
		for raw := range alloc.Tokens {
			symbols = append(symbols, raw)
		}
		sort.Strings(symbols)
		for _, raw := range symbols {
			currency, err := commerce.ParseCurrencyID(raw)
			if err != nil {
				return false, err
			}
			if err := txn.TokenCredit(account, currency, alloc.Tokens[raw]); err != nil {
				return false, err
			}
		}
	}
	if err := txn.SetFlag(appliedFlag); err != nil {
		return false, err
	}
	if err := txn.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
