package genesis

import (
	"errors"
	"testing"

	"commercepay/core/state"
	"commercepay/native/commerce"
	"commercepay/storage"
)

func fillKey(fill byte) commerce.PublicKey {
	var key commerce.PublicKey
	for i := range key {
		key[i] = fill
	}
	return key
}

func fillCurrency(fill byte) commerce.CurrencyID {
	return commerce.CurrencyID(fillKey(fill))
}

func TestApplyCreditsAccountsOnce(t *testing.T) {
	manager := state.NewManager(storage.NewMemDB())
	funder := fillKey(0x01)
	usd := fillCurrency(0x55)
	allocations := []Allocation{{
		Account: funder.Hex(),
		Native:  5_000_000,
		Tokens:  map[string]uint64{usd.Hex(): 10_000_000},
	}}

	applied, err := Apply(manager, allocations)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !applied {
		t.Fatalf("first apply must report applied")
	}

	view := manager.View()
	native, err := view.NativeBalance(funder)
	if err != nil {
		t.Fatalf("native balance: %v", err)
	}
	if native != 5_000_000 {
		t.Fatalf("native balance = %d, want 5000000", native)
	}
	tokens, err := view.TokenBalance(funder, usd)
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	if tokens != 10_000_000 {
		t.Fatalf("token balance = %d, want 10000000", tokens)
	}

	// A restart over the same database must not double-credit.
	applied, err = Apply(manager, allocations)
	if err != nil {
		t.Fatalf("reapply: %v", err)
	}
	if applied {
		t.Fatalf("second apply must be a no-op")
	}
	native, err = manager.View().NativeBalance(funder)
	if err != nil {
		t.Fatalf("native balance after reapply: %v", err)
	}
	if native != 5_000_000 {
		t.Fatalf("native balance after reapply = %d, want 5000000", native)
	}
}

func TestApplyRejectsInvalidAllocations(t *testing.T) {
	manager := state.NewManager(storage.NewMemDB())
	funder := fillKey(0x01)

	cases := []struct {
		name        string
		allocations []Allocation
	}{
		{"malformed account", []Allocation{{Account: "0xnothex", Native: 1}}},
		{"duplicate account", []Allocation{
			{Account: funder.Hex(), Native: 1},
			{Account: funder.Hex(), Native: 2},
		}},
		{"malformed currency", []Allocation{{
			Account: funder.Hex(),
			Tokens:  map[string]uint64{"usd": 5},
		}}},
	}
	for _, tc := range cases {
		if _, err := Apply(manager, tc.allocations); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	// A rejected spec must not burn the one-shot marker.
	applied, err := Apply(manager, []Allocation{{Account: funder.Hex(), Native: 1}})
	if err != nil {
		t.Fatalf("apply after rejections: %v", err)
	}
	if !applied {
		t.Fatalf("valid apply after rejections must still run")
	}
}

// TestBootstrapFundsFirstInstruction wires manager and engine the way the
// daemon does and checks that configured allocations are what makes the first
// record-creating instruction possible.
func TestBootstrapFundsFirstInstruction(t *testing.T) {
	manager := state.NewManager(storage.NewMemDB())
	engine := commerce.NewEngine()
	engine.SetState(func() commerce.State { return manager.Begin() })
	engine.SetRecognizedCurrencies([]commerce.CurrencyID{fillCurrency(0x55)})
	engine.SetRecordDeposit(commerce.DefaultRecordDeposit)

	feePayer := fillKey(0x01)
	owner := fillKey(0x02)

	if _, err := engine.CreateOperator(feePayer, owner); !errors.Is(err, commerce.ErrInsufficientBalance) {
		t.Fatalf("unfunded create must fail with ErrInsufficientBalance, got %v", err)
	}

	applied, err := Apply(manager, []Allocation{{Account: feePayer.Hex(), Native: 10_000_000}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !applied {
		t.Fatalf("allocations not applied")
	}

	if _, err := engine.CreateOperator(feePayer, owner); err != nil {
		t.Fatalf("funded create failed: %v", err)
	}
}
