package state

import (
	"fmt"

	"commercepay/native/commerce"
)

// Custodial token accounts are keyed by (holder, currency). A holder is
// either an authority public key (buyer, settlement wallet, operator owner)
// or a record address (merchant escrow); both are 32 bytes, so the table
// treats them uniformly.

type storedTokenAccount struct {
	Balance uint64
}

func tokenKey(holder [32]byte, currency commerce.CurrencyID) []byte {
	return prefixedKey(tokenPrefix, holder[:], currency[:])
}

// TokenEnsure creates the custodial account when absent. Creation is
// idempotent: ensuring an existing account leaves its balance untouched.
func (t *Txn) TokenEnsure(holder [32]byte, currency commerce.CurrencyID) error {
	key := tokenKey(holder, currency)
	var stored storedTokenAccount
	ok, err := t.kvGet(key, &stored)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return t.kvPut(key, &storedTokenAccount{})
}

// TokenBalance returns the custodial balance, zero when the account has not
// been created.
func (t *Txn) TokenBalance(holder [32]byte, currency commerce.CurrencyID) (uint64, error) {
	var stored storedTokenAccount
	if _, err := t.kvGet(tokenKey(holder, currency), &stored); err != nil {
		return 0, err
	}
	return stored.Balance, nil
}

// TokenCredit adds to the custodial balance, creating the account if needed.
func (t *Txn) TokenCredit(holder [32]byte, currency commerce.CurrencyID, amount uint64) error {
	key := tokenKey(holder, currency)
	var stored storedTokenAccount
	if _, err := t.kvGet(key, &stored); err != nil {
		return err
	}
	updated := stored.Balance + amount
	if updated < stored.Balance {
		return fmt.Errorf("state: token balance overflow for %x", holder)
	}
	stored.Balance = updated
	return t.kvPut(key, &stored)
}

// TokenDebit removes from the custodial balance, rejecting overdrafts.
func (t *Txn) TokenDebit(holder [32]byte, currency commerce.CurrencyID, amount uint64) error {
	key := tokenKey(holder, currency)
	var stored storedTokenAccount
	if _, err := t.kvGet(key, &stored); err != nil {
		return err
	}
	if stored.Balance < amount {
		return commerce.ErrInsufficientBalance
	}
	stored.Balance -= amount
	return t.kvPut(key, &stored)
}

// TokenTransfer moves amount between two custodial accounts inside the
// current transaction.
func (t *Txn) TokenTransfer(from, to [32]byte, currency commerce.CurrencyID, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := t.TokenDebit(from, currency, amount); err != nil {
		return err
	}
	return t.TokenCredit(to, currency, amount)
}
