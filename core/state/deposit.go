package state

import (
	"commercepay/core/address"
	"commercepay/native/commerce"
)

// The deposit ledger replaces chain rent: creating a record locks a fixed
// native deposit debited from the fee payer, and destroying the record hands
// the deposit back to whoever funded it.

type storedDeposit struct {
	Funder [32]byte
	Amount uint64
}

type storedNativeAccount struct {
	Balance uint64
}

func nativeKey(owner commerce.PublicKey) []byte {
	return prefixedKey(nativePrefix, owner[:])
}

// NativeBalance returns the native balance used to fund storage deposits.
func (t *Txn) NativeBalance(owner commerce.PublicKey) (uint64, error) {
	var stored storedNativeAccount
	if _, err := t.kvGet(nativeKey(owner), &stored); err != nil {
		return 0, err
	}
	return stored.Balance, nil
}

// NativeCredit adds to a native balance. Used by genesis allocations and by
// deposit reclamation.
func (t *Txn) NativeCredit(owner commerce.PublicKey, amount uint64) error {
	var stored storedNativeAccount
	if _, err := t.kvGet(nativeKey(owner), &stored); err != nil {
		return err
	}
	stored.Balance += amount
	return t.kvPut(nativeKey(owner), &stored)
}

// NativeDebit removes from a native balance, rejecting overdrafts.
func (t *Txn) NativeDebit(owner commerce.PublicKey, amount uint64) error {
	var stored storedNativeAccount
	if _, err := t.kvGet(nativeKey(owner), &stored); err != nil {
		return err
	}
	if stored.Balance < amount {
		return commerce.ErrInsufficientBalance
	}
	stored.Balance -= amount
	return t.kvPut(nativeKey(owner), &stored)
}

// DepositLock debits the funder and records the deposit against the record
// address.
func (t *Txn) DepositLock(record address.Address, funder commerce.PublicKey, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := t.NativeDebit(funder, amount); err != nil {
		return err
	}
	return t.kvPut(prefixedKey(depositPrefix, record[:]), &storedDeposit{Funder: funder, Amount: amount})
}

// DepositRelease returns the locked deposit to its recorded funder and clears
// the ledger entry. Releasing a record with no deposit is a no-op.
func (t *Txn) DepositRelease(record address.Address) (commerce.PublicKey, uint64, error) {
	key := prefixedKey(depositPrefix, record[:])
	var stored storedDeposit
	ok, err := t.kvGet(key, &stored)
	if err != nil || !ok {
		return commerce.PublicKey{}, 0, err
	}
	funder := commerce.PublicKey(stored.Funder)
	if err := t.NativeCredit(funder, stored.Amount); err != nil {
		return commerce.PublicKey{}, 0, err
	}
	t.del(key)
	return funder, stored.Amount, nil
}
