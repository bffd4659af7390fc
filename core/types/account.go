package types

import "math/big"

// Account is the ledger-side record for a single identity. Only the native
// currency balance lives on the account itself; fungible token balances are
// keyed per token by the state manager.
type Account struct {
	Nonce         uint64   `json:"nonce"`
	BalanceNative *big.Int `json:"balanceNative"`
}

// EnsureAccount normalises a possibly-nil account into one with non-nil
// balance fields so callers can mutate it without nil checks.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{BalanceNative: big.NewInt(0)}
	}
	if acc.BalanceNative == nil {
		acc.BalanceNative = big.NewInt(0)
	}
	return acc
}

// CloneAccount returns a deep copy of the account.
func CloneAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{BalanceNative: big.NewInt(0)}
	}
	clone := &Account{Nonce: acc.Nonce, BalanceNative: big.NewInt(0)}
	if acc.BalanceNative != nil {
		clone.BalanceNative = new(big.Int).Set(acc.BalanceNative)
	}
	return clone
}
