package escrow

import (
	"errors"
	"math/big"
)

// ErrTransferRejected is returned by ledger implementations when a transfer
// cannot be applied for a reason other than balance (frozen account, bad
// token row). Transfers must be atomic: on failure no value moves.
var ErrTransferRejected = errors.New("ledger: transfer rejected")

// ErrInsufficientFunds is returned by ledger implementations when the source
// balance does not cover the transfer.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// Move is one leg of a multi-transfer.
type Move struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

// Ledger is the abstract value-transfer facility the engine settles through.
// The native-currency ledger and the token ledger both satisfy it; the
// engine treats them uniformly. Transfer must be atomic: on failure no value
// moves. TransferBatch extends the same guarantee to several legs of the
// same token, so a settlement's payout and fee land together or not at all.
type Ledger interface {
	BalanceOf(addr [20]byte, token string) (*big.Int, error)
	Transfer(from, to [20]byte, token string, amount *big.Int) error
	TransferBatch(token string, moves ...Move) error
}

// LedgerRouter dispatches between the native-currency ledger and the token
// ledger based on the token identity.
type LedgerRouter struct {
	Native Ledger
	Token  Ledger
}

func (r LedgerRouter) pick(token string) (Ledger, error) {
	if token == NativeToken {
		if r.Native == nil {
			return nil, errNilLedger
		}
		return r.Native, nil
	}
	if r.Token == nil {
		return nil, errNilLedger
	}
	return r.Token, nil
}

func (r LedgerRouter) BalanceOf(addr [20]byte, token string) (*big.Int, error) {
	ledger, err := r.pick(token)
	if err != nil {
		return nil, err
	}
	return ledger.BalanceOf(addr, token)
}

func (r LedgerRouter) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	ledger, err := r.pick(token)
	if err != nil {
		return err
	}
	return ledger.Transfer(from, to, token, amount)
}

func (r LedgerRouter) TransferBatch(token string, moves ...Move) error {
	ledger, err := r.pick(token)
	if err != nil {
		return err
	}
	return ledger.TransferBatch(token, moves...)
}
