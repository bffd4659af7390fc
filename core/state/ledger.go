package state

import (
	"errors"
	"fmt"
	"math/big"

	"custodia/core/types"
	"custodia/native/escrow"
	"custodia/storage"

	"github.com/ethereum/go-ethereum/rlp"
)

// NewLedger returns a router over the native-currency and token ledgers,
// both backed by the same state manager.
func NewLedger(m *Manager) escrow.LedgerRouter {
	return escrow.LedgerRouter{
		Native: NativeLedger{mgr: m},
		Token:  TokenLedger{mgr: m},
	}
}

// NativeLedger moves the native currency between account records.
type NativeLedger struct {
	mgr *Manager
}

func (l NativeLedger) BalanceOf(addr [20]byte, token string) (*big.Int, error) {
	if token != escrow.NativeToken {
		return nil, fmt.Errorf("%w: native ledger asked for token %q", escrow.ErrTransferRejected, token)
	}
	acc, err := l.mgr.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.BalanceNative), nil
}

func (l NativeLedger) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	return l.TransferBatch(token, escrow.Move{From: from, To: to, Amount: amount})
}

// TransferBatch applies all moves against in-memory copies of the affected
// accounts, then commits every changed row in a single storage batch. A
// failed precondition or a failed commit leaves all balances untouched.
func (l NativeLedger) TransferBatch(token string, moves ...escrow.Move) error {
	if token != escrow.NativeToken {
		return fmt.Errorf("%w: native ledger asked for token %q", escrow.ErrTransferRejected, token)
	}
	accounts := make(map[[20]byte]*types.Account)
	load := func(addr [20]byte) (*types.Account, error) {
		if acc, ok := accounts[addr]; ok {
			return acc, nil
		}
		acc, err := l.mgr.GetAccount(addr)
		if err != nil {
			return nil, err
		}
		accounts[addr] = acc
		return acc, nil
	}
	for _, mv := range moves {
		if err := checkTransferAmount(mv.Amount); err != nil {
			return err
		}
		if mv.Amount.Sign() == 0 || mv.From == mv.To {
			continue
		}
		fromAcc, err := load(mv.From)
		if err != nil {
			return err
		}
		if fromAcc.BalanceNative.Cmp(mv.Amount) < 0 {
			return escrow.ErrInsufficientFunds
		}
		toAcc, err := load(mv.To)
		if err != nil {
			return err
		}
		fromAcc.BalanceNative = new(big.Int).Sub(fromAcc.BalanceNative, mv.Amount)
		toAcc.BalanceNative = new(big.Int).Add(toAcc.BalanceNative, mv.Amount)
	}
	if len(accounts) == 0 {
		return nil
	}
	batch := new(storage.Batch)
	for addr, acc := range accounts {
		if err := stageAccount(batch, addr, acc); err != nil {
			return err
		}
	}
	return l.mgr.db.Write(batch)
}

// TokenLedger moves fungible token balances, keyed per token symbol.
type TokenLedger struct {
	mgr *Manager
}

func (l TokenLedger) BalanceOf(addr [20]byte, token string) (*big.Int, error) {
	normalized, err := tokenForLedger(token)
	if err != nil {
		return nil, err
	}
	return l.mgr.TokenBalance(normalized, addr)
}

func (l TokenLedger) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	return l.TransferBatch(token, escrow.Move{From: from, To: to, Amount: amount})
}

func (l TokenLedger) TransferBatch(token string, moves ...escrow.Move) error {
	normalized, err := tokenForLedger(token)
	if err != nil {
		return err
	}
	balances := make(map[[20]byte]*big.Int)
	load := func(addr [20]byte) (*big.Int, error) {
		if bal, ok := balances[addr]; ok {
			return bal, nil
		}
		bal, err := l.mgr.TokenBalance(normalized, addr)
		if err != nil {
			return nil, err
		}
		balances[addr] = bal
		return bal, nil
	}
	for _, mv := range moves {
		if err := checkTransferAmount(mv.Amount); err != nil {
			return err
		}
		if mv.Amount.Sign() == 0 || mv.From == mv.To {
			continue
		}
		fromBal, err := load(mv.From)
		if err != nil {
			return err
		}
		if fromBal.Cmp(mv.Amount) < 0 {
			return escrow.ErrInsufficientFunds
		}
		toBal, err := load(mv.To)
		if err != nil {
			return err
		}
		balances[mv.From] = new(big.Int).Sub(fromBal, mv.Amount)
		balances[mv.To] = new(big.Int).Add(toBal, mv.Amount)
	}
	if len(balances) == 0 {
		return nil
	}
	batch := new(storage.Batch)
	for addr, bal := range balances {
		if err := stageTokenBalance(batch, normalized, addr, bal); err != nil {
			return err
		}
	}
	return l.mgr.db.Write(batch)
}

func stageAccount(batch *storage.Batch, addr [20]byte, acc *types.Account) error {
	acc = types.EnsureAccount(acc)
	raw, err := rlp.EncodeToBytes(&storedAccount{
		Nonce:         acc.Nonce,
		BalanceNative: acc.BalanceNative.Bytes(),
	})
	if err != nil {
		return err
	}
	batch.Put(accountKey(addr), raw)
	return nil
}

func stageTokenBalance(batch *storage.Batch, token string, addr [20]byte, balance *big.Int) error {
	raw, err := rlp.EncodeToBytes(balance.Bytes())
	if err != nil {
		return err
	}
	batch.Put(tokenBalanceKey(token, addr), raw)
	return nil
}

func tokenForLedger(token string) (string, error) {
	if token == escrow.NativeToken {
		return "", fmt.Errorf("%w: token ledger asked for native currency", escrow.ErrTransferRejected)
	}
	return escrow.NormalizeToken(token)
}

func checkTransferAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative or nil amount", escrow.ErrTransferRejected)
	}
	return nil
}

// TokenBalance reads an address's balance for a fungible token.
func (m *Manager) TokenBalance(token string, addr [20]byte) (*big.Int, error) {
	raw, err := m.db.Get(tokenBalanceKey(token, addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	var encoded []byte
	if err := rlp.DecodeBytes(raw, &encoded); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(encoded), nil
}

func (m *Manager) putTokenBalance(token string, addr [20]byte, balance *big.Int) error {
	raw, err := rlp.EncodeToBytes(balance.Bytes())
	if err != nil {
		return err
	}
	return m.db.Put(tokenBalanceKey(token, addr), raw)
}

// Credit mints value onto an address, used by genesis wiring and tests to
// fund buyers before escrows are created.
func (m *Manager) Credit(addr [20]byte, token string, amount *big.Int) error {
	if err := checkTransferAmount(amount); err != nil {
		return err
	}
	if token == escrow.NativeToken {
		acc, err := m.GetAccount(addr)
		if err != nil {
			return err
		}
		acc.BalanceNative = new(big.Int).Add(acc.BalanceNative, amount)
		return m.PutAccount(addr, acc)
	}
	normalized, err := escrow.NormalizeToken(token)
	if err != nil {
		return err
	}
	balance, err := m.TokenBalance(normalized, addr)
	if err != nil {
		return err
	}
	return m.putTokenBalance(normalized, addr, new(big.Int).Add(balance, amount))
}
