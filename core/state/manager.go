package state

import (
	"errors"

	"custodia/core/types"
	"custodia/storage"

	"github.com/ethereum/go-ethereum/rlp"
)

// Manager is the persistence layer for accounts, escrow records and the
// per-participant escrow index. All values are RLP-encoded under
// keccak-hashed prefixed keys.
type Manager struct {
	db storage.Database
}

// NewManager wraps a key-value backend.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type storedAccount struct {
	Nonce         uint64
	BalanceNative []byte
}

// GetAccount loads the account record, returning a zeroed account when none
// exists yet.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return types.EnsureAccount(nil), nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	acc := types.EnsureAccount(&types.Account{Nonce: stored.Nonce})
	acc.BalanceNative.SetBytes(stored.BalanceNative)
	return acc, nil
}

// PutAccount persists the account record.
func (m *Manager) PutAccount(addr [20]byte, acc *types.Account) error {
	acc = types.EnsureAccount(acc)
	stored := storedAccount{
		Nonce:         acc.Nonce,
		BalanceNative: acc.BalanceNative.Bytes(),
	}
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), raw)
}
