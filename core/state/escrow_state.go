package state

import (
	"errors"
	"fmt"
	"math/big"

	"custodia/native/common"
	"custodia/native/escrow"
	"custodia/storage"

	"github.com/ethereum/go-ethereum/rlp"
)

type storedEscrow struct {
	ID               [32]byte
	Title            [32]byte
	Buyer            [20]byte
	Seller           [20]byte
	Token            string
	Amount           *big.Int
	FeePercent       uint8
	Deadline         *big.Int
	RevisionDeadline *big.Int
	RejectCount      uint8
	Status           uint8
	CreatedAt        *big.Int
	TrustedHandlers  [][20]byte
}

func newStoredEscrow(e *escrow.Escrow) *storedEscrow {
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	return &storedEscrow{
		ID:               e.ID,
		Title:            e.Title,
		Buyer:            e.Buyer,
		Seller:           e.Seller,
		Token:            e.Token,
		Amount:           amount,
		FeePercent:       e.FeePercent,
		Deadline:         big.NewInt(e.Deadline),
		RevisionDeadline: big.NewInt(e.RevisionDeadline),
		RejectCount:      e.RejectCount,
		Status:           uint8(e.Status),
		CreatedAt:        big.NewInt(e.CreatedAt),
		TrustedHandlers:  e.TrustedHandlers,
	}
}

func (s *storedEscrow) toEscrow() (*escrow.Escrow, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil escrow record")
	}
	out := &escrow.Escrow{
		ID:              s.ID,
		Title:           s.Title,
		Buyer:           s.Buyer,
		Seller:          s.Seller,
		Token:           s.Token,
		Amount:          big.NewInt(0),
		FeePercent:      s.FeePercent,
		RejectCount:     s.RejectCount,
		Status:          escrow.Status(s.Status),
		TrustedHandlers: s.TrustedHandlers,
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	if s.Deadline != nil {
		out.Deadline = s.Deadline.Int64()
	}
	if s.RevisionDeadline != nil {
		out.RevisionDeadline = s.RevisionDeadline.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	if !out.Status.Valid() {
		return nil, fmt.Errorf("state: invalid escrow status %d", s.Status)
	}
	return out, nil
}

// EscrowPut sanitizes and persists the escrow record.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.Sanitize(e)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(newStoredEscrow(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(escrowRecordKey(sanitized.ID), raw)
}

// EscrowGet loads the escrow record by identifier.
func (m *Manager) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	raw, err := m.db.Get(escrowRecordKey(id))
	if err != nil {
		return nil, false
	}
	var stored storedEscrow
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	out, err := stored.toEscrow()
	if err != nil {
		return nil, false
	}
	return out, true
}

// EscrowCreate persists a new escrow record together with the index rows for
// both participants in a single atomic commit, preserving creation order.
func (m *Manager) EscrowCreate(e *escrow.Escrow) error {
	sanitized, err := escrow.Sanitize(e)
	if err != nil {
		return err
	}
	batch := new(storage.Batch)
	raw, err := rlp.EncodeToBytes(newStoredEscrow(sanitized))
	if err != nil {
		return err
	}
	batch.Put(escrowRecordKey(sanitized.ID), raw)
	for _, addr := range [][20]byte{sanitized.Buyer, sanitized.Seller} {
		if err := m.stageIndexAppend(batch, addr, sanitized.ID); err != nil {
			return err
		}
	}
	return m.db.Write(batch)
}

func (m *Manager) stageIndexAppend(batch *storage.Batch, addr [20]byte, id [32]byte) error {
	ids, err := m.EscrowIndexList(addr)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	raw, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return err
	}
	batch.Put(escrowIndexKey(addr), raw)
	return nil
}

// EscrowIndexList returns the participant's instances in creation order.
func (m *Manager) EscrowIndexList(addr [20]byte) ([][32]byte, error) {
	raw, err := m.db.Get(escrowIndexKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids [][32]byte
	if err := rlp.DecodeBytes(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

type storedQuota struct {
	CreateCount uint32
	ValueUsed   uint64
	EpochID     uint64
}

// QuotaGet loads the buyer's creation quota counters.
func (m *Manager) QuotaGet(addr [20]byte) (common.QuotaNow, bool, error) {
	raw, err := m.db.Get(escrowQuotaKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return common.QuotaNow{}, false, nil
	}
	if err != nil {
		return common.QuotaNow{}, false, err
	}
	var stored storedQuota
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return common.QuotaNow{}, false, err
	}
	return common.QuotaNow{
		CreateCount: stored.CreateCount,
		ValueUsed:   stored.ValueUsed,
		EpochID:     stored.EpochID,
	}, true, nil
}

// QuotaPut persists the buyer's creation quota counters.
func (m *Manager) QuotaPut(addr [20]byte, q common.QuotaNow) error {
	raw, err := rlp.EncodeToBytes(&storedQuota{
		CreateCount: q.CreateCount,
		ValueUsed:   q.ValueUsed,
		EpochID:     q.EpochID,
	})
	if err != nil {
		return err
	}
	return m.db.Put(escrowQuotaKey(addr), raw)
}
