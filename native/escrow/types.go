package escrow

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// NativeToken is the sentinel token identity denoting the native currency.
// Any other non-empty symbol refers to a fungible token on the token ledger.
const NativeToken = "NATIVE"

// Status represents the lifecycle states of a single escrow deal.
type Status uint8

const (
	StatusLaunched Status = iota
	StatusOngoing
	StatusDelivered
	StatusRequestRevised
	StatusComplete
	StatusDispute
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusLaunched, StatusOngoing, StatusDelivered, StatusRequestRevised,
		StatusComplete, StatusDispute, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusLaunched:
		return "launched"
	case StatusOngoing:
		return "ongoing"
	case StatusDelivered:
		return "delivered"
	case StatusRequestRevised:
		return "requestRevised"
	case StatusComplete:
		return "complete"
	case StatusDispute:
		return "dispute"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Settled reports whether the deposit has already been released. No further
// settlement may occur from these states.
func (s Status) Settled() bool {
	return s == StatusComplete || s == StatusCancelled
}

// SelfServiceTerminal reports whether buyer and seller have no transitions
// left. Dispute is terminal for the parties but still settleable by a
// trusted handler.
func (s Status) SelfServiceTerminal() bool {
	return s.Settled() || s == StatusDispute
}

// ParseStatus maps a lifecycle name back to its Status. Used by the config
// layer when reading the cancelable-status policy.
func ParseStatus(name string) (Status, error) {
	switch strings.TrimSpace(name) {
	case "launched":
		return StatusLaunched, nil
	case "ongoing":
		return StatusOngoing, nil
	case "delivered":
		return StatusDelivered, nil
	case "requestRevised":
		return StatusRequestRevised, nil
	case "complete":
		return StatusComplete, nil
	case "dispute":
		return StatusDispute, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return 0, fmt.Errorf("escrow: unknown status %q", name)
	}
}

// Escrow captures one deal: the immutable terms fixed at creation plus the
// runtime lifecycle fields. The identifier is the keccak256 hash of buyer,
// seller and a caller-supplied nonce, giving deterministic IDs without
// storing the nonce.
type Escrow struct {
	ID               [32]byte
	Title            [32]byte
	Buyer            [20]byte
	Seller           [20]byte
	Token            string
	Amount           *big.Int
	FeePercent       uint8
	Deadline         int64
	RevisionDeadline int64
	RejectCount      uint8
	Status           Status
	CreatedAt        int64
	TrustedHandlers  [][20]byte
}

// EscrowID derives the deterministic identifier for a deal.
func EscrowID(buyer, seller [20]byte, nonce uint64) [32]byte {
	var nonceBytes [8]byte
	for i := 0; i < 8; i++ {
		nonceBytes[7-i] = byte(nonce >> (8 * i))
	}
	return ethcrypto.Keccak256Hash(buyer[:], seller[:], nonceBytes[:])
}

// VaultAddress derives the custody account exclusively owned by the escrow
// with the given identifier. Nothing else ever holds this address's key, so
// the custody balance can only move through the settlement protocol.
func VaultAddress(id [32]byte) [20]byte {
	digest := ethcrypto.Keccak256([]byte("custodia/escrow/vault"), id[:])
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// Clone returns a deep copy so callers can mutate the result without
// touching the stored record.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if len(e.TrustedHandlers) > 0 {
		clone.TrustedHandlers = append([][20]byte(nil), e.TrustedHandlers...)
	}
	return &clone
}

// IsTrustedHandler reports whether the identity is in the deal's local
// trusted-handler set.
func (e *Escrow) IsTrustedHandler(addr [20]byte) bool {
	if e == nil {
		return false
	}
	for _, h := range e.TrustedHandlers {
		if h == addr {
			return true
		}
	}
	return false
}

// NormalizeToken canonicalises a token symbol: trimmed, uppercased and
// non-empty. It does not consult the allow-list; that is the registry's job.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("escrow: empty token symbol")
	}
	return trimmed, nil
}

// Sanitize validates and normalises the supplied escrow record, returning a
// cloned instance with canonical token casing and a non-nil amount. The
// original value is never mutated.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil record")
	}
	clone := e.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Amount == nil {
		clone.Amount = big.NewInt(0)
	}
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow: amount must be non-negative")
	}
	if clone.FeePercent > 100 {
		return nil, fmt.Errorf("escrow: fee percent out of range: %d", clone.FeePercent)
	}
	if clone.Buyer == clone.Seller {
		return nil, fmt.Errorf("escrow: buyer and seller must differ")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status: %d", clone.Status)
	}
	return clone, nil
}
