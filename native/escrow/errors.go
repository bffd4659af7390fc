package escrow

import (
	"errors"
	"fmt"
)

var (
	errNilState        = errors.New("escrow engine: state not configured")
	errNilLedger       = errors.New("escrow engine: ledger not configured")
	errNilFeeRecipient = errors.New("escrow engine: fee recipient not configured")

	// ErrNotFound is returned when no escrow exists for the identifier.
	ErrNotFound = errors.New("escrow: not found")

	// Creation-time parameter validation.
	ErrInvalidDuration   = errors.New("escrow: invalid duration")
	ErrInvalidFeePercent = errors.New("escrow: fee percent out of range")
	ErrInvalidAmount     = errors.New("escrow: invalid amount")

	// Custody balance preconditions.
	ErrNoFunds = errors.New("escrow: insufficient funds")

	// ErrWrongStatus is the match target for WrongStatusError.
	ErrWrongStatus = errors.New("escrow: wrong status")

	// ErrRejectWindowTooShort is returned when a delivery rejection asks
	// for a revision window below the one-day floor.
	ErrRejectWindowTooShort = errors.New("escrow: revision window below one day")

	// ErrNotExpired is returned when a buyer cancels a deal still within
	// its working window.
	ErrNotExpired = errors.New("escrow: deadline not reached")

	// Caller-role failures.
	ErrUnauthorizedBuyer          = errors.New("escrow: caller is not the buyer")
	ErrUnauthorizedSeller         = errors.New("escrow: caller is not the seller")
	ErrUnauthorizedParticipant    = errors.New("escrow: caller is neither buyer nor seller")
	ErrUnauthorizedTrustedHandler = errors.New("escrow: caller is not a trusted handler")

	// ErrInvalidCounterparty is returned when a beneficiary supplied to a
	// trusted operation is neither buyer nor seller.
	ErrInvalidCounterparty = errors.New("escrow: beneficiary is neither buyer nor seller")

	// ErrAlreadySettled is returned when a settlement is attempted on a
	// deal whose deposit has already been released.
	ErrAlreadySettled = errors.New("escrow: already settled")

	// ErrTopUpRejected is returned by Deposit when the policy forbids
	// adding value after launch.
	ErrTopUpRejected = errors.New("escrow: top-up rejected by policy")

	// Creation-time registry failures.
	ErrUntrustedToken     = errors.New("escrow registry: token not on allow-list")
	ErrInvalidNonce       = errors.New("escrow registry: nonce must be non-zero")
	ErrDefinitionMismatch = errors.New("escrow registry: identifier already exists with different definition")
)

// WrongStatusError reports a transition attempted from an ineligible state.
// It matches ErrWrongStatus under errors.Is.
type WrongStatusError struct {
	Op   string
	Got  Status
	Want []Status
}

func (e *WrongStatusError) Error() string {
	if len(e.Want) == 1 {
		return fmt.Sprintf("escrow: %s requires %s status, got %s", e.Op, e.Want[0], e.Got)
	}
	return fmt.Sprintf("escrow: %s not allowed in %s status", e.Op, e.Got)
}

func (e *WrongStatusError) Is(target error) bool { return target == ErrWrongStatus }

func wrongStatus(op string, got Status, want ...Status) error {
	return &WrongStatusError{Op: op, Got: got, Want: want}
}
