package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"custodia/core/types"
)

const (
	EventTypeCreated           = "escrow.created"
	EventTypeApproved          = "escrow.approved"
	EventTypeDelivered         = "escrow.delivered"
	EventTypeCompleted         = "escrow.completed"
	EventTypeRevisionRequested = "escrow.revisionRequested"
	EventTypeRevisionAccepted  = "escrow.revisionAccepted"
	EventTypeDisputed          = "escrow.disputed"
	EventTypeCancelled         = "escrow.cancelled"
	EventTypeForceSettled      = "escrow.forceSettled"
	EventTypeDeposited         = "escrow.deposited"
	EventTypeHandlersAdded     = "escrow.handlersAdded"
)

// NewCreatedEvent returns the canonical payload for a newly created deal.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCreated, e) }

// NewApprovedEvent is emitted when the seller confirms the deposit.
func NewApprovedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeApproved, e) }

// NewDeliveredEvent is emitted when the seller marks the work delivered.
func NewDeliveredEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeDelivered, e) }

// NewCompletedEvent is emitted when the deposit settles to the seller.
func NewCompletedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCompleted, e) }

// NewRevisionRequestedEvent is emitted on the buyer's first rejection.
func NewRevisionRequestedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeRevisionRequested, e)
}

// NewRevisionAcceptedEvent is emitted when the seller resumes work.
func NewRevisionAcceptedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeRevisionAccepted, e)
}

// NewDisputedEvent is emitted when either party escalates to arbitration.
func NewDisputedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeDisputed, e) }

// NewCancelledEvent is emitted when the deposit settles back to the buyer.
func NewCancelledEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCancelled, e) }

// NewForceSettledEvent is emitted when a trusted handler overrides.
func NewForceSettledEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeForceSettled, e) }

// NewHandlersAddedEvent is emitted when the local trust set grows.
func NewHandlersAddedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeHandlersAdded, e) }

// NewDepositedEvent is emitted on an accepted top-up.
func NewDepositedEvent(e *Escrow, from [20]byte, amount *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeDeposited, e)
	evt.Attributes["from"] = hex.EncodeToString(from[:])
	if amount != nil {
		evt.Attributes["deposit"] = amount.String()
	}
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(e.ID[:])
	attrs["buyer"] = hex.EncodeToString(e.Buyer[:])
	attrs["seller"] = hex.EncodeToString(e.Seller[:])
	attrs["token"] = e.Token
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	attrs["feePercent"] = strconv.FormatUint(uint64(e.FeePercent), 10)
	attrs["status"] = e.Status.String()
	attrs["deadline"] = strconv.FormatInt(e.Deadline, 10)
	if e.RevisionDeadline > 0 {
		attrs["revisionDeadline"] = strconv.FormatInt(e.RevisionDeadline, 10)
	}
	attrs["rejectCount"] = strconv.FormatUint(uint64(e.RejectCount), 10)
	attrs["createdAt"] = strconv.FormatInt(e.CreatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
