package escrow

import (
	"log/slog"
	"math/big"
	"time"

	"custodia/core/events"
	"custodia/core/types"
	"custodia/native/common"
	"custodia/observability"
)

const moduleName = "escrow"

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine drives the per-deal state machine: lifecycle transitions, deadline
// gating and the settlement protocol. It assumes the serialized execution
// model (no two mutating calls for the same deal ever interleave) and so
// carries no locks of its own.
type Engine struct {
	state        engineState
	ledger       Ledger
	emitter      events.Emitter
	feeRecipient [20]byte
	policy       Policy
	pauses       common.PauseView
	nowFn        func() int64
	logger       *slog.Logger
}

// NewEngine creates an engine with the default policy and a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		policy:  DefaultPolicy(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the value-transfer facility settlements go through.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetFeeRecipient configures the address that receives the protocol fee
// carved out of every settlement.
func (e *Engine) SetFeeRecipient(addr [20]byte) { e.feeRecipient = addr }

// SetPolicy overrides the lifecycle policy knobs.
func (e *Engine) SetPolicy(p Policy) {
	if p.Cancelable == nil {
		p.Cancelable = DefaultPolicy().Cancelable
	}
	if !p.TopUp.Valid() {
		p.TopUp = TopUpReject
	}
	e.policy = p
}

// SetPauses wires the operator pause switch.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source. Primarily for tests that need to
// simulate deadline crossings deterministically.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger attaches a structured logger. Settlements are logged at info.
func (e *Engine) SetLogger(logger *slog.Logger) { e.logger = logger }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

func (e *Engine) recordTransition(from, to Status) {
	observability.Escrow().RecordTransition(from.String(), to.String())
}

// Authorization predicates. Every operation applies exactly one of these
// before touching state, keeping the authorization policy auditable apart
// from the transition logic.

func requireBuyer(esc *Escrow, caller [20]byte) error {
	if esc.Buyer != caller {
		return ErrUnauthorizedBuyer
	}
	return nil
}

func requireSeller(esc *Escrow, caller [20]byte) error {
	if esc.Seller != caller {
		return ErrUnauthorizedSeller
	}
	return nil
}

func requireParticipant(esc *Escrow, caller [20]byte) error {
	if esc.Buyer != caller && esc.Seller != caller {
		return ErrUnauthorizedParticipant
	}
	return nil
}

func requireTrustedHandler(esc *Escrow, caller [20]byte) error {
	if !esc.IsTrustedHandler(caller) {
		return ErrUnauthorizedTrustedHandler
	}
	return nil
}

// SplitFee computes the protocol fee and the counterparty payout for a
// settlement. fee + payout always equals amount exactly, with
// fee = floor(amount * feePercent / 100).
func SplitFee(amount *big.Int, feePercent uint8) (fee, payout *big.Int) {
	total := big.NewInt(0)
	if amount != nil {
		total = new(big.Int).Set(amount)
	}
	fee = new(big.Int).Mul(total, big.NewInt(int64(feePercent)))
	fee.Div(fee, big.NewInt(100))
	payout = new(big.Int).Sub(total, fee)
	return fee, payout
}

// SellerApprove confirms receipt of the buyer's deposit before work starts.
func (e *Engine) SellerApprove(id [32]byte, caller [20]byte) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusLaunched {
		return wrongStatus("sellerApprove", esc.Status, StatusLaunched)
	}
	if err := requireSeller(esc, caller); err != nil {
		return err
	}
	balance, err := e.Balance(id)
	if err != nil {
		return err
	}
	if balance.Sign() <= 0 {
		return ErrNoFunds
	}
	esc.Status = StatusOngoing
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.recordTransition(StatusLaunched, StatusOngoing)
	e.emit(NewApprovedEvent(esc))
	return nil
}

// SellerMarkDelivered flags the work as delivered and opens the buyer's
// confirmation window.
func (e *Engine) SellerMarkDelivered(id [32]byte, caller [20]byte) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusOngoing {
		return wrongStatus("sellerMarkDelivered", esc.Status, StatusOngoing)
	}
	if err := requireSeller(esc, caller); err != nil {
		return err
	}
	esc.Status = StatusDelivered
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.recordTransition(StatusOngoing, StatusDelivered)
	e.emit(NewDeliveredEvent(esc))
	return nil
}

// BuyerConfirm accepts the delivery and settles the deposit to the seller.
func (e *Engine) BuyerConfirm(id [32]byte, caller [20]byte) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusDelivered {
		return wrongStatus("buyerConfirm", esc.Status, StatusDelivered)
	}
	if err := requireBuyer(esc, caller); err != nil {
		return err
	}
	if err := e.settle(esc, esc.Seller, StatusComplete, NewCompletedEvent); err != nil {
		return err
	}
	return nil
}

// BuyerReject declines the delivery. The first rejection grants the seller a
// revision window of at least one day; a rejection while a revision is
// already pending, or any second rejection, escalates to Dispute with no new
// deadline.
func (e *Engine) BuyerReject(id [32]byte, caller [20]byte, extension int64) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusDelivered && esc.Status != StatusRequestRevised {
		return wrongStatus("buyerReject", esc.Status, StatusDelivered, StatusRequestRevised)
	}
	if err := requireBuyer(esc, caller); err != nil {
		return err
	}
	escalate := esc.Status == StatusRequestRevised || esc.RejectCount >= 1
	if !escalate && extension < e.policy.minRejectExtension() {
		return ErrRejectWindowTooShort
	}
	from := esc.Status
	esc.RejectCount++
	if escalate {
		esc.Status = StatusDispute
	} else {
		esc.Status = StatusRequestRevised
		esc.RevisionDeadline = e.now() + extension
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.recordTransition(from, esc.Status)
	if escalate {
		e.emit(NewDisputedEvent(esc))
	} else {
		e.emit(NewRevisionRequestedEvent(esc))
	}
	return nil
}

// SellerAcceptRevision resumes work: the deal returns to Ongoing and the
// working deadline is replaced by the revision deadline the buyer granted.
func (e *Engine) SellerAcceptRevision(id [32]byte, caller [20]byte) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusRequestRevised {
		return wrongStatus("sellerAcceptRevision", esc.Status, StatusRequestRevised)
	}
	if err := requireSeller(esc, caller); err != nil {
		return err
	}
	esc.Status = StatusOngoing
	esc.Deadline = esc.RevisionDeadline
	esc.RevisionDeadline = 0
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.recordTransition(StatusRequestRevised, StatusOngoing)
	e.emit(NewRevisionAcceptedEvent(esc))
	return nil
}

// SellerRejectRevision declines to redo the work, escalating to Dispute.
func (e *Engine) SellerRejectRevision(id [32]byte, caller [20]byte) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusRequestRevised {
		return wrongStatus("sellerRejectRevision", esc.Status, StatusRequestRevised)
	}
	if err := requireSeller(esc, caller); err != nil {
		return err
	}
	esc.Status = StatusDispute
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.recordTransition(StatusRequestRevised, StatusDispute)
	e.emit(NewDisputedEvent(esc))
	return nil
}

// Cancel unwinds the deal and settles the deposit back to the buyer. Either
// party may invoke it from the policy-configured eligible states; the buyer
// is additionally gated on the deadline while the deal is inside its working
// window.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status.Settled() {
		return ErrAlreadySettled
	}
	if err := requireParticipant(esc, caller); err != nil {
		return err
	}
	if !e.policy.isCancelable(esc.Status) {
		return wrongStatus("cancel", esc.Status)
	}
	if caller == esc.Buyer && buyerCancelTimeGated(esc.Status) {
		now := e.now()
		if now < esc.Deadline {
			return ErrNotExpired
		}
		if e.policy.RequireRevisionDeadline && esc.RevisionDeadline > 0 && now < esc.RevisionDeadline {
			return ErrNotExpired
		}
	}
	return e.settle(esc, esc.Buyer, StatusCancelled, NewCancelledEvent)
}

// buyerCancelTimeGated names the states in which a buyer cancel must wait
// for the deadline. Launched deals carry no working window yet.
func buyerCancelTimeGated(s Status) bool {
	return s == StatusOngoing || s == StatusRequestRevised || s == StatusDelivered
}

// ForceSettle is the arbitration override: a trusted handler directs the
// deposit to either party once a dispute has been adjudicated out-of-band.
func (e *Engine) ForceSettle(id [32]byte, caller [20]byte, beneficiary [20]byte) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := requireTrustedHandler(esc, caller); err != nil {
		return err
	}
	if esc.Status.Settled() {
		return ErrAlreadySettled
	}
	if beneficiary != esc.Buyer && beneficiary != esc.Seller {
		return ErrInvalidCounterparty
	}
	return e.settle(esc, beneficiary, StatusComplete, NewForceSettledEvent)
}

// AddTrustedHandlers extends the deal's local trust set. The union is
// monotonic and idempotent; identities are never removed.
func (e *Engine) AddTrustedHandlers(id [32]byte, caller [20]byte, set [][20]byte) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := requireTrustedHandler(esc, caller); err != nil {
		return err
	}
	changed := false
	for _, h := range set {
		if !esc.IsTrustedHandler(h) {
			esc.TrustedHandlers = append(esc.TrustedHandlers, h)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewHandlersAddedEvent(esc))
	return nil
}

// Deposit moves additional value into custody. The top-up policy decides
// whether that is allowed and the recorded amount is raised in lockstep, so
// settlement always accounts for the full deposit.
func (e *Engine) Deposit(id [32]byte, from [20]byte, amount *big.Int) error {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if esc.Status.SelfServiceTerminal() {
		return wrongStatus("deposit", esc.Status)
	}
	if e.policy.TopUp == TopUpReject && esc.Status != StatusLaunched {
		return ErrTopUpRejected
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if err := e.ledger.Transfer(from, VaultAddress(id), esc.Token, amount); err != nil {
		return err
	}
	esc.Amount = new(big.Int).Add(esc.Amount, amount)
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewDepositedEvent(esc, from, amount))
	return nil
}

// Balance reports the deal's custody balance.
func (e *Engine) Balance(id [32]byte) (*big.Int, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	return e.ledger.BalanceOf(VaultAddress(id), esc.Token)
}

// Details returns a deep-cloned snapshot of the whole record.
func (e *Engine) Details(id [32]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// settle executes the release protocol: split the recorded amount into fee
// and payout, move both out of custody in one atomic batch, then write the
// final status. A precondition or transfer failure leaves everything
// untouched; no partial settlement is ever observable.
func (e *Engine) settle(esc *Escrow, beneficiary [20]byte, final Status, eventFn func(*Escrow) *types.Event) error {
	if e.ledger == nil {
		return errNilLedger
	}
	fee, payout := SplitFee(esc.Amount, esc.FeePercent)
	if fee.Sign() > 0 && e.feeRecipient == ([20]byte{}) {
		return errNilFeeRecipient
	}
	vault := VaultAddress(esc.ID)
	balance, err := e.ledger.BalanceOf(vault, esc.Token)
	if err != nil {
		return err
	}
	if balance.Cmp(esc.Amount) < 0 {
		return ErrNoFunds
	}
	moves := make([]Move, 0, 2)
	if payout.Sign() > 0 {
		moves = append(moves, Move{From: vault, To: beneficiary, Amount: payout})
	}
	if fee.Sign() > 0 {
		moves = append(moves, Move{From: vault, To: e.feeRecipient, Amount: fee})
	}
	if len(moves) > 0 {
		if err := e.ledger.TransferBatch(esc.Token, moves...); err != nil {
			return err
		}
	}
	from := esc.Status
	esc.Status = final
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.recordTransition(from, final)
	observability.Escrow().RecordSettlement(final.String())
	if e.logger != nil {
		e.logger.Info("escrow settled",
			slog.String("status", final.String()),
			slog.String("payout", payout.String()),
			slog.String("fee", fee.String()),
		)
	}
	e.emit(eventFn(esc))
	return nil
}
