package escrow

import (
	"log/slog"
	"math"
	"math/big"
	"time"

	"custodia/core/events"
	"custodia/native/common"
	"custodia/native/trust"
	"custodia/observability"
)

const registryModuleName = "registry"

// UseDefaultFee, passed as the fee percent of a creation request, selects the
// registry's current default rate. The chosen rate is frozen on the instance
// either way.
const UseDefaultFee uint8 = math.MaxUint8

type registryState interface {
	engineState
	EscrowCreate(esc *Escrow) error
	EscrowIndexList(addr [20]byte) ([][32]byte, error)
	QuotaGet(addr [20]byte) (common.QuotaNow, bool, error)
	QuotaPut(addr [20]byte, q common.QuotaNow) error
}

// Registry is the factory and directory for escrow deals. It validates
// creation requests against the trust allow-lists, moves the deposit into
// the new instance's custody, freezes the fee rate and the trusted-handler
// snapshot, and indexes every instance under both participants.
type Registry struct {
	engine       *Engine
	state        registryState
	trust        *trust.Registry
	feePercent   uint8
	feeRecipient [20]byte
	quota        common.Quota
	pauses       common.PauseView
	emitter      events.Emitter
	nowFn        func() int64
	logger       *slog.Logger
}

// NewRegistry constructs a registry bound to the supplied engine. The engine
// provides the ledger and settlement machinery; the registry only adds the
// factory and directory concerns.
func NewRegistry(engine *Engine) *Registry {
	return &Registry{
		engine:  engine,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend.
func (r *Registry) SetState(state registryState) {
	r.state = state
	if r.engine != nil {
		r.engine.SetState(state)
	}
}

// SetTrust wires the process-wide trust registry consulted at creation time.
func (r *Registry) SetTrust(t *trust.Registry) { r.trust = t }

// SetQuota bounds per-buyer escrow creation.
func (r *Registry) SetQuota(q common.Quota) { r.quota = q }

// SetPauses wires the operator pause switch.
func (r *Registry) SetPauses(p common.PauseView) {
	r.pauses = p
	if r.engine != nil {
		r.engine.SetPauses(p)
	}
}

// SetDefaultFeePercent sets the rate applied when a creation request passes
// UseDefaultFee. Instances already created keep their frozen rate.
func (r *Registry) SetDefaultFeePercent(pct uint8) { r.feePercent = pct }

// SetFeeRecipient sets the address fees settle to, on the registry and the
// engine both.
func (r *Registry) SetFeeRecipient(addr [20]byte) {
	r.feeRecipient = addr
	if r.engine != nil {
		r.engine.SetFeeRecipient(addr)
	}
}

// SetNowFunc overrides the time source, primarily used in tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
	if r.engine != nil {
		r.engine.SetNowFunc(now)
	}
}

// SetEmitter configures the event emitter used for creation events.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetLogger attaches a structured logger for creation and mutator audit
// lines.
func (r *Registry) SetLogger(logger *slog.Logger) { r.logger = logger }

// Engine exposes the wrapped lifecycle engine.
func (r *Registry) Engine() *Engine { return r.engine }

func (r *Registry) now() int64 {
	if r == nil || r.nowFn == nil {
		return time.Now().Unix()
	}
	return r.nowFn()
}

func (r *Registry) emit(esc *Escrow) {
	if r == nil || r.emitter == nil {
		return
	}
	r.emitter.Emit(escrowEvent{evt: NewCreatedEvent(esc)})
}

func (r *Registry) requireTrusted(caller [20]byte) error {
	if r.trust == nil || !r.trust.IsTrusted(caller) {
		return ErrUnauthorizedTrustedHandler
	}
	return nil
}

// CreateEscrow validates a creation request, moves the deposit from the
// buyer into the new instance's custody and records the instance under both
// participants. The buyer is the authenticated caller. Identical repeats of
// the same (buyer, seller, nonce) request return the existing instance;
// conflicting definitions fail.
func (r *Registry) CreateEscrow(buyer, seller [20]byte, token string, amount *big.Int, title [32]byte, duration int64, feePercent uint8, nonce uint64) (*Escrow, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(r.pauses, registryModuleName); err != nil {
		return nil, err
	}
	if seller == ([20]byte{}) || buyer == seller {
		return nil, ErrInvalidCounterparty
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if feePercent == UseDefaultFee {
		feePercent = r.feePercent
	}
	if feePercent > 100 {
		return nil, ErrInvalidFeePercent
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if nonce == 0 {
		return nil, ErrInvalidNonce
	}
	normalizedToken, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	if normalizedToken != NativeToken {
		if r.trust == nil || !r.trust.IsTokenTrusted(normalizedToken) {
			return nil, ErrUntrustedToken
		}
	}

	now := r.now()
	id := EscrowID(buyer, seller, nonce)
	if existing, ok := r.state.EscrowGet(id); ok {
		if existing.Seller != seller || existing.Token != normalizedToken ||
			existing.Amount.Cmp(amount) != 0 || existing.FeePercent != feePercent ||
			existing.Title != title {
			return nil, ErrDefinitionMismatch
		}
		if err := r.ensureDeposit(existing); err != nil {
			return nil, err
		}
		return existing.Clone(), nil
	}

	if err := r.consumeQuota(buyer, now, amount); err != nil {
		return nil, err
	}

	if r.engine == nil || r.engine.ledger == nil {
		return nil, errNilLedger
	}
	ledger := r.engine.ledger
	balance, err := ledger.BalanceOf(buyer, normalizedToken)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrNoFunds
	}

	var handlers [][20]byte
	if r.trust != nil {
		handlers = r.trust.Snapshot()
	}
	esc := &Escrow{
		ID:              id,
		Title:           title,
		Buyer:           buyer,
		Seller:          seller,
		Token:           normalizedToken,
		Amount:          new(big.Int).Set(amount),
		FeePercent:      feePercent,
		Deadline:        now + duration,
		Status:          StatusLaunched,
		CreatedAt:       now,
		TrustedHandlers: handlers,
	}
	// The record and both index rows land in one commit, before any value
	// moves. If the deposit transfer below fails, nothing has moved and a
	// retry of the identical request completes it via ensureDeposit.
	if err := r.state.EscrowCreate(esc); err != nil {
		return nil, err
	}
	if err := ledger.Transfer(buyer, VaultAddress(id), normalizedToken, amount); err != nil {
		return nil, err
	}
	observability.Escrow().RecordCreate(normalizedToken)
	if r.logger != nil {
		r.logger.Info("escrow created",
			slog.String("token", normalizedToken),
			slog.String("amount", amount.String()),
			slog.Int64("deadline", esc.Deadline),
		)
	}
	r.emit(esc)
	return esc.Clone(), nil
}

// ensureDeposit completes the deposit leg of a creation whose record
// committed but whose transfer never landed. Only pre-approval deals
// qualify; sellerApprove refuses unfunded custody, so nothing downstream can
// observe the gap.
func (r *Registry) ensureDeposit(esc *Escrow) error {
	if esc.Status != StatusLaunched {
		return nil
	}
	if r.engine == nil || r.engine.ledger == nil {
		return errNilLedger
	}
	ledger := r.engine.ledger
	vault := VaultAddress(esc.ID)
	funded, err := ledger.BalanceOf(vault, esc.Token)
	if err != nil {
		return err
	}
	if funded.Cmp(esc.Amount) >= 0 {
		return nil
	}
	missing := new(big.Int).Sub(esc.Amount, funded)
	balance, err := ledger.BalanceOf(esc.Buyer, esc.Token)
	if err != nil {
		return err
	}
	if balance.Cmp(missing) < 0 {
		return ErrNoFunds
	}
	return ledger.Transfer(esc.Buyer, vault, esc.Token, missing)
}

func (r *Registry) consumeQuota(buyer [20]byte, now int64, amount *big.Int) error {
	if !r.quota.Enabled() {
		return nil
	}
	epochSecs := int64(r.quota.EpochSeconds)
	if epochSecs <= 0 {
		epochSecs = 3600
	}
	epoch := uint64(now / epochSecs)
	prev, _, err := r.state.QuotaGet(buyer)
	if err != nil {
		return err
	}
	value := uint64(math.MaxUint64)
	if amount.IsUint64() {
		value = amount.Uint64()
	}
	next, err := common.CheckQuota(r.quota, epoch, prev, 1, value)
	if err != nil {
		return err
	}
	return r.state.QuotaPut(buyer, next)
}

// SwitchTrustedHandlers enables or disables handler identities on the
// process-wide trust registry. Instances already created keep their frozen
// snapshot.
func (r *Registry) SwitchTrustedHandlers(caller [20]byte, set [][20]byte, enable bool) error {
	if r.trust == nil {
		return ErrUnauthorizedTrustedHandler
	}
	return r.trust.SwitchHandlers(caller, set, enable)
}

// SwitchTrustedTokens enables or disables tokens on the allow-list.
func (r *Registry) SwitchTrustedTokens(caller [20]byte, tokens []string, enable bool) error {
	if r.trust == nil {
		return ErrUnauthorizedTrustedHandler
	}
	return r.trust.SwitchTokens(caller, tokens, enable)
}

// UpdateFeePercent changes the registry default rate for future instances.
func (r *Registry) UpdateFeePercent(caller [20]byte, pct uint8) error {
	if err := r.requireTrusted(caller); err != nil {
		return err
	}
	if pct > 100 {
		return ErrInvalidFeePercent
	}
	r.feePercent = pct
	if r.logger != nil {
		r.logger.Info("registry fee percent updated", slog.Int("feePercent", int(pct)))
	}
	return nil
}

// UpdateFeeRecipient changes where future settlements send the fee portion.
func (r *Registry) UpdateFeeRecipient(caller [20]byte, addr [20]byte) error {
	if err := r.requireTrusted(caller); err != nil {
		return err
	}
	r.SetFeeRecipient(addr)
	return nil
}

// ListEscrows enumerates the caller's deals, newest first.
func (r *Registry) ListEscrows(addr [20]byte) ([]*Escrow, error) {
	return r.PageEscrows(addr, 0, math.MaxInt32)
}

// PageEscrows returns a newest-first window of the participant's deals.
func (r *Registry) PageEscrows(addr [20]byte, offset, pageSize int) ([]*Escrow, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if offset < 0 || pageSize <= 0 {
		return []*Escrow{}, nil
	}
	ids, err := r.state.EscrowIndexList(addr)
	if err != nil {
		return nil, err
	}
	capHint := pageSize
	if capHint > len(ids) {
		capHint = len(ids)
	}
	out := make([]*Escrow, 0, capHint)
	// The index is append-ordered; walk it backwards for newest-first.
	for i := len(ids) - 1 - offset; i >= 0 && len(out) < pageSize; i-- {
		esc, ok := r.state.EscrowGet(ids[i])
		if !ok {
			return nil, ErrNotFound
		}
		out = append(out, esc.Clone())
	}
	return out, nil
}
