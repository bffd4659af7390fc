package escrow

import (
	"errors"
	"io"
	"math/big"
	"testing"

	"custodia/native/common"
	"custodia/native/trust"
	"custodia/observability/logging"
)

func newTestTrust(t *testing.T) *trust.Registry {
	t.Helper()
	reg, err := trust.NewRegistry([][20]byte{testHandler}, []string{"USDQ"})
	if err != nil {
		t.Fatalf("trust registry: %v", err)
	}
	return reg
}

func newTestRegistry(t *testing.T, state *mockState, ledger *mockLedger) (*Registry, *trust.Registry) {
	t.Helper()
	engine := NewEngine()
	engine.SetLedger(ledger)
	engine.SetLogger(logging.SetupWithWriter(io.Discard, "custodia-test", ""))

	trustReg := newTestTrust(t)
	registry := NewRegistry(engine)
	registry.SetState(state)
	registry.SetTrust(trustReg)
	registry.SetDefaultFeePercent(1)
	registry.SetFeeRecipient(testFeeRecipient)
	registry.SetNowFunc(func() int64 { return testNow })
	return registry, trustReg
}

func TestCreateEscrowValidations(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	registry, _ := newTestRegistry(t, state, ledger)
	ledger.credit(testBuyer, NativeToken, 10_000)

	var title [32]byte
	cases := []struct {
		name     string
		seller   [20]byte
		token    string
		amount   *big.Int
		duration int64
		fee      uint8
		nonce    uint64
		wantErr  error
	}{
		{"ok", testSeller, NativeToken, big.NewInt(100), 3_600, 1, 1, nil},
		{"self deal", testBuyer, NativeToken, big.NewInt(100), 3_600, 1, 2, ErrInvalidCounterparty},
		{"zero seller", [20]byte{}, NativeToken, big.NewInt(100), 3_600, 1, 3, ErrInvalidCounterparty},
		{"zero duration", testSeller, NativeToken, big.NewInt(100), 0, 1, 4, ErrInvalidDuration},
		{"fee too high", testSeller, NativeToken, big.NewInt(100), 3_600, 101, 5, ErrInvalidFeePercent},
		{"nil amount", testSeller, NativeToken, nil, 3_600, 1, 6, ErrInvalidAmount},
		{"zero amount", testSeller, NativeToken, big.NewInt(0), 3_600, 1, 7, ErrInvalidAmount},
		{"zero nonce", testSeller, NativeToken, big.NewInt(100), 3_600, 1, 0, ErrInvalidNonce},
		{"untrusted token", testSeller, "DOGE", big.NewInt(100), 3_600, 1, 8, ErrUntrustedToken},
		{"insufficient funds", testSeller, NativeToken, big.NewInt(100_000), 3_600, 1, 9, ErrNoFunds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := registry.CreateEscrow(testBuyer, tc.seller, tc.token, tc.amount, title, tc.duration, tc.fee, tc.nonce)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCreateEscrowMovesDepositIntoCustody(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	registry, _ := newTestRegistry(t, state, ledger)
	ledger.credit(testBuyer, NativeToken, 1_000)

	var title [32]byte
	copy(title[:], "logo design")
	esc, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(800), title, 7_200, 2, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if esc.Status != StatusLaunched {
		t.Fatalf("expected launched, got %s", esc.Status)
	}
	if esc.Deadline != testNow+7_200 {
		t.Fatalf("deadline: got %d want %d", esc.Deadline, testNow+7_200)
	}
	if esc.FeePercent != 2 {
		t.Fatalf("fee percent: got %d want 2", esc.FeePercent)
	}
	if got := balanceOf(t, ledger, testBuyer); got != 200 {
		t.Fatalf("buyer balance after deposit: got %d want 200", got)
	}
	if got := balanceOf(t, ledger, VaultAddress(esc.ID)); got != 800 {
		t.Fatalf("custody: got %d want 800", got)
	}
	if len(esc.TrustedHandlers) != 1 || esc.TrustedHandlers[0] != testHandler {
		t.Fatalf("handler snapshot missing: %v", esc.TrustedHandlers)
	}
}

func TestCreateEscrowIdempotent(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	registry, _ := newTestRegistry(t, state, ledger)
	ledger.credit(testBuyer, NativeToken, 1_000)

	var title [32]byte
	first, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(400), title, 3_600, 1, 42)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(400), title, 3_600, 1, 42)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected identical id on idempotent create")
	}
	// The deposit moved exactly once.
	if got := balanceOf(t, ledger, testBuyer); got != 600 {
		t.Fatalf("buyer balance: got %d want 600", got)
	}

	if _, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(500), title, 3_600, 1, 42); !errors.Is(err, ErrDefinitionMismatch) {
		t.Fatalf("expected ErrDefinitionMismatch, got %v", err)
	}
}

func TestCreateEscrowNativeTokenCaseInsensitive(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	registry, _ := newTestRegistry(t, state, ledger)
	ledger.credit(testBuyer, NativeToken, 1_000)

	var title [32]byte
	// The native currency must be recognized regardless of casing, not
	// routed through the token allow-list.
	esc, err := registry.CreateEscrow(testBuyer, testSeller, "native", big.NewInt(300), title, 3_600, 0, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if esc.Token != NativeToken {
		t.Fatalf("token not recognized as native: %q", esc.Token)
	}
	if got := balanceOf(t, ledger, VaultAddress(esc.ID)); got != 300 {
		t.Fatalf("custody: got %d want 300", got)
	}
}

func TestCreateEscrowRetryCompletesDeposit(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	registry, _ := newTestRegistry(t, state, ledger)
	ledger.credit(testBuyer, NativeToken, 1_000)
	ledger.failDebit[testBuyer] = ErrTransferRejected

	var title [32]byte
	if _, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(400), title, 3_600, 1, 7); !errors.Is(err, ErrTransferRejected) {
		t.Fatalf("expected transfer rejection, got %v", err)
	}
	// The record committed but no value moved.
	id := EscrowID(testBuyer, testSeller, 7)
	if _, ok := state.EscrowGet(id); !ok {
		t.Fatalf("record must exist after failed deposit")
	}
	if got := balanceOf(t, ledger, testBuyer); got != 1_000 {
		t.Fatalf("buyer balance must be untouched, got %d", got)
	}

	// Retrying the identical request completes the deposit leg.
	delete(ledger.failDebit, testBuyer)
	esc, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(400), title, 3_600, 1, 7)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := balanceOf(t, ledger, VaultAddress(esc.ID)); got != 400 {
		t.Fatalf("custody after retry: got %d want 400", got)
	}
	if got := balanceOf(t, ledger, testBuyer); got != 600 {
		t.Fatalf("buyer after retry: got %d want 600", got)
	}

	// A further repeat moves nothing more.
	if _, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(400), title, 3_600, 1, 7); err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if got := balanceOf(t, ledger, testBuyer); got != 600 {
		t.Fatalf("repeat moved value: got %d want 600", got)
	}
}

func TestCreateEscrowTokenDeal(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	registry, _ := newTestRegistry(t, state, ledger)
	ledger.credit(testBuyer, "USDQ", 5_000)

	var title [32]byte
	esc, err := registry.CreateEscrow(testBuyer, testSeller, "usdq", big.NewInt(5_000), title, 3_600, 1, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if esc.Token != "USDQ" {
		t.Fatalf("token not normalized: %q", esc.Token)
	}
	bal, err := ledger.BalanceOf(VaultAddress(esc.ID), "USDQ")
	if err != nil {
		t.Fatalf("vault balance: %v", err)
	}
	if bal.Int64() != 5_000 {
		t.Fatalf("custody: got %d want 5000", bal.Int64())
	}
}

func TestFrozenFeeRate(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	registry, _ := newTestRegistry(t, state, ledger)
	ledger.credit(testBuyer, NativeToken, 10_000)

	var title [32]byte
	first, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(1_000), title, 3_600, UseDefaultFee, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.FeePercent != 1 {
		t.Fatalf("expected default fee 1, got %d", first.FeePercent)
	}

	if err := registry.UpdateFeePercent(testHandler, 5); err != nil {
		t.Fatalf("update fee: %v", err)
	}
	second, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(1_000), title, 3_600, UseDefaultFee, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.FeePercent != 5 {
		t.Fatalf("expected new default 5, got %d", second.FeePercent)
	}
	// The first instance keeps its frozen rate.
	stored, _ := state.EscrowGet(first.ID)
	if stored.FeePercent != 1 {
		t.Fatalf("fee must stay frozen, got %d", stored.FeePercent)
	}
}

func TestHandlerSnapshotIsolation(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	registry, _ := newTestRegistry(t, state, ledger)
	ledger.credit(testBuyer, NativeToken, 1_000)

	var title [32]byte
	esc, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(100), title, 3_600, 0, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	late := newTestAddress(0x55)
	if err := registry.SwitchTrustedHandlers(testHandler, [][20]byte{late}, true); err != nil {
		t.Fatalf("switch handlers: %v", err)
	}
	// The registry-level promotion must not leak into the existing deal.
	if err := registry.Engine().ForceSettle(esc.ID, late, testBuyer); !errors.Is(err, ErrUnauthorizedTrustedHandler) {
		t.Fatalf("expected ErrUnauthorizedTrustedHandler for late handler, got %v", err)
	}
	// New instances see the extended snapshot.
	next, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(100), title, 3_600, 0, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !next.IsTrustedHandler(late) {
		t.Fatalf("new instance missing promoted handler")
	}
}

func TestRegistryMutatorsRequireTrustedHandler(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	registry, _ := newTestRegistry(t, state, ledger)
	stranger := newTestAddress(0x99)

	if err := registry.SwitchTrustedHandlers(stranger, [][20]byte{stranger}, true); !errors.Is(err, trust.ErrUntrustedCaller) {
		t.Fatalf("expected ErrUntrustedCaller, got %v", err)
	}
	if err := registry.SwitchTrustedTokens(stranger, []string{"DOGE"}, true); !errors.Is(err, trust.ErrUntrustedCaller) {
		t.Fatalf("expected ErrUntrustedCaller, got %v", err)
	}
	if err := registry.UpdateFeePercent(stranger, 3); !errors.Is(err, ErrUnauthorizedTrustedHandler) {
		t.Fatalf("expected ErrUnauthorizedTrustedHandler, got %v", err)
	}
	if err := registry.UpdateFeeRecipient(stranger, stranger); !errors.Is(err, ErrUnauthorizedTrustedHandler) {
		t.Fatalf("expected ErrUnauthorizedTrustedHandler, got %v", err)
	}
	if err := registry.UpdateFeePercent(testHandler, 101); !errors.Is(err, ErrInvalidFeePercent) {
		t.Fatalf("expected ErrInvalidFeePercent, got %v", err)
	}
}

func TestPageEscrowsNewestFirst(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	registry, _ := newTestRegistry(t, state, ledger)
	ledger.credit(testBuyer, NativeToken, 10_000)

	var title [32]byte
	var ids [][32]byte
	for nonce := uint64(1); nonce <= 5; nonce++ {
		esc, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(int64(100*nonce)), title, 3_600, 0, nonce)
		if err != nil {
			t.Fatalf("create %d: %v", nonce, err)
		}
		ids = append(ids, esc.ID)
	}

	list, err := registry.ListEscrows(testBuyer)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 5 {
		t.Fatalf("expected 5 escrows, got %d", len(list))
	}
	for i, esc := range list {
		if esc.ID != ids[len(ids)-1-i] {
			t.Fatalf("list not newest-first at %d", i)
		}
	}

	// The seller sees the same deals.
	sellerList, err := registry.ListEscrows(testSeller)
	if err != nil {
		t.Fatalf("seller list: %v", err)
	}
	if len(sellerList) != 5 {
		t.Fatalf("expected 5 escrows for seller, got %d", len(sellerList))
	}

	page, err := registry.PageEscrows(testBuyer, 1, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[3] || page[1].ID != ids[2] {
		t.Fatalf("unexpected page window")
	}

	empty, err := registry.PageEscrows(testBuyer, 0, 0)
	if err != nil {
		t.Fatalf("zero page: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %d", len(empty))
	}
}

func TestCreateEscrowQuota(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	registry, _ := newTestRegistry(t, state, ledger)
	registry.SetQuota(common.Quota{MaxCreatesPerEpoch: 2, EpochSeconds: 3_600})
	ledger.credit(testBuyer, NativeToken, 10_000)

	var title [32]byte
	for nonce := uint64(1); nonce <= 2; nonce++ {
		if _, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(100), title, 3_600, 0, nonce); err != nil {
			t.Fatalf("create %d: %v", nonce, err)
		}
	}
	if _, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(100), title, 3_600, 0, 3); !errors.Is(err, common.ErrQuotaCreatesExceeded) {
		t.Fatalf("expected quota rejection, got %v", err)
	}

	// A new epoch resets the counters.
	registry.SetNowFunc(func() int64 { return testNow + 3_600 })
	if _, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(100), title, 3_600, 0, 4); err != nil {
		t.Fatalf("create after epoch rollover: %v", err)
	}
}

func TestRegistryPauseGuard(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	registry, _ := newTestRegistry(t, state, ledger)
	registry.SetPauses(pausedModules{registryModuleName: true})
	ledger.credit(testBuyer, NativeToken, 1_000)

	var title [32]byte
	if _, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(100), title, 3_600, 0, 1); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestFullDealThroughRegistry(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	registry, _ := newTestRegistry(t, state, ledger)
	ledger.credit(testBuyer, NativeToken, 1_000)

	var title [32]byte
	esc, err := registry.CreateEscrow(testBuyer, testSeller, NativeToken, big.NewInt(1_000), title, 3_600, 1, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	engine := registry.Engine()
	if err := engine.SellerApprove(esc.ID, testSeller); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := engine.SellerMarkDelivered(esc.ID, testSeller); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := engine.BuyerConfirm(esc.ID, testBuyer); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := balanceOf(t, ledger, testSeller); got != 990 {
		t.Fatalf("seller payout: got %d want 990", got)
	}
	if got := balanceOf(t, ledger, testFeeRecipient); got != 10 {
		t.Fatalf("fee: got %d want 10", got)
	}
	details, err := engine.Details(esc.ID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Status != StatusComplete {
		t.Fatalf("expected complete, got %s", details.Status)
	}
}
