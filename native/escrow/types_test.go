package escrow

import (
	"math/big"
	"testing"
)

func TestEscrowIDDeterministic(t *testing.T) {
	a := EscrowID(testBuyer, testSeller, 7)
	b := EscrowID(testBuyer, testSeller, 7)
	if a != b {
		t.Fatalf("same inputs must derive the same id")
	}
	if a == EscrowID(testBuyer, testSeller, 8) {
		t.Fatalf("nonce must vary the id")
	}
	if a == EscrowID(testSeller, testBuyer, 7) {
		t.Fatalf("party order must vary the id")
	}
}

func TestVaultAddressDistinctPerInstance(t *testing.T) {
	a := VaultAddress(EscrowID(testBuyer, testSeller, 1))
	b := VaultAddress(EscrowID(testBuyer, testSeller, 2))
	if a == b {
		t.Fatalf("each instance needs its own vault")
	}
	if a == ([20]byte{}) {
		t.Fatalf("vault address must be non-zero")
	}
}

func TestStatusTransitionsHelpers(t *testing.T) {
	settled := map[Status]bool{StatusComplete: true, StatusCancelled: true}
	for st := StatusLaunched; st <= StatusCancelled; st++ {
		if !st.Valid() {
			t.Fatalf("status %d should be valid", st)
		}
		if st.Settled() != settled[st] {
			t.Fatalf("settled mismatch for %s", st)
		}
	}
	if Status(99).Valid() {
		t.Fatalf("out-of-range status must be invalid")
	}
	if Status(99).String() == "" {
		t.Fatalf("String must render unknown statuses")
	}
}

func TestParseStatus(t *testing.T) {
	for st := StatusLaunched; st <= StatusCancelled; st++ {
		parsed, err := ParseStatus(st.String())
		if err != nil {
			t.Fatalf("parse %q: %v", st.String(), err)
		}
		if parsed != st {
			t.Fatalf("round trip mismatch for %s", st)
		}
	}
	if _, err := ParseStatus("nonsense"); err == nil {
		t.Fatalf("expected error for unknown status name")
	}
}

func TestEscrowCloneIsolation(t *testing.T) {
	original := &Escrow{
		ID:              EscrowID(testBuyer, testSeller, 1),
		Buyer:           testBuyer,
		Seller:          testSeller,
		Token:           NativeToken,
		Amount:          big.NewInt(1_000),
		FeePercent:      1,
		Deadline:        testNow + 3_600,
		Status:          StatusOngoing,
		CreatedAt:       testNow,
		TrustedHandlers: [][20]byte{testHandler},
	}
	clone := original.Clone()
	clone.Amount.SetInt64(5)
	clone.TrustedHandlers[0] = newTestAddress(0x77)
	clone.Status = StatusDispute

	if original.Amount.Int64() != 1_000 {
		t.Fatalf("clone shares the amount")
	}
	if original.TrustedHandlers[0] != testHandler {
		t.Fatalf("clone shares the handler slice")
	}
	if original.Status != StatusOngoing {
		t.Fatalf("clone shares status")
	}
}

func TestSanitize(t *testing.T) {
	valid := func() *Escrow {
		return &Escrow{
			ID:     EscrowID(testBuyer, testSeller, 1),
			Buyer:  testBuyer,
			Seller: testSeller,
			Token:  NativeToken,
			Amount: big.NewInt(100),
			Status: StatusLaunched,
		}
	}

	sanitized, err := Sanitize(valid())
	if err != nil {
		t.Fatalf("valid escrow rejected: %v", err)
	}
	if sanitized.Amount == nil {
		t.Fatalf("sanitized amount must be non-nil")
	}

	esc := valid()
	esc.Token = "  usdq "
	sanitized, err = Sanitize(esc)
	if err != nil {
		t.Fatalf("sanitize token casing: %v", err)
	}
	if sanitized.Token != "USDQ" {
		t.Fatalf("expected canonical token, got %q", sanitized.Token)
	}
	if esc.Token != "  usdq " {
		t.Fatalf("sanitize mutated the input record")
	}

	esc = valid()
	esc.Amount = big.NewInt(-1)
	if _, err := Sanitize(esc); err == nil {
		t.Fatalf("expected error for negative amount")
	}

	esc = valid()
	esc.FeePercent = 101
	if _, err := Sanitize(esc); err == nil {
		t.Fatalf("expected error for out-of-range fee percent")
	}

	esc = valid()
	esc.Seller = testBuyer
	if _, err := Sanitize(esc); err == nil {
		t.Fatalf("expected error for matching parties")
	}

	esc = valid()
	esc.Status = Status(42)
	if _, err := Sanitize(esc); err == nil {
		t.Fatalf("expected error for invalid status")
	}

	if _, err := Sanitize(nil); err == nil {
		t.Fatalf("expected error for nil record")
	}
}

func TestNormalizeToken(t *testing.T) {
	got, err := NormalizeToken("  usdq ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "USDQ" {
		t.Fatalf("expected USDQ, got %q", got)
	}
	if _, err := NormalizeToken("   "); err == nil {
		t.Fatalf("expected error for blank token")
	}
}

func TestSplitFee(t *testing.T) {
	cases := []struct {
		amount int64
		pct    uint8
		fee    int64
		payout int64
	}{
		{1_000, 1, 10, 990},
		{1_000, 0, 0, 1_000},
		{99, 1, 0, 99},
		{101, 10, 10, 91},
		{7, 100, 7, 0},
	}
	for _, tc := range cases {
		fee, payout := SplitFee(big.NewInt(tc.amount), tc.pct)
		if fee.Int64() != tc.fee || payout.Int64() != tc.payout {
			t.Fatalf("split %d@%d%%: got (%d,%d) want (%d,%d)",
				tc.amount, tc.pct, fee.Int64(), payout.Int64(), tc.fee, tc.payout)
		}
		if new(big.Int).Add(fee, payout).Int64() != tc.amount {
			t.Fatalf("split %d@%d%% does not conserve value", tc.amount, tc.pct)
		}
	}
}
