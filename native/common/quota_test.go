package common

import (
	"errors"
	"testing"
)

func TestCheckQuotaCreateLimit(t *testing.T) {
	q := Quota{MaxCreatesPerEpoch: 3}
	prev := QuotaNow{EpochID: 7}

	next, err := CheckQuota(q, 7, prev, 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.CreateCount != 3 {
		t.Fatalf("unexpected create count: %d", next.CreateCount)
	}

	denied, err := CheckQuota(q, 7, next, 1, 0)
	if !errors.Is(err, ErrQuotaCreatesExceeded) {
		t.Fatalf("expected ErrQuotaCreatesExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("counters must be unchanged on rejection")
	}
}

func TestCheckQuotaValueCap(t *testing.T) {
	q := Quota{MaxValuePerEpoch: 1_000}
	prev := QuotaNow{EpochID: 1, ValueUsed: 900}

	if _, err := CheckQuota(q, 1, prev, 1, 101); !errors.Is(err, ErrQuotaValueExceeded) {
		t.Fatalf("expected ErrQuotaValueExceeded, got %v", err)
	}
	next, err := CheckQuota(q, 1, prev, 1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ValueUsed != 1_000 {
		t.Fatalf("unexpected value used: %d", next.ValueUsed)
	}
}

func TestCheckQuotaEpochRollover(t *testing.T) {
	q := Quota{MaxCreatesPerEpoch: 1}
	prev := QuotaNow{EpochID: 1, CreateCount: 1}

	next, err := CheckQuota(q, 2, prev, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error after rollover: %v", err)
	}
	if next.EpochID != 2 || next.CreateCount != 1 {
		t.Fatalf("counters not reset on epoch change: %+v", next)
	}
}

func TestCheckQuotaDisabled(t *testing.T) {
	var q Quota
	if q.Enabled() {
		t.Fatalf("zero quota must be disabled")
	}
	if _, err := CheckQuota(q, 5, QuotaNow{}, 1_000, 1_000_000); err != nil {
		t.Fatalf("disabled quota must never reject: %v", err)
	}
}
