package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaCreatesExceeded = errors.New("quota creates exceeded")
	ErrQuotaValueExceeded   = errors.New("quota escrowed value cap exceeded")
	ErrQuotaCounterOverflow = errors.New("quota counter overflow")
)

// QuotaNow captures the usage counters for an address within the current
// quota epoch.
type QuotaNow struct {
	CreateCount uint32
	ValueUsed   uint64
	EpochID     uint64
}

// Quota bounds how many escrows an address may open, and how much value it
// may place into custody, per epoch. Zero limits disable the corresponding
// check.
type Quota struct {
	MaxCreatesPerEpoch uint32
	MaxValuePerEpoch   uint64
	EpochSeconds       uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxCreatesPerEpoch > 0 || q.MaxValuePerEpoch > 0
}

// CheckQuota verifies that one additional creation consuming addValue fits
// within the quota. On success the returned QuotaNow holds the updated
// counters; on failure the previous counters are returned unchanged.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addCreates uint32, addValue uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addCreates > 0 {
		if next.CreateCount > math.MaxUint32-addCreates {
			return prev, ErrQuotaCounterOverflow
		}
		next.CreateCount += addCreates
	}
	if q.MaxCreatesPerEpoch > 0 && next.CreateCount > q.MaxCreatesPerEpoch {
		return prev, ErrQuotaCreatesExceeded
	}

	if addValue > 0 {
		if next.ValueUsed > math.MaxUint64-addValue {
			return prev, ErrQuotaCounterOverflow
		}
		next.ValueUsed += addValue
	}
	if q.MaxValuePerEpoch > 0 && next.ValueUsed > q.MaxValuePerEpoch {
		return prev, ErrQuotaValueExceeded
	}

	return next, nil
}
