package escrow

// oneDay is the floor for buyer-granted revision windows, in seconds.
const oneDay int64 = 86_400

// TopUpPolicy decides what happens to value pushed into custody after
// creation. The deposit path is explicit, so funds are never silently
// stranded: they are either refused or folded into the settled amount.
type TopUpPolicy string

const (
	// TopUpReject refuses any deposit once the deal has left Launched.
	TopUpReject TopUpPolicy = "reject"
	// TopUpExtend accepts deposits in any pre-settlement state and raises
	// the recorded amount so settlement sweeps the full custody balance.
	TopUpExtend TopUpPolicy = "extend"
)

// Valid reports whether the policy value is one of the supported modes.
func (p TopUpPolicy) Valid() bool {
	return p == TopUpReject || p == TopUpExtend
}

// Policy carries the product-reviewed knobs the lifecycle deliberately does
// not hard-code: the cancellation eligibility boundary, the time-check
// conjunction for buyer cancels, and the top-up mode.
type Policy struct {
	// Cancelable names the statuses a cancel may start from.
	Cancelable map[Status]bool
	// RequireRevisionDeadline additionally gates buyer cancels on the
	// revision deadline having passed, not just the main deadline.
	RequireRevisionDeadline bool
	// TopUp selects the deposit handling mode.
	TopUp TopUpPolicy
	// MinRejectExtension is the revision-window floor in seconds. Values
	// below oneDay are raised to oneDay.
	MinRejectExtension int64
}

// DefaultPolicy matches the permissive variant: cancel allowed from every
// pre-dispute state, gated on the main deadline only, top-ups refused.
func DefaultPolicy() Policy {
	return Policy{
		Cancelable: map[Status]bool{
			StatusLaunched:       true,
			StatusOngoing:        true,
			StatusRequestRevised: true,
			StatusDelivered:      true,
		},
		RequireRevisionDeadline: false,
		TopUp:                   TopUpReject,
		MinRejectExtension:      oneDay,
	}
}

// minRejectExtension applies the one-day floor.
func (p Policy) minRejectExtension() int64 {
	if p.MinRejectExtension < oneDay {
		return oneDay
	}
	return p.MinRejectExtension
}

// isCancelable is the named predicate the cancel path checks instead of
// comparing enum ordinals.
func (p Policy) isCancelable(s Status) bool {
	return p.Cancelable[s]
}
