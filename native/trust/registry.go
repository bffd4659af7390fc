package trust

import (
	"bytes"
	"errors"
	"sort"
	"strings"
)

var (
	// ErrUntrustedCaller is returned when a mutator is invoked by an
	// identity outside the trusted-handler set.
	ErrUntrustedCaller = errors.New("trust: caller is not a trusted handler")
	// ErrEmptySeed is returned when a registry is constructed with no
	// trusted handlers; a registry nobody can mutate is unusable.
	ErrEmptySeed = errors.New("trust: at least one trusted handler required")
)

// Registry holds the process-wide trusted-handler and trusted-token sets.
// Both sets are mutable only by identities already in the handler set.
// Escrow instances never read the registry after creation; they receive a
// value copy via Snapshot so later mutations cannot retroactively change a
// deal's authorization set.
type Registry struct {
	handlers map[[20]byte]bool
	tokens   map[string]bool
}

// NewRegistry seeds a registry with the genesis handler set and optional
// token allow-list.
func NewRegistry(handlers [][20]byte, tokens []string) (*Registry, error) {
	if len(handlers) == 0 {
		return nil, ErrEmptySeed
	}
	r := &Registry{
		handlers: make(map[[20]byte]bool, len(handlers)),
		tokens:   make(map[string]bool, len(tokens)),
	}
	for _, h := range handlers {
		r.handlers[h] = true
	}
	for _, tok := range tokens {
		normalized := normalizeToken(tok)
		if normalized == "" {
			continue
		}
		r.tokens[normalized] = true
	}
	return r, nil
}

// IsTrusted reports whether the identity is in the handler set.
func (r *Registry) IsTrusted(addr [20]byte) bool {
	if r == nil {
		return false
	}
	return r.handlers[addr]
}

// IsTokenTrusted reports whether the token is on the allow-list.
func (r *Registry) IsTokenTrusted(token string) bool {
	if r == nil {
		return false
	}
	return r.tokens[normalizeToken(token)]
}

// SwitchHandlers enables or disables the given identities in the handler
// set. Only an existing trusted handler may mutate it. Disabling the last
// handler is allowed; operators are expected to guard against locking
// themselves out.
func (r *Registry) SwitchHandlers(caller [20]byte, set [][20]byte, enable bool) error {
	if !r.IsTrusted(caller) {
		return ErrUntrustedCaller
	}
	for _, h := range set {
		if enable {
			r.handlers[h] = true
		} else {
			delete(r.handlers, h)
		}
	}
	return nil
}

// SwitchTokens enables or disables tokens on the allow-list. Only a trusted
// handler may mutate it.
func (r *Registry) SwitchTokens(caller [20]byte, tokens []string, enable bool) error {
	if !r.IsTrusted(caller) {
		return ErrUntrustedCaller
	}
	for _, tok := range tokens {
		normalized := normalizeToken(tok)
		if normalized == "" {
			continue
		}
		if enable {
			r.tokens[normalized] = true
		} else {
			delete(r.tokens, normalized)
		}
	}
	return nil
}

// Snapshot returns the handler set as a sorted value copy. The copy is what
// new escrow instances are seeded with.
func (r *Registry) Snapshot() [][20]byte {
	if r == nil {
		return nil
	}
	out := make([][20]byte, 0, len(r.handlers))
	for h := range r.handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func normalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}
