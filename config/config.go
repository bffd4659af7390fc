package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"custodia/native/common"
	"custodia/native/escrow"

	"github.com/BurntSushi/toml"
)

// Config carries the registry-level settings and the lifecycle policy knobs
// that are deliberately not hard-coded: the cancellation eligibility
// boundary, the time-check conjunction for buyer cancels, and the top-up
// mode.
type Config struct {
	Escrow EscrowConfig `toml:"escrow"`
	Policy PolicyConfig `toml:"policy"`
}

type EscrowConfig struct {
	// DefaultFeePercent is a pointer so an explicit 0 in the file is
	// distinguishable from the key being absent.
	DefaultFeePercent *uint8 `toml:"DefaultFeePercent"`
	FeeRecipient      string `toml:"FeeRecipient"`

	QuotaMaxCreatesPerEpoch uint32 `toml:"QuotaMaxCreatesPerEpoch"`
	QuotaMaxValuePerEpoch   uint64 `toml:"QuotaMaxValuePerEpoch"`
	QuotaEpochSeconds       uint32 `toml:"QuotaEpochSeconds"`
}

type PolicyConfig struct {
	CancelableStatuses              []string `toml:"CancelableStatuses"`
	RequireRevisionDeadlineOnCancel bool     `toml:"RequireRevisionDeadlineOnCancel"`
	TopUpPolicy                     string   `toml:"TopUpPolicy"`
	MinRejectExtensionSecs          int64    `toml:"MinRejectExtensionSecs"`
}

// Load reads the configuration from path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration: the permissive cancel variant,
// top-ups refused, 1% fee, no quota.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if len(c.Policy.CancelableStatuses) == 0 {
		c.Policy.CancelableStatuses = []string{"launched", "ongoing", "requestRevised", "delivered"}
	}
	if strings.TrimSpace(c.Policy.TopUpPolicy) == "" {
		c.Policy.TopUpPolicy = string(escrow.TopUpReject)
	}
	if c.Policy.MinRejectExtensionSecs == 0 {
		c.Policy.MinRejectExtensionSecs = 86_400
	}
	if c.Escrow.DefaultFeePercent == nil {
		pct := uint8(1)
		c.Escrow.DefaultFeePercent = &pct
	}
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultFeePercent returns the configured fee rate, or the built-in 1%
// when the file never set one.
func (c *Config) DefaultFeePercent() uint8 {
	if c.Escrow.DefaultFeePercent == nil {
		return 1
	}
	return *c.Escrow.DefaultFeePercent
}

// EscrowPolicy converts the policy table into the engine's Policy value.
func (c *Config) EscrowPolicy() (escrow.Policy, error) {
	policy := escrow.Policy{
		Cancelable:              make(map[escrow.Status]bool, len(c.Policy.CancelableStatuses)),
		RequireRevisionDeadline: c.Policy.RequireRevisionDeadlineOnCancel,
		TopUp:                   escrow.TopUpPolicy(c.Policy.TopUpPolicy),
		MinRejectExtension:      c.Policy.MinRejectExtensionSecs,
	}
	for _, name := range c.Policy.CancelableStatuses {
		status, err := escrow.ParseStatus(name)
		if err != nil {
			return escrow.Policy{}, err
		}
		policy.Cancelable[status] = true
	}
	return policy, nil
}

// FeeRecipientAddress decodes the configured hex fee recipient. An empty
// setting yields the zero address, which the engine refuses at settlement
// time whenever the fee is non-zero.
func (c *Config) FeeRecipientAddress() ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(c.Escrow.FeeRecipient), "0x")
	if trimmed == "" {
		return addr, nil
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("config: invalid fee recipient: %w", err)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("config: fee recipient must be 20 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// Quota converts the quota settings into the registry's Quota value.
func (c *Config) Quota() common.Quota {
	return common.Quota{
		MaxCreatesPerEpoch: c.Escrow.QuotaMaxCreatesPerEpoch,
		MaxValuePerEpoch:   c.Escrow.QuotaMaxValuePerEpoch,
		EpochSeconds:       c.Escrow.QuotaEpochSeconds,
	}
}
