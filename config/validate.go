package config

import (
	"fmt"

	"custodia/native/escrow"
)

// Validate rejects configurations the engine would misbehave under.
func (c *Config) Validate() error {
	if pct := c.DefaultFeePercent(); pct > 100 {
		return fmt.Errorf("config: DefaultFeePercent must be within [0,100], got %d", pct)
	}
	if !escrow.TopUpPolicy(c.Policy.TopUpPolicy).Valid() {
		return fmt.Errorf("config: TopUpPolicy must be %q or %q, got %q",
			escrow.TopUpReject, escrow.TopUpExtend, c.Policy.TopUpPolicy)
	}
	if c.Policy.MinRejectExtensionSecs < 86_400 {
		return fmt.Errorf("config: MinRejectExtensionSecs must be at least one day, got %d", c.Policy.MinRejectExtensionSecs)
	}
	for _, name := range c.Policy.CancelableStatuses {
		status, err := escrow.ParseStatus(name)
		if err != nil {
			return err
		}
		if status.Settled() || status == escrow.StatusDispute {
			return fmt.Errorf("config: %s cannot be cancelable", status)
		}
	}
	if _, err := c.FeeRecipientAddress(); err != nil {
		return err
	}
	return nil
}
