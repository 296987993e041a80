package domain

import (
	"fmt"
	"time"
)

// CooldownGate enforces the two rebalance locks: a tick-based rate limit on
// the control loop and a wall-clock lock on leverage re-expansion. It holds
// no state; the timestamps live on the Vault and only advance when the
// surrounding transaction commits.
type CooldownGate struct {
	CooldownTicks           uint64
	ReexpansionDelaySeconds int64
}

// NewCooldownGate builds the gate from the vault configuration.
func NewCooldownGate(cfg VaultConfig) CooldownGate {
	return CooldownGate{
		CooldownTicks:           cfg.CooldownTicks,
		ReexpansionDelaySeconds: cfg.ReexpansionDelaySeconds,
	}
}

// CheckRebalance allows a run only when current >= last + CooldownTicks.
// An overflowing sum keeps the gate closed.
func (g CooldownGate) CheckRebalance(lastTick, currentTick uint64) error {
	next, err := CheckedAdd(lastTick, g.CooldownTicks)
	if err != nil {
		return fmt.Errorf("%w: next tick overflows", ErrRebalanceCooldown)
	}
	if currentTick < next {
		return fmt.Errorf("%w: %d ticks remaining", ErrRebalanceCooldown, next-currentTick)
	}
	return nil
}

// CheckReexpansion allows leverage expansion once now reaches unlockedAt.
func (g CooldownGate) CheckReexpansion(unlockedAt int64, now time.Time) error {
	if ts := now.Unix(); ts < unlockedAt {
		return fmt.Errorf("%w: unlocks in %ds", ErrReexpansionCooldown, unlockedAt-ts)
	}
	return nil
}

// NextReexpansionUnlock returns now + ReexpansionDelaySeconds as unix seconds.
func (g CooldownGate) NextReexpansionUnlock(now time.Time) (int64, error) {
	return CheckedAddInt64(now.Unix(), g.ReexpansionDelaySeconds)
}
