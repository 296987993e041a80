package domain

import (
	"fmt"
	"math"
	"time"
)

// Valores por defecto del programa original (slots de 400ms como tick).
const (
	DefaultOracleStaleTicks        uint64 = 150
	DefaultPegWarnBps              uint64 = 10
	DefaultPegExitBps              uint64 = 25
	DefaultPegPanicBps             uint64 = 50
	DefaultCooldownTicks           uint64 = 30_000
	DefaultReexpansionDelaySeconds int64  = 30_000
	DefaultContractReductionPct    uint64 = 20
	DefaultMaxConflictBps          uint64 = 30
	DefaultMaxConfidenceBps        uint64 = 100
	DefaultMinConfirmations        uint32 = 3

	// MaxLeverageCapBps es el techo duro de apalancamiento (2.00x).
	MaxLeverageCapBps uint64 = 20_000
)

// VaultConfig es el bloque de configuración fijado al crear el vault.
type VaultConfig struct {
	MaxLeverageBps          uint64 `yaml:"max_leverage_bps"`
	HealthFactorFloorBps    uint64 `yaml:"health_factor_floor_bps"`
	OracleStaleTicks        uint64 `yaml:"oracle_stale_ticks"`
	PegWarnBps              uint64 `yaml:"peg_warn_bps"`
	PegExitBps              uint64 `yaml:"peg_exit_bps"`
	PegPanicBps             uint64 `yaml:"peg_panic_bps"`
	CooldownTicks           uint64 `yaml:"cooldown_ticks"`
	ReexpansionDelaySeconds int64  `yaml:"reexpansion_delay_seconds"`
	ContractReductionPct    uint64 `yaml:"contract_reduction_pct"`
	MaxConflictBps          uint64 `yaml:"max_conflict_bps"`
	MaxConfidenceBps        uint64 `yaml:"max_confidence_bps"`
	MinConfirmations        uint32 `yaml:"min_confirmations"`
}

// DefaultVaultConfig devuelve la configuración de producción con 2.00x y
// health factor mínimo de 1.10x.
func DefaultVaultConfig() VaultConfig {
	return VaultConfig{
		MaxLeverageBps:          MaxLeverageCapBps,
		HealthFactorFloorBps:    11_000,
		OracleStaleTicks:        DefaultOracleStaleTicks,
		PegWarnBps:              DefaultPegWarnBps,
		PegExitBps:              DefaultPegExitBps,
		PegPanicBps:             DefaultPegPanicBps,
		CooldownTicks:           DefaultCooldownTicks,
		ReexpansionDelaySeconds: DefaultReexpansionDelaySeconds,
		ContractReductionPct:    DefaultContractReductionPct,
		MaxConflictBps:          DefaultMaxConflictBps,
		MaxConfidenceBps:        DefaultMaxConfidenceBps,
		MinConfirmations:        DefaultMinConfirmations,
	}
}

// Validate rechaza configuraciones que el vault no puede operar.
func (c VaultConfig) Validate() error {
	if c.MaxLeverageBps < BpsDenominator || c.MaxLeverageBps > MaxLeverageCapBps {
		return fmt.Errorf("%w: %d bps (allowed %d..%d)", ErrInvalidLeverage, c.MaxLeverageBps, BpsDenominator, MaxLeverageCapBps)
	}
	if c.HealthFactorFloorBps < BpsDenominator {
		return fmt.Errorf("%w: %d bps (min %d)", ErrInvalidHealthFactor, c.HealthFactorFloorBps, BpsDenominator)
	}
	if c.PegWarnBps > c.PegExitBps || c.PegExitBps > c.PegPanicBps {
		return fmt.Errorf("%w: peg thresholds must satisfy warn <= exit <= panic (%d/%d/%d)",
			ErrInvalidConfig, c.PegWarnBps, c.PegExitBps, c.PegPanicBps)
	}
	if c.ReexpansionDelaySeconds < 0 {
		return fmt.Errorf("%w: negative re-expansion delay", ErrInvalidConfig)
	}
	if c.ContractReductionPct == 0 || c.ContractReductionPct > 100 {
		return fmt.Errorf("%w: contract reduction must be 1..100%%, got %d", ErrInvalidConfig, c.ContractReductionPct)
	}
	if c.MaxConfidenceBps > BpsDenominator {
		return fmt.Errorf("%w: confidence limit %d bps above 100%%", ErrInvalidConfig, c.MaxConfidenceBps)
	}
	return nil
}

// Vault es el registro singleton del vault. Todos los montos están en la
// unidad mínima del activo (6 decimales para USDC).
type Vault struct {
	Authority     string
	AssetMint     string
	ShareMint     string
	VaultAccount  string
	PrimaryFeed   string
	SecondaryFeed string // vacío en modo de un solo feed

	TotalSupplied uint64
	TotalBorrowed uint64
	TotalShares   uint64

	LastRebalanceTick     uint64
	ReexpansionUnlockedAt int64 // unix seconds

	Config VaultConfig

	Halted     bool
	HaltReason string
	HaltedAt   time.Time
	CreatedAt  time.Time
}

// Equity is supplied minus borrowed, saturating at zero.
func (v *Vault) Equity() uint64 {
	return SaturatingSub(v.TotalSupplied, v.TotalBorrowed)
}

// LeverageBps is TotalSupplied/Equity in basis points, 0 without equity.
// Values that do not fit in uint64 saturate at math.MaxUint64.
func (v *Vault) LeverageBps() uint64 {
	equity := v.Equity()
	if equity == 0 {
		return 0
	}
	lev, err := MulDiv(v.TotalSupplied, BpsDenominator, equity)
	if err != nil {
		return math.MaxUint64
	}
	return lev
}

// SharesForDeposit converts an asset amount into shares. The first deposit
// mints 1:1; afterwards shares are floor(amount * totalShares / equity).
func (v *Vault) SharesForDeposit(amount uint64) (uint64, error) {
	if v.TotalShares == 0 {
		return amount, nil
	}
	return MulDiv(amount, v.TotalShares, v.Equity())
}

// AssetsForShares converts shares into the asset amount they redeem,
// floor(shares * equity / totalShares).
func (v *Vault) AssetsForShares(shares uint64) (uint64, error) {
	return MulDiv(shares, v.Equity(), v.TotalShares)
}

// ApplyDeposit books a deposit of amount that minted shares.
func (v *Vault) ApplyDeposit(amount, shares uint64) error {
	supplied, err := CheckedAdd(v.TotalSupplied, amount)
	if err != nil {
		return fmt.Errorf("total supplied: %w", err)
	}
	total, err := CheckedAdd(v.TotalShares, shares)
	if err != nil {
		return fmt.Errorf("total shares: %w", err)
	}
	v.TotalSupplied, v.TotalShares = supplied, total
	return nil
}

// ApplyWithdraw books the burn of shares that returned amount.
func (v *Vault) ApplyWithdraw(amount, shares uint64) error {
	supplied, err := CheckedSub(v.TotalSupplied, amount)
	if err != nil {
		return fmt.Errorf("total supplied: %w", err)
	}
	if supplied < v.TotalBorrowed {
		return fmt.Errorf("%w: withdrawal would leave borrowed above supplied", ErrInsufficientEquity)
	}
	total, err := CheckedSub(v.TotalShares, shares)
	if err != nil {
		return fmt.Errorf("total shares: %w", err)
	}
	v.TotalSupplied, v.TotalShares = supplied, total
	return nil
}

// Halt latches the vault after a Panic outcome.
func (v *Vault) Halt(reason string, at time.Time) {
	v.Halted = true
	v.HaltReason = reason
	v.HaltedAt = at
}

// Resume clears the halt latch.
func (v *Vault) Resume() {
	v.Halted = false
	v.HaltReason = ""
	v.HaltedAt = time.Time{}
}

// UserPosition es la posición de un depositante. Una posición con cero
// shares es un estado válido y no se borra.
type UserPosition struct {
	Owner       string
	Shares      uint64
	DepositedAt time.Time
}
