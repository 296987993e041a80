package domain_test

import (
	"math"
	"testing"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVault_Equity_NeverNegative(t *testing.T) {
	cases := []struct {
		name               string
		supplied, borrowed uint64
		want               uint64
	}{
		{"empty", 0, 0, 0},
		{"unlevered", 1_000, 0, 1_000},
		{"levered", 2_000, 1_000, 1_000},
		{"borrowed above supplied", 1_000, 5_000, 0},
		{"max values", math.MaxUint64, math.MaxUint64, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := domain.Vault{TotalSupplied: tc.supplied, TotalBorrowed: tc.borrowed}
			assert.Equal(t, tc.want, v.Equity())
		})
	}
}

func TestVault_LeverageBps(t *testing.T) {
	v := domain.Vault{TotalSupplied: 3_000, TotalBorrowed: 2_000}
	assert.Equal(t, uint64(30_000), v.LeverageBps())

	v = domain.Vault{TotalSupplied: 1_000}
	assert.Equal(t, uint64(10_000), v.LeverageBps())

	v = domain.Vault{TotalSupplied: 1_000, TotalBorrowed: 1_000}
	assert.Zero(t, v.LeverageBps(), "sin equity el leverage es 0")

	// supplied*10000 no entra en 64 bits pero el intermedio ancho sí
	v = domain.Vault{TotalSupplied: 1 << 62, TotalBorrowed: 1 << 61}
	assert.Equal(t, uint64(20_000), v.LeverageBps())
}

func TestVault_SharesForDeposit_FirstDepositOneToOne(t *testing.T) {
	v := domain.Vault{}
	shares, err := v.SharesForDeposit(1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), shares)
}

func TestVault_SharesForDeposit_Proportional(t *testing.T) {
	// equity 1500, 1000 shares → 100 USDC compra floor(100*1000/1500) = 66
	v := domain.Vault{TotalSupplied: 2_000, TotalBorrowed: 500, TotalShares: 1_000}
	shares, err := v.SharesForDeposit(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(66), shares)
}

func TestVault_SharesForDeposit_ZeroEquityWithShares(t *testing.T) {
	v := domain.Vault{TotalSupplied: 500, TotalBorrowed: 500, TotalShares: 1_000}
	_, err := v.SharesForDeposit(100)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestVault_SharesForDeposit_WideIntermediate(t *testing.T) {
	v := domain.Vault{TotalSupplied: math.MaxUint64 / 2, TotalShares: math.MaxUint64 / 2}
	shares, err := v.SharesForDeposit(math.MaxUint64 / 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64/4), shares)
}

func TestVault_DepositWithdrawRoundTrip_NeverFavorsWithdrawer(t *testing.T) {
	amounts := []uint64{1, 7, 99, 1_000_001, 123_456_789}
	for _, amount := range amounts {
		v := domain.Vault{TotalSupplied: 3_333_337, TotalBorrowed: 1_111_111, TotalShares: 2_000_003}

		shares, err := v.SharesForDeposit(amount)
		require.NoError(t, err)
		if shares == 0 {
			continue
		}
		require.NoError(t, v.ApplyDeposit(amount, shares))

		out, err := v.AssetsForShares(shares)
		require.NoError(t, err)
		assert.LessOrEqual(t, out, amount, "amount=%d", amount)
	}
}

func TestVault_AssetsForShares(t *testing.T) {
	v := domain.Vault{TotalSupplied: 3_000, TotalBorrowed: 1_000, TotalShares: 1_000}
	out, err := v.AssetsForShares(250)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), out)

	empty := domain.Vault{}
	_, err = empty.AssetsForShares(1)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestVault_ApplyDeposit_Overflow(t *testing.T) {
	v := domain.Vault{TotalSupplied: math.MaxUint64, TotalShares: 10}
	err := v.ApplyDeposit(1, 1)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	assert.Equal(t, uint64(10), v.TotalShares, "no muta si falla")
}

func TestVault_ApplyWithdraw_KeepsBorrowedBelowSupplied(t *testing.T) {
	v := domain.Vault{TotalSupplied: 3_000, TotalBorrowed: 2_000, TotalShares: 1_000}
	err := v.ApplyWithdraw(1_500, 500)
	assert.ErrorIs(t, err, domain.ErrInsufficientEquity)

	require.NoError(t, v.ApplyWithdraw(1_000, 1_000))
	assert.Equal(t, uint64(2_000), v.TotalSupplied)
	assert.Zero(t, v.TotalShares)
}

func TestVault_HaltAndResume(t *testing.T) {
	v := domain.Vault{}
	v.Halt("oracle stale", fixedNow)
	assert.True(t, v.Halted)
	assert.Equal(t, "oracle stale", v.HaltReason)

	v.Resume()
	assert.False(t, v.Halted)
	assert.Empty(t, v.HaltReason)
	assert.True(t, v.HaltedAt.IsZero())
}

func TestVaultConfig_Validate(t *testing.T) {
	ok := domain.DefaultVaultConfig()
	require.NoError(t, ok.Validate())

	cfg := ok
	cfg.MaxLeverageBps = 20_001
	assert.ErrorIs(t, cfg.Validate(), domain.ErrInvalidLeverage)

	cfg = ok
	cfg.MaxLeverageBps = 9_999
	assert.ErrorIs(t, cfg.Validate(), domain.ErrInvalidLeverage)

	cfg = ok
	cfg.HealthFactorFloorBps = 9_999
	assert.ErrorIs(t, cfg.Validate(), domain.ErrInvalidHealthFactor)

	cfg = ok
	cfg.PegExitBps = 60
	assert.ErrorIs(t, cfg.Validate(), domain.ErrInvalidConfig)

	cfg = ok
	cfg.ContractReductionPct = 0
	assert.ErrorIs(t, cfg.Validate(), domain.ErrInvalidConfig)
}

func TestTargetBorrow(t *testing.T) {
	got, err := domain.TargetBorrow(1_000, 20_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got)

	got, err = domain.TargetBorrow(1_000, 10_000)
	require.NoError(t, err)
	assert.Zero(t, got)

	got, err = domain.TargetBorrow(1_000, 5_000)
	require.NoError(t, err)
	assert.Zero(t, got, "leverage bajo 1x satura a cero")
}

func TestContractRepay(t *testing.T) {
	got, err := domain.ContractRepay(1_000, 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), got)
}

func TestMulDiv(t *testing.T) {
	got, err := domain.MulDiv(math.MaxUint64, math.MaxUint64, math.MaxUint64)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), got)

	_, err = domain.MulDiv(math.MaxUint64, 2, 1)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)

	_, err = domain.MulDiv(1, 1, 0)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestCheckedArithmetic(t *testing.T) {
	_, err := domain.CheckedAdd(math.MaxUint64, 1)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)

	_, err = domain.CheckedSub(1, 2)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)

	_, err = domain.CheckedAddInt64(math.MaxInt64, 1)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)

	sum, err := domain.CheckedAddInt64(-5, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), sum)
}
