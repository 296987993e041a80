package domain_test

import (
	"testing"
	"time"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() domain.VaultConfig {
	cfg := domain.DefaultVaultConfig()
	cfg.HealthFactorFloorBps = 24_000
	return cfg
}

func healthy(peg uint64) domain.StateInputs {
	return domain.StateInputs{PegDeviationBps: peg, HealthFactorBps: 31_200, QualityOK: true}
}

func TestDetermineState_PanicDominates(t *testing.T) {
	cfg := testConfig()
	for _, in := range []domain.StateInputs{
		{PegDeviationBps: 60, HealthFactorBps: 31_200, QualityOK: true},
		{PegDeviationBps: 60, HealthFactorBps: 0},
		{PegDeviationBps: 60, IsStale: true, HealthFactorBps: 50_000, QualityOK: true},
		{PegDeviationBps: 0, IsStale: true, HealthFactorBps: 31_200, QualityOK: true},
		{PegDeviationBps: 0, HasConflict: true, HealthFactorBps: 31_200, QualityOK: true},
	} {
		assert.Equal(t, domain.StatePanic, domain.DetermineState(in, cfg), "%+v", in)
	}
}

func TestDetermineState_Cascade(t *testing.T) {
	cfg := testConfig()

	cases := []struct {
		name string
		in   domain.StateInputs
		want domain.VaultState
	}{
		{"healthy peg loops", healthy(5), domain.StateLoop},
		{"warn breach contracts", healthy(15), domain.StateContract},
		{"exit breach", healthy(30), domain.StateExit},
		{"exactly exit threshold contracts", healthy(25), domain.StateContract},
		{"exactly panic threshold exits", healthy(50), domain.StateExit},
		{"peg equal warn idles", healthy(10), domain.StateIdle},
		{"low health factor contracts", domain.StateInputs{PegDeviationBps: 5, HealthFactorBps: 23_999, QualityOK: true}, domain.StateContract},
		{"health factor at floor loops", domain.StateInputs{PegDeviationBps: 5, HealthFactorBps: 24_000, QualityOK: true}, domain.StateLoop},
		{"poor quality contracts", domain.StateInputs{PegDeviationBps: 5, HealthFactorBps: 31_200}, domain.StateContract},
		{"poor quality with peg at warn contracts", domain.StateInputs{PegDeviationBps: 10, HealthFactorBps: 31_200}, domain.StateContract},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, domain.DetermineState(tc.in, cfg))
		})
	}
}

func TestPanicCause(t *testing.T) {
	cfg := testConfig()
	assert.ErrorIs(t, domain.PanicCause(domain.StateInputs{IsStale: true}, cfg), domain.ErrOracleStale)
	assert.ErrorIs(t, domain.PanicCause(domain.StateInputs{HasConflict: true}, cfg), domain.ErrOracleConflict)
	assert.ErrorIs(t, domain.PanicCause(domain.StateInputs{PegDeviationBps: 51}, cfg), domain.ErrPegBreach)
	assert.NoError(t, domain.PanicCause(healthy(5), cfg))
}

func TestVaultState_String(t *testing.T) {
	assert.Equal(t, "loop", domain.StateLoop.String())
	assert.Equal(t, "panic", domain.StatePanic.String())
	assert.Equal(t, "idle", domain.VaultState(99).String())
}

func TestCooldownGate_CheckRebalance(t *testing.T) {
	g := domain.CooldownGate{CooldownTicks: 100}

	err := g.CheckRebalance(1_000, 1_099)
	assert.ErrorIs(t, err, domain.ErrRebalanceCooldown)

	assert.NoError(t, g.CheckRebalance(1_000, 1_100), "exactamente cooldown ticks pasa")
	assert.NoError(t, g.CheckRebalance(0, 100))
}

func TestCooldownGate_CheckRebalance_OverflowFailsClosed(t *testing.T) {
	g := domain.CooldownGate{CooldownTicks: 10}
	err := g.CheckRebalance(^uint64(0)-5, ^uint64(0))
	assert.ErrorIs(t, err, domain.ErrRebalanceCooldown)
}

func TestCooldownGate_Reexpansion(t *testing.T) {
	g := domain.NewCooldownGate(domain.VaultConfig{ReexpansionDelaySeconds: 30_000})

	unlock, err := g.NextReexpansionUnlock(fixedNow)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Unix()+30_000, unlock)

	assert.ErrorIs(t, g.CheckReexpansion(unlock, fixedNow), domain.ErrReexpansionCooldown)
	assert.ErrorIs(t, g.CheckReexpansion(unlock, fixedNow.Add(29_999*time.Second)), domain.ErrReexpansionCooldown)
	assert.NoError(t, g.CheckReexpansion(unlock, fixedNow.Add(30_000*time.Second)))
	assert.NoError(t, g.CheckReexpansion(0, fixedNow))
}

func TestParseIdentity(t *testing.T) {
	var key [domain.PublicKeyLen]byte
	for i := range key {
		key[i] = byte(i + 1)
	}
	encoded := domain.IdentityFromBytes(key)

	got, err := domain.ParseIdentity(encoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, got)

	_, err = domain.ParseIdentity("")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)

	_, err = domain.ParseIdentity("0OIl") // fuera del alfabeto base58
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)

	_, err = domain.ParseIdentity("3mJr7AoUXx2Wqd") // decodifica a menos de 32 bytes
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
}
