package oracle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- mocks ---

type mockFeed struct {
	name  string
	price domain.FeedPrice
	err   error
	calls int
}

func (m *mockFeed) Name() string { return m.name }

func (m *mockFeed) Read(_ context.Context) (domain.FeedPrice, error) {
	m.calls++
	return m.price, m.err
}

func cfg(conflictBps uint64) oracle.Config {
	return oracle.Config{
		StaleTicks:       150,
		MaxConflictBps:   conflictBps,
		MaxConfidenceBps: 100,
		MinConfirmations: 3,
	}
}

func pythPrice(price int64) domain.FeedPrice {
	return domain.FeedPrice{Source: "pyth", Price: price, Expo: -8, Conf: 10_000, PublishTime: now}
}

func sbPrice(price int64, confirmations uint32) domain.FeedPrice {
	return domain.FeedPrice{
		Source: "switchboard", Price: price, Expo: -6, Conf: 100,
		PublishTick: 10_000, Confirmations: confirmations, HasConfirmations: true,
	}
}

func TestEvaluate_ConflictThreshold(t *testing.T) {
	a := domain.FeedPrice{Source: "a", Price: 9_990, Expo: -4, PublishTime: now}
	b := domain.FeedPrice{Source: "b", Price: 10_015, Expo: -4, PublishTime: now}

	r, err := oracle.Evaluate(cfg(15), now, 0, a, &b)
	require.NoError(t, err)
	assert.True(t, r.HasConflict)
	assert.Equal(t, uint64(24), r.ConflictBps)

	r, err = oracle.Evaluate(cfg(30), now, 0, a, &b)
	require.NoError(t, err)
	assert.False(t, r.HasConflict)
	assert.Equal(t, uint64(1_000_250), r.FusedPrice)
	assert.Equal(t, uint64(2), r.PegDeviationBps)
}

func TestEvaluate_SingleFeedNeverConflicts(t *testing.T) {
	r, err := oracle.Evaluate(cfg(0), now, 0, pythPrice(95_000_000), nil)
	require.NoError(t, err)
	assert.False(t, r.HasConflict)
	assert.Nil(t, r.Secondary)
	assert.Equal(t, uint64(950_000), r.FusedPrice)
	assert.Equal(t, uint64(500), r.PegDeviationBps)
}

func TestEvaluate_StalenessFromWallClock(t *testing.T) {
	p := pythPrice(100_000_000)

	// 60s → 150 ticks: en el umbral, no stale
	p.PublishTime = now.Add(-60 * time.Second)
	r, err := oracle.Evaluate(cfg(30), now, 0, p, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), r.Primary.AgeTicks)
	assert.False(t, r.IsStale)

	p.PublishTime = now.Add(-61 * time.Second)
	r, err = oracle.Evaluate(cfg(30), now, 0, p, nil)
	require.NoError(t, err)
	assert.True(t, r.IsStale)

	p.PublishTime = now.Add(time.Hour)
	r, err = oracle.Evaluate(cfg(30), now, 0, p, nil)
	require.NoError(t, err)
	assert.Zero(t, r.Primary.AgeTicks, "timestamp futuro no es stale")
}

func TestEvaluate_StaleIfEitherFeedStale(t *testing.T) {
	s := sbPrice(1_000_000, 5)
	r, err := oracle.Evaluate(cfg(30), now, 10_151, pythPrice(100_000_000), &s)
	require.NoError(t, err)
	assert.False(t, r.Primary.Stale)
	assert.True(t, r.Secondary.Stale)
	assert.True(t, r.IsStale)
}

func TestEvaluate_RejectsNonPositive(t *testing.T) {
	_, err := oracle.Evaluate(cfg(30), now, 0, pythPrice(0), nil)
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)

	_, err = oracle.Evaluate(cfg(30), now, 0, pythPrice(-1), nil)
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)

	tiny := domain.FeedPrice{Source: "x", Price: 1, Expo: -12, PublishTime: now}
	_, err = oracle.Evaluate(cfg(30), now, 0, tiny, nil)
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}

func TestValidateQuality(t *testing.T) {
	// banda de confianza angosta pasa
	r, err := oracle.Evaluate(cfg(30), now, 10_000, pythPrice(100_000_000), nil)
	require.NoError(t, err)
	assert.True(t, r.QualityOK)

	wide := pythPrice(100_000_000)
	wide.Conf = 1_100_000
	r, err = oracle.Evaluate(cfg(30), now, 10_000, wide, nil)
	require.NoError(t, err)
	assert.False(t, r.QualityOK)
	assert.Contains(t, r.QualityIssue, "confidence")

	few := sbPrice(1_000_000, 2)
	r, err = oracle.Evaluate(cfg(30), now, 10_000, pythPrice(100_000_000), &few)
	require.NoError(t, err)
	assert.False(t, r.QualityOK)
	assert.Contains(t, r.QualityIssue, "confirmations")

	enough := sbPrice(1_000_000, 3)
	r, err = oracle.Evaluate(cfg(30), now, 10_000, pythPrice(100_000_000), &enough)
	require.NoError(t, err)
	assert.True(t, r.QualityOK)
}

func TestAggregator_Read(t *testing.T) {
	primary := &mockFeed{name: "pyth", price: pythPrice(99_950_000)}
	secondary := &mockFeed{name: "switchboard", price: sbPrice(999_700, 4)}

	agg, err := oracle.New(cfg(30), primary, secondary)
	require.NoError(t, err)

	r, err := agg.Read(context.Background(), now, 10_010)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
	assert.Equal(t, uint64(999_600), r.FusedPrice)
	assert.Equal(t, uint64(4), r.PegDeviationBps)
	assert.Equal(t, uint64(10), r.Secondary.AgeTicks)
}

func TestAggregator_Read_FeedErrorIsUnavailable(t *testing.T) {
	primary := &mockFeed{name: "pyth", err: errors.New("rpc down")}
	agg, err := oracle.New(cfg(30), primary, nil)
	require.NoError(t, err)

	_, err = agg.Read(context.Background(), now, 1)
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
	assert.Contains(t, err.Error(), "rpc down")
}

func TestNew_RequiresPrimary(t *testing.T) {
	_, err := oracle.New(cfg(30), nil, nil)
	assert.Error(t, err)
}
