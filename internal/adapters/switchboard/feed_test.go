package switchboard_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/montroy2000/Aegis-Growth/internal/adapters/solana"
	"github.com/montroy2000/Aegis-Growth/internal/adapters/switchboard"
	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = 8 + 312

type round struct {
	numSuccess uint32
	openSlot   uint64
	openTime   int64
	mantissa   *big.Int
	scale      uint32
	stdDev     *big.Int
	stdScale   uint32
}

func putI128(b []byte, v *big.Int) {
	x := new(big.Int).Set(v)
	if x.Sign() < 0 {
		x.Add(x, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	var be [16]byte
	x.FillBytes(be[:])
	for i := range 16 {
		b[i] = be[15-i]
	}
}

func (r round) bytes() []byte {
	b := make([]byte, 3851)
	le := binary.LittleEndian
	le.PutUint32(b[base:], r.numSuccess)
	le.PutUint64(b[base+16:], r.openSlot)
	le.PutUint64(b[base+24:], uint64(r.openTime))
	putI128(b[base+32:], r.mantissa)
	le.PutUint32(b[base+48:], r.scale)
	putI128(b[base+52:], r.stdDev)
	le.PutUint32(b[base+68:], r.stdScale)
	return b
}

func usdc() round {
	return round{
		numSuccess: 5,
		openSlot:   390_000_123,
		openTime:   1_767_225_600,
		mantissa:   big.NewInt(10_001),
		scale:      4,
		stdDev:     big.NewInt(2),
		stdScale:   4,
	}
}

func TestParseAggregator(t *testing.T) {
	p, err := switchboard.ParseAggregator(usdc().bytes())
	require.NoError(t, err)
	assert.Equal(t, int64(10_001), p.Price)
	assert.Equal(t, int32(-4), p.Expo)
	assert.Equal(t, uint64(2), p.Conf)
	assert.Equal(t, uint64(390_000_123), p.PublishTick)
	assert.True(t, time.Unix(1_767_225_600, 0).Equal(p.PublishTime))
	assert.True(t, p.HasConfirmations)
	assert.Equal(t, uint32(5), p.Confirmations)

	normalized, err := domain.NormalizePrice(p.Price, p.Expo)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_100), normalized)
}

func TestParseAggregator_WideMantissaLosesPrecision(t *testing.T) {
	r := usdc()
	r.mantissa, _ = new(big.Int).SetString("10000000000000000000000000", 10) // 1.0 con 25 decimales
	r.scale = 25
	r.stdDev, _ = new(big.Int).SetString("300000000000000000000", 10) // 0.00003
	r.stdScale = 25

	p, err := switchboard.ParseAggregator(r.bytes())
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000_000_000_000), p.Price)
	assert.Equal(t, int32(-18), p.Expo)
	assert.Equal(t, uint64(30_000_000_000_000), p.Conf)

	normalized, err := domain.NormalizePrice(p.Price, p.Expo)
	require.NoError(t, err)
	assert.Equal(t, domain.PegPrice, normalized)
}

func TestParseAggregator_StdDevRescaledUp(t *testing.T) {
	r := usdc()
	r.stdDev = big.NewInt(1)
	r.stdScale = 2 // 0.01 → 100 en escala 4

	p, err := switchboard.ParseAggregator(r.bytes())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), p.Conf)
}

func TestParseAggregator_Negative(t *testing.T) {
	r := usdc()
	r.mantissa = big.NewInt(-5)

	p, err := switchboard.ParseAggregator(r.bytes())
	require.NoError(t, err)
	assert.Equal(t, int64(-5), p.Price)
}

func TestParseAggregator_Rejects(t *testing.T) {
	_, err := switchboard.ParseAggregator(make([]byte, base+40))
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)

	r := usdc()
	r.scale = 40
	_, err = switchboard.ParseAggregator(r.bytes())
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}

func TestFeed_Read(t *testing.T) {
	f := switchboard.NewFeed("", "agg", &mockRPC{data: usdc().bytes()})
	p, err := f.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "switchboard", p.Source)

	f = switchboard.NewFeed("sb", "agg", &mockRPC{err: errors.New("connection reset")})
	_, err = f.Read(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrOracleUnavailable, "el agregador envuelve errores de transporte")
}

// --- mocks ---

type mockRPC struct {
	data []byte
	err  error
}

func (m *mockRPC) GetAccountInfo(_ context.Context, _ string) (*solana.AccountInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &solana.AccountInfo{Data: m.data}, nil
}
