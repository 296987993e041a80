// Package switchboard lee agregadores Switchboard V2 vía RPC.
package switchboard

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/holiman/uint256"
	"github.com/montroy2000/Aegis-Growth/internal/adapters/solana"
	"github.com/montroy2000/Aegis-Growth/internal/domain"
)

// latest_confirmed_round empieza después del discriminator de 8 bytes y
// de 312 bytes de configuración del agregador.
const (
	roundBase = 8 + 312

	offNumSuccess  = roundBase + 0
	offOpenSlot    = roundBase + 16
	offOpenTime    = roundBase + 24
	offResultMant  = roundBase + 32
	offResultScale = roundBase + 48
	offStdDevMant  = roundBase + 52
	offStdDevScale = roundBase + 68

	accountMinLen = roundBase + 72

	// SwitchboardDecimal admite como máximo 28 decimales.
	maxScale = 28
)

var (
	ten    = uint256.NewInt(10)
	maxI64 = uint256.NewInt(math.MaxInt64)
)

// AccountReader lee cuentas on-chain.
type AccountReader interface {
	GetAccountInfo(ctx context.Context, address string) (*solana.AccountInfo, error)
}

// Feed implementa ports.PriceFeed sobre un agregador Switchboard.
type Feed struct {
	name    string
	address string
	rpc     AccountReader
}

// NewFeed crea un feed para el agregador address.
func NewFeed(name, address string, rpc AccountReader) *Feed {
	if name == "" {
		name = "switchboard"
	}
	return &Feed{name: name, address: address, rpc: rpc}
}

func (f *Feed) Name() string { return f.name }

func (f *Feed) Read(ctx context.Context) (domain.FeedPrice, error) {
	info, err := f.rpc.GetAccountInfo(ctx, f.address)
	if err != nil {
		if errors.Is(err, solana.ErrAccountNotFound) {
			return domain.FeedPrice{}, fmt.Errorf("switchboard.Read: %w: %w", domain.ErrOracleUnavailable, err)
		}
		return domain.FeedPrice{}, fmt.Errorf("switchboard.Read: %w", err)
	}
	p, err := ParseAggregator(info.Data)
	if err != nil {
		return domain.FeedPrice{}, fmt.Errorf("switchboard.Read %s: %w", f.address, err)
	}
	p.Source = f.name
	return p, nil
}

// ParseAggregator decodifica la última ronda confirmada. La mantisa i128 se
// reduce a int64 perdiendo decimales si hace falta; la desviación estándar
// se expresa en la misma escala que el precio y se usa como banda de
// confianza.
func ParseAggregator(data []byte) (domain.FeedPrice, error) {
	if len(data) < accountMinLen {
		return domain.FeedPrice{}, fmt.Errorf("%w: aggregator is %d bytes, want >= %d", domain.ErrOracleUnavailable, len(data), accountMinLen)
	}
	le := binary.LittleEndian

	scale := le.Uint32(data[offResultScale:])
	if scale > maxScale {
		return domain.FeedPrice{}, fmt.Errorf("%w: result scale %d", domain.ErrOracleUnavailable, scale)
	}
	mant, neg := readI128(data[offResultMant:])
	for mant.Gt(maxI64) {
		if scale == 0 {
			return domain.FeedPrice{}, fmt.Errorf("switchboard: result: %w", domain.ErrArithmeticOverflow)
		}
		mant.Div(mant, ten)
		scale--
	}
	price := int64(mant.Uint64())
	if neg {
		price = -price
	}

	stdScale := le.Uint32(data[offStdDevScale:])
	if stdScale > maxScale {
		return domain.FeedPrice{}, fmt.Errorf("%w: std deviation scale %d", domain.ErrOracleUnavailable, stdScale)
	}
	std, _ := readI128(data[offStdDevMant:])

	var published time.Time
	if ts := int64(le.Uint64(data[offOpenTime:])); ts > 0 {
		published = time.Unix(ts, 0).UTC()
	}

	return domain.FeedPrice{
		Source:           "switchboard",
		Price:            price,
		Expo:             -int32(scale),
		Conf:             rescale(std, stdScale, scale),
		PublishTime:      published,
		PublishTick:      le.Uint64(data[offOpenSlot:]),
		Confirmations:    le.Uint32(data[offNumSuccess:]),
		HasConfirmations: true,
	}, nil
}

// readI128 lee un i128 little-endian y devuelve su valor absoluto y signo.
func readI128(b []byte) (*uint256.Int, bool) {
	var be [32]byte
	for i := range 16 {
		be[31-i] = b[i]
	}
	neg := b[15]&0x80 != 0
	if neg {
		for i := range 16 {
			be[i] = 0xff
		}
	}
	v := new(uint256.Int).SetBytes32(be[:])
	if neg {
		v.Neg(v)
	}
	return v, neg
}

// rescale lleva v de la escala from a la escala to. Satura en MaxUint64.
func rescale(v *uint256.Int, from, to uint32) uint64 {
	for ; from > to; from-- {
		v.Div(v, ten)
	}
	for ; from < to; from++ {
		if _, overflow := v.MulOverflow(v, ten); overflow {
			return math.MaxUint64
		}
	}
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}
