// Package pyth lee cuentas de precio Pyth (formato legacy v2) vía RPC.
package pyth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/montroy2000/Aegis-Growth/internal/adapters/solana"
	"github.com/montroy2000/Aegis-Growth/internal/domain"
)

// Offsets de la cuenta de precio, little-endian.
const (
	magic = 0xa1b2c3d4

	offMagic     = 0
	offExpo      = 20
	offTimestamp = 96
	offAggPrice  = 208
	offAggConf   = 216
	offAggStatus = 224

	accountMinLen = 240 // fin del precio agregado
)

// statusTrading es el único estado con un precio agregado utilizable.
const statusTrading = 1

// AccountReader lee cuentas on-chain.
type AccountReader interface {
	GetAccountInfo(ctx context.Context, address string) (*solana.AccountInfo, error)
}

// Feed implementa ports.PriceFeed sobre una cuenta de precio Pyth.
type Feed struct {
	name    string
	address string
	rpc     AccountReader
}

// NewFeed crea un feed para la cuenta address.
func NewFeed(name, address string, rpc AccountReader) *Feed {
	if name == "" {
		name = "pyth"
	}
	return &Feed{name: name, address: address, rpc: rpc}
}

func (f *Feed) Name() string { return f.name }

// Read devuelve el precio agregado actual. Un agregado fuera de estado
// trading se reporta como domain.ErrOracleUnavailable.
func (f *Feed) Read(ctx context.Context) (domain.FeedPrice, error) {
	info, err := f.rpc.GetAccountInfo(ctx, f.address)
	if err != nil {
		if errors.Is(err, solana.ErrAccountNotFound) {
			return domain.FeedPrice{}, fmt.Errorf("pyth.Read: %w: %w", domain.ErrOracleUnavailable, err)
		}
		return domain.FeedPrice{}, fmt.Errorf("pyth.Read: %w", err)
	}
	p, err := ParsePriceAccount(info.Data)
	if err != nil {
		return domain.FeedPrice{}, fmt.Errorf("pyth.Read %s: %w", f.address, err)
	}
	p.Source = f.name
	return p, nil
}

// ParsePriceAccount decodifica el precio agregado de una cuenta Pyth.
// La antigüedad se mide por timestamp, no por slot.
func ParsePriceAccount(data []byte) (domain.FeedPrice, error) {
	if len(data) < accountMinLen {
		return domain.FeedPrice{}, fmt.Errorf("%w: account is %d bytes, want >= %d", domain.ErrOracleUnavailable, len(data), accountMinLen)
	}
	le := binary.LittleEndian
	if m := le.Uint32(data[offMagic:]); m != magic {
		return domain.FeedPrice{}, fmt.Errorf("%w: bad magic %#x", domain.ErrOracleUnavailable, m)
	}
	if st := le.Uint32(data[offAggStatus:]); st != statusTrading {
		return domain.FeedPrice{}, fmt.Errorf("%w: aggregate status %d is not trading", domain.ErrOracleUnavailable, st)
	}

	ts := int64(le.Uint64(data[offTimestamp:]))
	var published time.Time
	if ts > 0 {
		published = time.Unix(ts, 0).UTC()
	}

	return domain.FeedPrice{
		Source:      "pyth",
		Price:       int64(le.Uint64(data[offAggPrice:])),
		Expo:        int32(le.Uint32(data[offExpo:])),
		Conf:        le.Uint64(data[offAggConf:]),
		PublishTime: published,
	}, nil
}
