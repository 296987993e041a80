// Package chainlink lee un AggregatorV3 de Chainlink en una red EVM. Sirve
// como feed de precio secundario alternativo a Switchboard.
package chainlink

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/montroy2000/Aegis-Growth/internal/domain"
)

var aggregatorABI abi.ABI

func init() {
	var err error
	aggregatorABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "decimals",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "uint8"}]
		},
		{
			"name": "latestRoundData",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [
				{"name": "roundId", "type": "uint80"},
				{"name": "answer", "type": "int256"},
				{"name": "startedAt", "type": "uint256"},
				{"name": "updatedAt", "type": "uint256"},
				{"name": "answeredInRound", "type": "uint80"}
			]
		}
	]`))
	if err != nil {
		panic("aggregator abi parse: " + err.Error())
	}
}

// Feed implementa ports.PriceFeed sobre un AggregatorV3.
type Feed struct {
	name    string
	address common.Address
	caller  ethereum.ContractCaller

	mu       sync.Mutex
	decimals *uint8
}

// NewFeed crea un feed que consulta address a través de caller.
func NewFeed(name, address string, caller ethereum.ContractCaller) (*Feed, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("chainlink.NewFeed: invalid address %q", address)
	}
	if name == "" {
		name = "chainlink"
	}
	return &Feed{name: name, address: common.HexToAddress(address), caller: caller}, nil
}

// Dial conecta al RPC EVM y crea el feed.
func Dial(ctx context.Context, rpcURL, name, address string) (*Feed, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chainlink: dial rpc %s: %w", rpcURL, err)
	}
	f, err := NewFeed(name, address, client)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return f, client.Close, nil
}

func (f *Feed) Name() string { return f.name }

// Read devuelve la última ronda. Una ronda respondida en una ronda anterior
// o sin updatedAt se reporta como domain.ErrOracleUnavailable.
func (f *Feed) Read(ctx context.Context) (domain.FeedPrice, error) {
	dec, err := f.loadDecimals(ctx)
	if err != nil {
		return domain.FeedPrice{}, fmt.Errorf("chainlink.Read: decimals: %w", err)
	}

	out, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return domain.FeedPrice{}, fmt.Errorf("chainlink.Read: latestRoundData: %w", err)
	}
	if len(out) != 5 {
		return domain.FeedPrice{}, fmt.Errorf("chainlink.Read: unexpected %d outputs", len(out))
	}
	roundID, _ := out[0].(*big.Int)
	answer, _ := out[1].(*big.Int)
	updatedAt, _ := out[3].(*big.Int)
	answeredIn, _ := out[4].(*big.Int)
	if roundID == nil || answer == nil || updatedAt == nil || answeredIn == nil {
		return domain.FeedPrice{}, fmt.Errorf("chainlink.Read: malformed round data")
	}

	if updatedAt.Sign() == 0 {
		return domain.FeedPrice{}, fmt.Errorf("chainlink.Read: %w: round %s incomplete", domain.ErrOracleUnavailable, roundID)
	}
	if answeredIn.Cmp(roundID) < 0 {
		return domain.FeedPrice{}, fmt.Errorf("chainlink.Read: %w: round %s answered in %s", domain.ErrOracleUnavailable, roundID, answeredIn)
	}

	price, expo, err := fitInt64(answer, -int32(dec))
	if err != nil {
		return domain.FeedPrice{}, fmt.Errorf("chainlink.Read: answer: %w", err)
	}
	var published time.Time
	if updatedAt.IsInt64() {
		published = time.Unix(updatedAt.Int64(), 0).UTC()
	}

	return domain.FeedPrice{
		Source:      f.name,
		Price:       price,
		Expo:        expo,
		PublishTime: published,
	}, nil
}

func (f *Feed) loadDecimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decimals != nil {
		return *f.decimals, nil
	}
	out, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("unexpected %d outputs", len(out))
	}
	dec, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", out[0])
	}
	f.decimals = &dec
	return dec, nil
}

func (f *Feed) call(ctx context.Context, method string) ([]any, error) {
	data, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &f.address, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return aggregatorABI.Unpack(method, raw)
}

// fitInt64 reduce v a int64 bajando la precisión de a un decimal.
func fitInt64(v *big.Int, expo int32) (int64, int32, error) {
	x := new(big.Int).Set(v)
	ten := big.NewInt(10)
	for !x.IsInt64() {
		if expo == math.MaxInt32 {
			return 0, 0, domain.ErrArithmeticOverflow
		}
		x.Quo(x, ten)
		expo++
	}
	return x.Int64(), expo, nil
}
