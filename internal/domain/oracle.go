package domain

import (
	"fmt"
	"time"
)

const (
	// PriceDecimals is the fixed exponent every feed price is rescaled to.
	PriceDecimals = 6
	// PegPrice is 1.000000 at PriceDecimals.
	PegPrice uint64 = 1_000_000
)

// FeedPrice is a raw observation from one price feed, in the feed's native
// exponent. PublishTick is zero when the feed only reports wall-clock time.
type FeedPrice struct {
	Source           string
	Price            int64
	Expo             int32
	Conf             uint64
	PublishTime      time.Time
	PublishTick      uint64
	Confirmations    uint32
	HasConfirmations bool
}

// FeedReading is one feed after normalization and staleness evaluation.
type FeedReading struct {
	Source           string
	Price            uint64 // PriceDecimals
	Confidence       uint64 // PriceDecimals
	AgeTicks         uint64
	Stale            bool
	Confirmations    uint32
	HasConfirmations bool
}

// OracleReading es el resultado fusionado de uno o dos feeds para un tick.
type OracleReading struct {
	Primary         FeedReading
	Secondary       *FeedReading
	FusedPrice      uint64
	IsStale         bool
	HasConflict     bool
	ConflictBps     uint64
	PegDeviationBps uint64
	QualityOK       bool
	QualityIssue    string
}

var pow10 = [...]uint64{
	1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000, 100_000_000,
	1_000_000_000, 10_000_000_000, 100_000_000_000, 1_000_000_000_000,
	10_000_000_000_000, 100_000_000_000_000, 1_000_000_000_000_000,
	10_000_000_000_000_000, 100_000_000_000_000_000, 1_000_000_000_000_000_000,
	10_000_000_000_000_000_000,
}

// NormalizePrice rescales price*10^expo to PriceDecimals using integer math.
// Non-positive prices fail with ErrOracleUnavailable.
func NormalizePrice(price int64, expo int32) (uint64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %d", ErrOracleUnavailable, price)
	}
	return NormalizeAmount(uint64(price), expo)
}

// NormalizeAmount rescales an unsigned value (a price or its confidence
// interval) from exponent expo to PriceDecimals. Scaling down truncates.
func NormalizeAmount(v uint64, expo int32) (uint64, error) {
	shift := int64(expo) + PriceDecimals
	switch {
	case shift == 0:
		return v, nil
	case shift > 0:
		if shift >= int64(len(pow10)) {
			if v == 0 {
				return 0, nil
			}
			return 0, fmt.Errorf("%w: exponent %d", ErrArithmeticOverflow, expo)
		}
		return MulDiv(v, pow10[shift], 1)
	default:
		if -shift >= int64(len(pow10)) {
			return 0, nil
		}
		return v / pow10[-shift], nil
	}
}

// ConflictBps returns |a-b| * 10000 / avg(a, b).
func ConflictBps(a, b uint64) (uint64, error) {
	avg, err := Average(a, b)
	if err != nil {
		return 0, err
	}
	return MulDiv(AbsDiff(a, b), BpsDenominator, avg)
}

// Average is floor((a+b)/2) without overflow.
func Average(a, b uint64) (uint64, error) {
	avg := a/2 + b/2 + (a%2+b%2)/2
	if avg == 0 {
		return 0, fmt.Errorf("%w: zero average price", ErrArithmeticOverflow)
	}
	return avg, nil
}

// PegDeviationBps returns |price - 1.000000| * 10000 / 1.000000.
func PegDeviationBps(price uint64) (uint64, error) {
	return MulDiv(AbsDiff(price, PegPrice), BpsDenominator, PegPrice)
}

// ConfidenceBps returns conf/price in basis points.
func ConfidenceBps(conf, price uint64) (uint64, error) {
	return MulDiv(conf, BpsDenominator, price)
}
