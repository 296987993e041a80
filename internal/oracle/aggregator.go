// Package oracle fusiona uno o dos feeds de precio en una lectura única con
// staleness, conflicto entre feeds, desvío del peg y control de calidad.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/ports"
)

// Un tick equivale a un slot de 400ms: segundos * 10 / 4.
const (
	ticksPerSecondNum = 10
	ticksPerSecondDen = 4
)

// Config contiene los umbrales del agregador.
type Config struct {
	StaleTicks       uint64
	MaxConflictBps   uint64
	MaxConfidenceBps uint64
	MinConfirmations uint32
}

// ConfigFromVault extrae los umbrales del bloque de configuración del vault.
func ConfigFromVault(cfg domain.VaultConfig) Config {
	return Config{
		StaleTicks:       cfg.OracleStaleTicks,
		MaxConflictBps:   cfg.MaxConflictBps,
		MaxConfidenceBps: cfg.MaxConfidenceBps,
		MinConfirmations: cfg.MinConfirmations,
	}
}

// Aggregator lee los feeds configurados y produce un domain.OracleReading.
type Aggregator struct {
	cfg       Config
	primary   ports.PriceFeed
	secondary ports.PriceFeed // nil en modo de un solo feed
}

// New crea un Aggregator. secondary puede ser nil.
func New(cfg Config, primary, secondary ports.PriceFeed) (*Aggregator, error) {
	if primary == nil {
		return nil, fmt.Errorf("oracle.New: primary feed required")
	}
	return &Aggregator{cfg: cfg, primary: primary, secondary: secondary}, nil
}

// Read consulta los feeds y evalúa la lectura para el instante y tick dados.
func (a *Aggregator) Read(ctx context.Context, now time.Time, tick uint64) (domain.OracleReading, error) {
	primary, err := readFeed(ctx, a.primary)
	if err != nil {
		return domain.OracleReading{}, err
	}

	var secondary *domain.FeedPrice
	if a.secondary != nil {
		p, err := readFeed(ctx, a.secondary)
		if err != nil {
			return domain.OracleReading{}, err
		}
		secondary = &p
	}

	return Evaluate(a.cfg, now, tick, primary, secondary)
}

func readFeed(ctx context.Context, feed ports.PriceFeed) (domain.FeedPrice, error) {
	p, err := feed.Read(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrOracleUnavailable) || errors.Is(err, domain.ErrArithmeticOverflow) {
			return domain.FeedPrice{}, fmt.Errorf("oracle.Read: %s: %w", feed.Name(), err)
		}
		return domain.FeedPrice{}, fmt.Errorf("oracle.Read: %s: %w: %w", feed.Name(), domain.ErrOracleUnavailable, err)
	}
	if p.Source == "" {
		p.Source = feed.Name()
	}
	return p, nil
}

// Evaluate es la parte pura del agregador: normaliza, mide staleness,
// conflicto y peg, y aplica el control de calidad.
func Evaluate(cfg Config, now time.Time, tick uint64, primary domain.FeedPrice, secondary *domain.FeedPrice) (domain.OracleReading, error) {
	p, err := evaluateFeed(cfg, now, tick, primary)
	if err != nil {
		return domain.OracleReading{}, err
	}

	reading := domain.OracleReading{
		Primary:    p,
		FusedPrice: p.Price,
		IsStale:    p.Stale,
	}

	if secondary != nil {
		s, err := evaluateFeed(cfg, now, tick, *secondary)
		if err != nil {
			return domain.OracleReading{}, err
		}
		reading.Secondary = &s
		reading.IsStale = p.Stale || s.Stale

		fused, err := domain.Average(p.Price, s.Price)
		if err != nil {
			return domain.OracleReading{}, fmt.Errorf("oracle.Evaluate: fuse: %w", err)
		}
		conflict, err := domain.ConflictBps(p.Price, s.Price)
		if err != nil {
			return domain.OracleReading{}, fmt.Errorf("oracle.Evaluate: conflict: %w", err)
		}
		reading.FusedPrice = fused
		reading.ConflictBps = conflict
		reading.HasConflict = conflict > cfg.MaxConflictBps
	}

	peg, err := domain.PegDeviationBps(reading.FusedPrice)
	if err != nil {
		return domain.OracleReading{}, fmt.Errorf("oracle.Evaluate: peg deviation: %w", err)
	}
	reading.PegDeviationBps = peg

	reading.QualityOK, reading.QualityIssue = ValidateQuality(cfg, reading)
	return reading, nil
}

func evaluateFeed(cfg Config, now time.Time, tick uint64, fp domain.FeedPrice) (domain.FeedReading, error) {
	price, err := domain.NormalizePrice(fp.Price, fp.Expo)
	if err != nil {
		return domain.FeedReading{}, fmt.Errorf("oracle.Evaluate: %s: %w", fp.Source, err)
	}
	if price == 0 {
		return domain.FeedReading{}, fmt.Errorf("oracle.Evaluate: %s: %w: price below 1e-%d", fp.Source, domain.ErrOracleUnavailable, domain.PriceDecimals)
	}
	conf, err := domain.NormalizeAmount(fp.Conf, fp.Expo)
	if err != nil {
		return domain.FeedReading{}, fmt.Errorf("oracle.Evaluate: %s: confidence: %w", fp.Source, err)
	}

	age := AgeTicks(fp, now, tick)
	return domain.FeedReading{
		Source:           fp.Source,
		Price:            price,
		Confidence:       conf,
		AgeTicks:         age,
		Stale:            age > cfg.StaleTicks,
		Confirmations:    fp.Confirmations,
		HasConfirmations: fp.HasConfirmations,
	}, nil
}

// AgeTicks mide la antigüedad del precio en ticks. Si el feed publica un
// slot se usa la diferencia de slots; si no, los segundos transcurridos se
// convierten a ticks. Timestamps futuros cuentan como edad cero.
func AgeTicks(fp domain.FeedPrice, now time.Time, tick uint64) uint64 {
	if fp.PublishTick > 0 {
		return domain.SaturatingSub(tick, fp.PublishTick)
	}
	if fp.PublishTime.IsZero() {
		return ^uint64(0)
	}
	elapsed := now.Unix() - fp.PublishTime.Unix()
	if elapsed <= 0 {
		return 0
	}
	ticks, err := domain.MulDiv(uint64(elapsed), ticksPerSecondNum, ticksPerSecondDen)
	if err != nil {
		return ^uint64(0)
	}
	return ticks
}

// ValidateQuality devuelve false cuando algún feed reporta una incertidumbre
// mayor a MaxConfidenceBps de su precio, o cuando el feed secundario tiene
// menos confirmaciones que MinConfirmations.
func ValidateQuality(cfg Config, r domain.OracleReading) (bool, string) {
	feeds := []domain.FeedReading{r.Primary}
	if r.Secondary != nil {
		feeds = append(feeds, *r.Secondary)
	}
	for _, f := range feeds {
		bps, err := domain.ConfidenceBps(f.Confidence, f.Price)
		if err != nil || bps > cfg.MaxConfidenceBps {
			return false, fmt.Sprintf("%s confidence %d bps above %d", f.Source, bps, cfg.MaxConfidenceBps)
		}
	}
	if s := r.Secondary; s != nil && s.HasConfirmations && s.Confirmations < cfg.MinConfirmations {
		return false, fmt.Sprintf("%s has %d confirmations, need %d", s.Source, s.Confirmations, cfg.MinConfirmations)
	}
	return true, ""
}
