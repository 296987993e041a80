// Package paper provee implementaciones deterministas del lending venue,
// de los feeds de precio y del reloj para paper mode y tests.
package paper

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
)

// NoDebtHealthFactor es el health factor reportado sin deuda.
const NoDebtHealthFactor = math.MaxUint64

// Venue simula una posición de lending: colateral base más lo suministrado,
// contra la deuda tomada. El health factor es
// (collateral + supplied) * liquidationThreshold / borrowed.
type Venue struct {
	mu                      sync.Mutex
	collateral              uint64
	supplied                uint64
	borrowed                uint64
	liquidationThresholdBps uint64
	fail                    map[string]error
}

// VenueOption configura un Venue.
type VenueOption func(*Venue)

// WithCollateral fija el colateral base depositado en el venue.
func WithCollateral(amount uint64) VenueOption {
	return func(v *Venue) { v.collateral = amount }
}

// WithLiquidationThreshold fija el umbral de liquidación en bps (default 85%).
func WithLiquidationThreshold(bps uint64) VenueOption {
	return func(v *Venue) { v.liquidationThresholdBps = bps }
}

// WithPosition restaura una posición abierta (supplied y borrowed) al
// arrancar sobre un ledger persistido.
func WithPosition(supplied, borrowed uint64) VenueOption {
	return func(v *Venue) { v.supplied, v.borrowed = supplied, borrowed }
}

// NewVenue crea un venue vacío.
func NewVenue(opts ...VenueOption) *Venue {
	v := &Venue{liquidationThresholdBps: 8_500, fail: make(map[string]error)}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// FailOn hace que la próxima llamada a op ("supply", "borrow", "repay",
// "redeem", "health") falle con err.
func (v *Venue) FailOn(op string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fail[op] = err
}

// SetCollateral reemplaza el colateral base (la caja del vault).
func (v *Venue) SetCollateral(amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.collateral = amount
}

// Position devuelve lo suministrado y lo tomado en el venue.
func (v *Venue) Position() (supplied, borrowed uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.supplied, v.borrowed
}

func (v *Venue) Supply(_ context.Context, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure("supply"); err != nil {
		return err
	}
	s, err := domain.CheckedAdd(v.supplied, amount)
	if err != nil {
		return fmt.Errorf("paper.Supply: %w", err)
	}
	v.supplied = s
	return nil
}

func (v *Venue) Borrow(_ context.Context, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure("borrow"); err != nil {
		return err
	}
	b, err := domain.CheckedAdd(v.borrowed, amount)
	if err != nil {
		return fmt.Errorf("paper.Borrow: %w", err)
	}
	v.borrowed = b
	return nil
}

func (v *Venue) Repay(_ context.Context, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure("repay"); err != nil {
		return err
	}
	if amount > v.borrowed {
		return fmt.Errorf("paper.Repay: repaying %d above debt %d", amount, v.borrowed)
	}
	v.borrowed -= amount
	return nil
}

func (v *Venue) Redeem(_ context.Context, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure("redeem"); err != nil {
		return err
	}
	if amount > v.supplied {
		return fmt.Errorf("paper.Redeem: redeeming %d above supplied %d", amount, v.supplied)
	}
	v.supplied -= amount
	return nil
}

func (v *Venue) HealthFactor(_ context.Context) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure("health"); err != nil {
		return 0, err
	}
	if v.borrowed == 0 {
		return NoDebtHealthFactor, nil
	}
	collateral, err := domain.CheckedAdd(v.collateral, v.supplied)
	if err != nil {
		return 0, fmt.Errorf("paper.HealthFactor: %w", err)
	}
	return domain.MulDiv(collateral, v.liquidationThresholdBps, v.borrowed)
}

func (v *Venue) takeFailure(op string) error {
	err, ok := v.fail[op]
	if !ok {
		return nil
	}
	delete(v.fail, op)
	return err
}
