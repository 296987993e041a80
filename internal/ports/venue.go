package ports

import "context"

// LendingVenue ejecuta los movimientos de capital decididos por el control
// loop. Cualquier error significa que la acción no ocurrió.
type LendingVenue interface {
	Supply(ctx context.Context, amount uint64) error
	Borrow(ctx context.Context, amount uint64) error
	Repay(ctx context.Context, amount uint64) error
	Redeem(ctx context.Context, amount uint64) error

	// HealthFactor devuelve el health factor de la posición en bps (10000 = 1.00x).
	HealthFactor(ctx context.Context) (uint64, error)
}
