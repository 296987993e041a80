package domain

import "errors"

// Errores estables del vault. Los callers los comparan con errors.Is;
// las capas superiores los envuelven con contexto usando %w.
var (
	// ErrVaultHalted se devuelve cuando el control loop llega a Panic o cuando
	// el vault quedó detenido. Solo el retiro sigue permitido.
	ErrVaultHalted = errors.New("vault halted")

	ErrRebalanceCooldown   = errors.New("rebalance cooldown active")
	ErrReexpansionCooldown = errors.New("re-expansion cooldown active")

	ErrOracleUnavailable = errors.New("oracle price unavailable")
	ErrOracleStale       = errors.New("oracle price stale")
	ErrOracleConflict    = errors.New("oracle price conflict")
	ErrPegBreach         = errors.New("peg deviation above panic threshold")

	ErrInsufficientEquity = errors.New("insufficient equity")
	ErrInsufficientFunds  = errors.New("insufficient token balance")
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	ErrInvalidLeverage     = errors.New("invalid max leverage")
	ErrInvalidHealthFactor = errors.New("invalid health factor floor")
	ErrInvalidConfig       = errors.New("invalid vault config")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidIdentity     = errors.New("invalid identity")

	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotInitialized     = errors.New("vault not initialized")
	ErrAlreadyInitialized = errors.New("vault already initialized")

	// ErrVenue marca cualquier fallo del lending venue: la acción no ocurrió.
	ErrVenue = errors.New("lending venue action failed")
)
