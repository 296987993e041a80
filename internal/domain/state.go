package domain

// VaultState es el estado operativo elegido en cada invocación del control
// loop. Nunca se persiste; solo sus efectos.
type VaultState int

const (
	StateIdle VaultState = iota
	StateLoop
	StateContract
	StateExit
	StatePanic
)

// String implementa fmt.Stringer.
func (s VaultState) String() string {
	switch s {
	case StateLoop:
		return "loop"
	case StateContract:
		return "contract"
	case StateExit:
		return "exit"
	case StatePanic:
		return "panic"
	default:
		return "idle"
	}
}

// StateInputs agrupa las señales que alimentan la decisión.
type StateInputs struct {
	PegDeviationBps uint64
	IsStale         bool
	HasConflict     bool
	HealthFactorBps uint64
	// QualityOK false escala a Contract e impide Loop.
	QualityOK bool
}

// InputsFromReading builds StateInputs from an oracle reading and a health factor.
func InputsFromReading(r OracleReading, healthFactorBps uint64) StateInputs {
	return StateInputs{
		PegDeviationBps: r.PegDeviationBps,
		IsStale:         r.IsStale,
		HasConflict:     r.HasConflict,
		HealthFactorBps: healthFactorBps,
		QualityOK:       r.QualityOK,
	}
}

// DetermineState evalúa la cascada de prioridad; el primer match gana.
//
//  1. Panic    stale, conflicto o peg > panic
//  2. Exit     peg > exit
//  3. Contract peg > warn, hf < floor o calidad del oráculo insuficiente
//  4. Loop     peg < warn y hf >= floor
//  5. Idle     resto (peg == warn con hf sano)
func DetermineState(in StateInputs, cfg VaultConfig) VaultState {
	switch {
	case in.IsStale || in.HasConflict || in.PegDeviationBps > cfg.PegPanicBps:
		return StatePanic
	case in.PegDeviationBps > cfg.PegExitBps:
		return StateExit
	case in.PegDeviationBps > cfg.PegWarnBps ||
		in.HealthFactorBps < cfg.HealthFactorFloorBps ||
		!in.QualityOK:
		return StateContract
	case in.PegDeviationBps < cfg.PegWarnBps:
		return StateLoop
	default:
		return StateIdle
	}
}

// PanicCause maps the inputs that produced Panic to the oracle error that explains it.
func PanicCause(in StateInputs, cfg VaultConfig) error {
	switch {
	case in.IsStale:
		return ErrOracleStale
	case in.HasConflict:
		return ErrOracleConflict
	case in.PegDeviationBps > cfg.PegPanicBps:
		return ErrPegBreach
	default:
		return nil
	}
}
