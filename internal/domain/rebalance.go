package domain

import "time"

// RebalanceRecord es una fila del historial del control loop. Solo se
// registran ejecuciones exitosas.
type RebalanceRecord struct {
	ID              string
	Tick            uint64
	ExecutedAt      time.Time
	State           VaultState
	Borrowed        uint64 // Loop: monto tomado y re-suministrado
	Repaid          uint64 // Contract/Exit: monto redimido y devuelto
	FusedPrice      uint64
	PegDeviationBps uint64
	HealthFactorBps uint64
	LeverageBefore  uint64
	LeverageAfter   uint64
}

// CycleReport resume una invocación del keeper, exitosa o no.
type CycleReport struct {
	At       time.Time
	Tick     uint64
	State    VaultState
	Record   *RebalanceRecord
	Reading  *OracleReading
	Err      error
	Duration time.Duration
}

// TargetBorrow sizes the debt for a leverage target:
// supplied * (leverageBps - 10000) / leverageBps, zero at or below 1.00x.
func TargetBorrow(supplied, leverageBps uint64) (uint64, error) {
	excess := SaturatingSub(leverageBps, BpsDenominator)
	if excess == 0 {
		return 0, nil
	}
	return MulDiv(supplied, excess, leverageBps)
}

// ContractRepay is the slice of debt repaid by a Contract step.
func ContractRepay(borrowed, pct uint64) (uint64, error) {
	return MulDiv(borrowed, pct, 100)
}
