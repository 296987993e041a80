package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/ports"
)

// Outcome es el resultado de una invocación del control loop.
type Outcome struct {
	Tick    uint64
	State   domain.VaultState
	Reading *domain.OracleReading
	Record  *domain.RebalanceRecord
}

// Rebalance ejecuta una invocación del control loop:
// cooldown → oráculo → health factor → estado → ledger → acción en el venue.
//
// El ledger se escribe antes de mover capital y los movimientos corren al
// final de la transacción. Si algo falla después de un movimiento (la
// segunda pata o el commit), los movimientos ya hechos se revierten en
// orden inverso.
//
// Si el estado es Panic la invocación falla con domain.ErrVaultHalted sin
// mover capital ni avanzar el tick, y luego el vault queda detenido hasta
// que la authority llame a Resume. Cualquier otro error deja el vault como
// estaba.
func (s *Service) Rebalance(ctx context.Context) (*Outcome, error) {
	start := time.Now()
	now := s.clock.Now().UTC()
	tick, err := s.clock.Tick(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault.Rebalance: read tick: %w", err)
	}

	out := &Outcome{Tick: tick}
	var snapshot domain.Vault
	var liquidity uint64
	var panicked, decided bool
	var done []venueLeg

	err = s.store.Update(ctx, func(tx ports.VaultTx) error {
		// 1. Estado del vault
		v, err := tx.LoadVault(ctx)
		if err != nil {
			return fmt.Errorf("load vault: %w", err)
		}
		if v.Halted {
			return fmt.Errorf("%w: %s", domain.ErrVaultHalted, v.HaltReason)
		}

		// 2. Rate limit por ticks
		gate := domain.NewCooldownGate(v.Config)
		if err := gate.CheckRebalance(v.LastRebalanceTick, tick); err != nil {
			return err
		}

		// 3. Oráculo
		reading, err := s.oracle.Read(ctx, now, tick)
		if err != nil {
			return err
		}
		out.Reading = &reading
		s.metrics.ObserveOracle(reading)
		if !reading.QualityOK {
			slog.Warn("vault: oracle quality below threshold, loop blocked", "issue", reading.QualityIssue)
		}

		// 4. Health factor
		hf, err := s.venue.HealthFactor(ctx)
		if err != nil {
			return fmt.Errorf("health factor: %w: %w", domain.ErrVenue, err)
		}
		s.metrics.ObserveHealthFactor(hf)

		// 5. Estado
		in := domain.InputsFromReading(reading, hf)
		state := domain.DetermineState(in, v.Config)
		out.State, decided = state, true

		rec := &domain.RebalanceRecord{
			ID:              s.newID(),
			Tick:            tick,
			ExecutedAt:      now.Truncate(time.Second),
			State:           state,
			FusedPrice:      reading.FusedPrice,
			PegDeviationBps: reading.PegDeviationBps,
			HealthFactorBps: hf,
			LeverageBefore:  v.LeverageBps(),
		}

		// 6. Plan: el ledger avanza, el capital todavía no se movió
		var legs []venueLeg
		switch state {
		case domain.StatePanic:
			panicked = true
			return fmt.Errorf("%w: %w", domain.ErrVaultHalted, domain.PanicCause(in, v.Config))
		case domain.StateExit:
			legs, err = s.unwind(v, rec)
		case domain.StateContract:
			legs, err = s.contract(v, gate, now, rec)
		case domain.StateLoop:
			if err := gate.CheckReexpansion(v.ReexpansionUnlockedAt, now); err != nil {
				return err
			}
			legs, err = s.expand(v, rec)
		}
		if err != nil {
			return err
		}

		// 7. Ledger y reloj
		v.LastRebalanceTick = tick
		rec.LeverageAfter = v.LeverageBps()
		if err := tx.SaveVault(ctx, v); err != nil {
			return err
		}
		if err := tx.RecordRebalance(ctx, *rec); err != nil {
			return err
		}
		if liquidity, err = tx.Tokens().VaultBalance(ctx); err != nil {
			return err
		}

		// 8. Capital
		for _, leg := range legs {
			if err := leg.do(ctx, leg.amount); err != nil {
				return fmt.Errorf("%s %d: %w: %w", leg.op, leg.amount, domain.ErrVenue, err)
			}
			done = append(done, leg)
		}

		out.Record = rec
		snapshot = *v
		return nil
	})

	label := "none"
	if decided {
		label = out.State.String()
	}
	s.metrics.ObserveRebalance(label, err, time.Since(start))
	if err != nil {
		s.revert(ctx, done)
		out.Record = nil
		if panicked && errors.Is(err, domain.ErrVaultHalted) {
			s.latchHalt(ctx, err.Error())
		}
		return out, fmt.Errorf("vault.Rebalance: %w", err)
	}

	s.metrics.ObserveVault(&snapshot, liquidity)
	slog.Info("vault: rebalance",
		"tick", tick,
		"state", out.State,
		"peg_bps", out.Record.PegDeviationBps,
		"hf_bps", out.Record.HealthFactorBps,
		"borrowed", out.Record.Borrowed,
		"repaid", out.Record.Repaid,
		"leverage_bps", out.Record.LeverageAfter,
	)
	return out, nil
}

// venueLeg es un movimiento de capital y su inverso.
type venueLeg struct {
	op     string
	amount uint64
	do     func(context.Context, uint64) error
	undoOp string
	undo   func(context.Context, uint64) error
}

// expand toma deuda hasta el leverage objetivo y la re-suministra.
func (s *Service) expand(v *domain.Vault, rec *domain.RebalanceRecord) ([]venueLeg, error) {
	target, err := domain.TargetBorrow(v.TotalSupplied, v.Config.MaxLeverageBps)
	if err != nil {
		return nil, fmt.Errorf("target borrow: %w", err)
	}
	if target <= v.TotalBorrowed {
		return nil, nil
	}
	delta := target - v.TotalBorrowed

	supplied, err := domain.CheckedAdd(v.TotalSupplied, delta)
	if err != nil {
		return nil, fmt.Errorf("loop supplied: %w", err)
	}
	borrowed, err := domain.CheckedAdd(v.TotalBorrowed, delta)
	if err != nil {
		return nil, fmt.Errorf("loop borrowed: %w", err)
	}

	v.TotalSupplied, v.TotalBorrowed = supplied, borrowed
	rec.Borrowed = delta
	return []venueLeg{
		{op: "borrow", amount: delta, do: s.venue.Borrow, undoOp: "repay", undo: s.venue.Repay},
		{op: "supply", amount: delta, do: s.venue.Supply, undoOp: "redeem", undo: s.venue.Redeem},
	}, nil
}

// contract devuelve un porcentaje de la deuda y bloquea la re-expansión.
func (s *Service) contract(v *domain.Vault, gate domain.CooldownGate, now time.Time, rec *domain.RebalanceRecord) ([]venueLeg, error) {
	unlock, err := gate.NextReexpansionUnlock(now)
	if err != nil {
		return nil, fmt.Errorf("re-expansion unlock: %w", err)
	}
	repay, err := domain.ContractRepay(v.TotalBorrowed, v.Config.ContractReductionPct)
	if err != nil {
		return nil, fmt.Errorf("contract repay: %w", err)
	}

	var legs []venueLeg
	if repay > 0 {
		if legs, err = s.deleverage(v, repay); err != nil {
			return nil, err
		}
	}

	v.ReexpansionUnlockedAt = unlock
	rec.Repaid = repay
	return legs, nil
}

// unwind redime todo lo re-suministrado y cancela toda la deuda.
func (s *Service) unwind(v *domain.Vault, rec *domain.RebalanceRecord) ([]venueLeg, error) {
	repay := v.TotalBorrowed
	if repay == 0 {
		return nil, nil
	}
	legs, err := s.deleverage(v, repay)
	if err != nil {
		return nil, err
	}
	rec.Repaid = repay
	return legs, nil
}

func (s *Service) deleverage(v *domain.Vault, amount uint64) ([]venueLeg, error) {
	supplied, err := domain.CheckedSub(v.TotalSupplied, amount)
	if err != nil {
		return nil, fmt.Errorf("deleverage supplied: %w", err)
	}
	borrowed, err := domain.CheckedSub(v.TotalBorrowed, amount)
	if err != nil {
		return nil, fmt.Errorf("deleverage borrowed: %w", err)
	}

	v.TotalSupplied, v.TotalBorrowed = supplied, borrowed
	return []venueLeg{
		{op: "redeem", amount: amount, do: s.venue.Redeem, undoOp: "supply", undo: s.venue.Supply},
		{op: "repay", amount: amount, do: s.venue.Repay, undoOp: "borrow", undo: s.venue.Borrow},
	}, nil
}

// revert deshace, en orden inverso, los movimientos de una invocación que
// no llegó a persistirse, para que el venue vuelva a coincidir con el ledger.
func (s *Service) revert(ctx context.Context, done []venueLeg) {
	for i := len(done) - 1; i >= 0; i-- {
		leg := done[i]
		if err := leg.undo(ctx, leg.amount); err != nil {
			slog.Error("vault: venue compensation failed, ledger and venue diverge",
				"op", leg.undoOp, "amount", leg.amount, "err", err)
			continue
		}
		slog.Warn("vault: venue action compensated", "op", leg.undoOp, "amount", leg.amount)
	}
}
