// Package keeper dispara el control loop del vault a intervalos regulares y
// reporta cada invocación.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/ports"
	"github.com/montroy2000/Aegis-Growth/internal/vault"
)

// Rebalancer es la operación que el keeper invoca en cada ciclo.
type Rebalancer interface {
	Rebalance(ctx context.Context) (*vault.Outcome, error)
}

// Config contiene la configuración del keeper.
type Config struct {
	Interval time.Duration
	// Once ejecuta un solo ciclo y devuelve su error.
	Once bool
}

// DefaultConfig devuelve un intervalo cercano al cooldown por defecto
// (30000 slots de 400ms son 3h20m); los ciclos dentro del cooldown son baratos.
func DefaultConfig() Config {
	return Config{Interval: time.Minute}
}

// Keeper es el orquestador del loop de rebalanceo.
type Keeper struct {
	cfg      Config
	vault    Rebalancer
	notifier ports.Notifier
}

// New crea un Keeper. notifier puede ser nil.
func New(cfg Config, v Rebalancer, notifier ports.Notifier) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Keeper{cfg: cfg, vault: v, notifier: notifier}
}

// Run ejecuta ciclos hasta que el contexto se cancele.
// Si cfg.Once está activo, solo ejecuta un ciclo.
func (k *Keeper) Run(ctx context.Context) error {
	slog.Info("keeper starting",
		"interval", k.cfg.Interval,
		"once", k.cfg.Once,
	)

	report := k.RunOnce(ctx)
	if k.cfg.Once {
		if expected(report.Err) {
			return nil
		}
		return report.Err
	}

	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("keeper stopped")
			return nil
		case <-ticker.C:
			k.RunOnce(ctx)
		}
	}
}

// RunOnce ejecuta exactamente un ciclo, lo loguea y lo notifica.
func (k *Keeper) RunOnce(ctx context.Context) domain.CycleReport {
	start := time.Now()
	out, err := k.vault.Rebalance(ctx)

	report := domain.CycleReport{
		At:       start.UTC(),
		Err:      err,
		Duration: time.Since(start),
	}
	if out != nil {
		report.Tick = out.Tick
		report.State = out.State
		report.Record = out.Record
		report.Reading = out.Reading
	}

	logCycle(report)

	if k.notifier != nil {
		if err := k.notifier.Notify(ctx, report); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}
	return report
}

// expected indica errores que son parte del funcionamiento normal: el
// cooldown todavía no venció.
func expected(err error) bool {
	return errors.Is(err, domain.ErrRebalanceCooldown) || errors.Is(err, domain.ErrReexpansionCooldown)
}

func logCycle(r domain.CycleReport) {
	d := r.Duration.Round(time.Millisecond)
	switch {
	case r.Err == nil:
		slog.Info("keeper cycle complete", "tick", r.Tick, "state", r.State, "duration", d)
	case expected(r.Err):
		slog.Debug("keeper cycle skipped", "tick", r.Tick, "reason", r.Err)
	case errors.Is(r.Err, domain.ErrVaultHalted):
		slog.Warn("keeper: vault halted, waiting for authority", "tick", r.Tick, "err", r.Err)
	default:
		slog.Error("keeper cycle failed", "tick", r.Tick, "err", r.Err, "duration", d)
	}
}
