package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/montroy2000/Aegis-Growth/config"
	"github.com/montroy2000/Aegis-Growth/internal/adapters/memory"
	"github.com/montroy2000/Aegis-Growth/internal/adapters/notify"
	"github.com/montroy2000/Aegis-Growth/internal/adapters/paper"
	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/keeper"
	"github.com/montroy2000/Aegis-Growth/internal/observability"
	"github.com/montroy2000/Aegis-Growth/internal/oracle"
	"github.com/montroy2000/Aegis-Growth/internal/vault"
)

// Claves fijas para la simulación cuando la config no trae las propias.
var (
	paperAuthority = domain.IdentityFromBytes([32]byte{0xAE, 0x61, 0x15})
	paperDepositor = domain.IdentityFromBytes([32]byte{0xD0, 0x5E})
)

// runPaper simula el vault en memoria: un depósito y un ciclo del keeper por
// cada precio de paper.price_path, avanzando el cooldown entre ciclos.
func runPaper(ctx context.Context, cfg *config.Config, notifier *notify.Console, metrics *observability.Metrics) error {
	pc := cfg.Paper
	authority := cfg.Vault.Authority
	if authority == "" {
		authority = paperAuthority
	}
	depositor := pc.Depositor
	if depositor == "" {
		depositor = paperDepositor
	}
	params := cfg.Vault.Params

	slog.Info("=== PAPER MODE (in-memory vault) ===",
		"deposit", pc.Deposit,
		"cycles", len(pc.PricePath),
		"max_leverage_bps", params.MaxLeverageBps,
	)

	store := memory.NewStore()
	// El reloj arranca con un cooldown ya cumplido para evaluar price_path[0].
	clock := paper.NewManualClock(time.Now().UTC().Truncate(time.Second), params.CooldownTicks)
	primary := paper.NewStaticFeed("paper-primary", pc.PricePath[0], pc.Expo, 0, clock)
	venue := paper.NewVenue(paper.WithLiquidationThreshold(cfg.Venue.LiquidationThresholdBps))

	agg, err := oracle.New(oracle.ConfigFromVault(params), primary, nil)
	if err != nil {
		return err
	}
	svc := vault.New(store, venue, agg, clock, vault.WithRecorder(metrics))

	if _, err := svc.Initialize(ctx, vault.InitParams{
		Authority:   authority,
		PrimaryFeed: primary.Name(),
		Config:      params,
	}); err != nil {
		return err
	}
	if err := store.Fund(ctx, depositor, pc.Deposit); err != nil {
		return err
	}
	minted, err := svc.Deposit(ctx, depositor, pc.Deposit)
	if err != nil {
		return err
	}

	k := keeper.New(keeper.Config{Once: true},
		&venueSync{Rebalancer: svc, store: store, venue: venue}, notifier)

	// Cada ciclo corre justo al vencer el cooldown.
	step := time.Duration(params.CooldownTicks) * paper.SlotDuration
	for i, price := range pc.PricePath {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			clock.Advance(step)
		}
		primary.SetPrice(price)
		report := k.RunOnce(ctx)
		if errors.Is(report.Err, domain.ErrVaultHalted) {
			slog.Warn("paper: vault halted, remaining cycles are rejected", "cycle", i)
		}
	}

	st, err := svc.Status(ctx, len(pc.PricePath))
	if err != nil {
		return err
	}
	notifier.PrintStatus(st)

	returned, err := svc.Withdraw(ctx, depositor, minted)
	if err != nil {
		return fmt.Errorf("final withdraw: %w", err)
	}
	fmt.Printf("[PAPER] depositor withdrew %d shares for %d (deposited %d)\n", minted, returned, pc.Deposit)
	return nil
}
