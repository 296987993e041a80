package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/montroy2000/Aegis-Growth/config"
	"github.com/montroy2000/Aegis-Growth/internal/adapters/chainlink"
	"github.com/montroy2000/Aegis-Growth/internal/adapters/paper"
	"github.com/montroy2000/Aegis-Growth/internal/adapters/pyth"
	"github.com/montroy2000/Aegis-Growth/internal/adapters/solana"
	"github.com/montroy2000/Aegis-Growth/internal/adapters/storage"
	"github.com/montroy2000/Aegis-Growth/internal/adapters/switchboard"
	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/keeper"
	"github.com/montroy2000/Aegis-Growth/internal/observability"
	"github.com/montroy2000/Aegis-Growth/internal/oracle"
	"github.com/montroy2000/Aegis-Growth/internal/ports"
	"github.com/montroy2000/Aegis-Growth/internal/vault"
)

// fundingStore es un VaultStore con faucet del activo.
type fundingStore interface {
	ports.VaultStore
	Fund(ctx context.Context, owner string, amount uint64) error
}

type app struct {
	store   fundingStore
	venue   *paper.Venue
	service *vault.Service
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) rebalancer() keeper.Rebalancer {
	return &venueSync{Rebalancer: a.service, store: a.store, venue: a.venue}
}

// wire arma el servicio sobre SQLite, los feeds configurados y el paper
// venue restaurado desde el ledger persistido.
func wire(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*app, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	a := &app{store: store}
	a.closers = append(a.closers, func() { store.Close() })

	// Los umbrales del oráculo salen del vault persistido; antes de init,
	// de la configuración.
	params := cfg.Vault.Params
	var v *domain.Vault
	err = store.View(ctx, func(tx ports.VaultTx) error {
		var err error
		v, err = tx.LoadVault(ctx)
		return err
	})
	switch {
	case err == nil:
		params = v.Config
	case errors.Is(err, domain.ErrNotInitialized):
	default:
		a.Close()
		return nil, fmt.Errorf("load vault: %w", err)
	}

	var sol *solana.Client
	var clock ports.Clock = wallClock(orEmpty(v).CreatedAt, params)
	if cfg.NeedsSolana() {
		sol = solana.NewClient(cfg.Solana.RPCURL,
			solana.WithCommitment(solana.Commitment(cfg.Solana.Commitment)),
			solana.WithRateLimit(cfg.Solana.RequestsPerSecond, cfg.Solana.Burst),
			solana.WithRetries(cfg.Solana.Retries, cfg.RetryBase()),
		)
		clock = solana.NewSlotClock(sol)
	}

	primary, err := buildFeed(ctx, cfg.Feeds.Primary, cfg.EVM.RPCURL, sol, clock, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	var secondary ports.PriceFeed
	if cfg.Feeds.Secondary != nil {
		if secondary, err = buildFeed(ctx, *cfg.Feeds.Secondary, cfg.EVM.RPCURL, sol, clock, a); err != nil {
			a.Close()
			return nil, err
		}
	}

	agg, err := oracle.New(oracle.ConfigFromVault(params), primary, secondary)
	if err != nil {
		a.Close()
		return nil, err
	}

	borrowed := orEmpty(v).TotalBorrowed
	a.venue = paper.NewVenue(
		paper.WithLiquidationThreshold(cfg.Venue.LiquidationThresholdBps),
		paper.WithPosition(borrowed, borrowed),
	)
	a.service = vault.New(store, a.venue, agg, clock, vault.WithRecorder(metrics))
	return a, nil
}

func buildFeed(ctx context.Context, fc config.FeedConfig, evmURL string, sol *solana.Client, clock ports.Clock, a *app) (ports.PriceFeed, error) {
	switch fc.Kind {
	case config.FeedPyth:
		return pyth.NewFeed(fc.Name, fc.Address, sol), nil
	case config.FeedSwitchboard:
		return switchboard.NewFeed(fc.Name, fc.Address, sol), nil
	case config.FeedChainlink:
		f, closeFn, err := chainlink.Dial(ctx, evmURL, fc.Name, fc.Address)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeFn)
		return f, nil
	case config.FeedStatic:
		slog.Warn("using static price feed", "feed", fc.Name, "price", fc.Price, "expo", fc.Expo)
		return paper.NewStaticFeed(fc.Name, fc.Price, fc.Expo, fc.Conf, clock), nil
	}
	return nil, fmt.Errorf("unknown feed kind %q", fc.Kind)
}

// wallClock marca el tick del cooldown en la creación del vault: el primer
// rebalanceo puede correr en cuanto el vault existe.
func wallClock(createdAt time.Time, params domain.VaultConfig) *paper.WallClock {
	return paper.NewWallClockAt(createdAt, params.CooldownTicks)
}

// orEmpty devuelve un vault vacío cuando todavía no fue inicializado.
func orEmpty(v *domain.Vault) *domain.Vault {
	if v == nil {
		return &domain.Vault{}
	}
	return v
}

// venueSync actualiza la caja del vault como colateral del paper venue
// antes de cada ciclo: depósitos y retiros llegan desde otros procesos.
type venueSync struct {
	keeper.Rebalancer
	store ports.VaultStore
	venue *paper.Venue
}

func (s *venueSync) Rebalance(ctx context.Context) (*vault.Outcome, error) {
	var cash uint64
	err := s.store.View(ctx, func(tx ports.VaultTx) error {
		var err error
		cash, err = tx.Tokens().VaultBalance(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sync venue collateral: %w", err)
	}
	s.venue.SetCollateral(cash)
	return s.Rebalancer.Rebalance(ctx)
}
