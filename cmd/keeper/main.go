package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/montroy2000/Aegis-Growth/config"
	"github.com/montroy2000/Aegis-Growth/internal/adapters/notify"
	"github.com/montroy2000/Aegis-Growth/internal/keeper"
	"github.com/montroy2000/Aegis-Growth/internal/observability"
	"github.com/montroy2000/Aegis-Growth/internal/vault"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	mode := flag.String("mode", "run", "init|fund|deposit|withdraw|once|run|status|resume|paper")
	owner := flag.String("owner", "", "depositor (deposit/withdraw/fund) or authority (resume) public key")
	amount := flag.Uint64("amount", 0, "asset amount in smallest units (deposit/fund)")
	shares := flag.Uint64("shares", 0, "shares to burn (withdraw)")
	verbose := flag.Bool("verbose", false, "set log level to debug and print cooldown cycles")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("aegis keeper starting",
		"config", *configPath,
		"mode", *mode,
		"interval", cfg.KeeperInterval(),
		"primary_feed", cfg.Feeds.Primary.Name,
		"secondary_feed", cfg.Feeds.Secondary != nil,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	notifier := notify.NewConsole(*verbose)
	metrics := observability.NewMetrics()

	if *mode == "paper" {
		if err := runPaper(ctx, cfg, notifier, metrics); err != nil {
			slog.Error("paper simulation failed", "err", err)
			os.Exit(1)
		}
		return
	}

	a, err := wire(ctx, cfg, metrics)
	if err != nil {
		slog.Error("failed to wire keeper", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := dispatch(ctx, *mode, a, cfg, notifier, metrics, *owner, *amount, *shares); err != nil {
		slog.Error("command failed", "mode", *mode, "err", err)
		os.Exit(1)
	}
	slog.Info("aegis keeper stopped cleanly")
}

func dispatch(ctx context.Context, mode string, a *app, cfg *config.Config, notifier *notify.Console, metrics *observability.Metrics, owner string, amount, shares uint64) error {
	svc := a.service
	switch mode {
	case "init":
		v, err := svc.Initialize(ctx, vault.InitParams{
			Authority:     cfg.Vault.Authority,
			AssetMint:     cfg.Vault.AssetMint,
			ShareMint:     cfg.Vault.ShareMint,
			VaultAccount:  cfg.Vault.VaultAccount,
			PrimaryFeed:   cfg.Feeds.Primary.Name,
			SecondaryFeed: secondaryName(cfg),
			Config:        cfg.Vault.Params,
		})
		if err != nil {
			return err
		}
		fmt.Printf("vault initialized, authority %s\n", v.Authority)
		return nil

	case "fund":
		if err := a.store.Fund(ctx, owner, amount); err != nil {
			return err
		}
		fmt.Printf("funded %s with %d\n", owner, amount)
		return nil

	case "deposit":
		minted, err := svc.Deposit(ctx, owner, amount)
		if err != nil {
			return err
		}
		fmt.Printf("deposited %d, minted %d shares\n", amount, minted)
		return nil

	case "withdraw":
		returned, err := svc.Withdraw(ctx, owner, shares)
		if err != nil {
			return err
		}
		fmt.Printf("burned %d shares, returned %d\n", shares, returned)
		return nil

	case "once":
		k := keeper.New(keeper.Config{Once: true}, a.rebalancer(), notifier)
		return k.Run(ctx)

	case "run":
		stop := serveMetrics(cfg.Metrics.Addr, metrics)
		defer stop()
		k := keeper.New(keeper.Config{Interval: cfg.KeeperInterval()}, a.rebalancer(), notifier)
		return k.Run(ctx)

	case "status":
		st, err := svc.Status(ctx, cfg.Keeper.StatusLimit)
		if err != nil {
			return err
		}
		notifier.PrintStatus(st)
		if owner != "" {
			pos, value, err := svc.PositionOf(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Printf("position %s: %d shares worth %d\n", pos.Owner, pos.Shares, value)
		}
		return nil

	case "resume":
		return svc.Resume(ctx, owner)
	}
	return fmt.Errorf("unknown mode %q", mode)
}

// serveMetrics levanta /metrics en addr. Devuelve la función de apagado.
func serveMetrics(addr string, metrics *observability.Metrics) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown", "err", err)
		}
	}
}

func secondaryName(cfg *config.Config) string {
	if cfg.Feeds.Secondary == nil {
		return ""
	}
	return cfg.Feeds.Secondary.Name
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
