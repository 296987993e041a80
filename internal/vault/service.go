// Package vault implementa las operaciones del vault: inicialización,
// depósitos, retiros, el control loop de apalancamiento y el latch de pánico.
// Cada operación corre en una única transacción del VaultStore.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/ports"
)

// OracleReader produce la lectura fusionada para un instante y tick.
type OracleReader interface {
	Read(ctx context.Context, now time.Time, tick uint64) (domain.OracleReading, error)
}

// Recorder recibe las observaciones del servicio (métricas).
type Recorder interface {
	ObserveVault(v *domain.Vault, liquidity uint64)
	ObserveOracle(r domain.OracleReading)
	ObserveHealthFactor(bps uint64)
	// state es "none" cuando la invocación falló antes de elegir estado.
	ObserveRebalance(state string, err error, d time.Duration)
	ObserveFlow(kind string, amount uint64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveVault(*domain.Vault, uint64)            {}
func (nopRecorder) ObserveOracle(domain.OracleReading)            {}
func (nopRecorder) ObserveHealthFactor(uint64)                    {}
func (nopRecorder) ObserveRebalance(string, error, time.Duration) {}
func (nopRecorder) ObserveFlow(string, uint64)                    {}

// Service orquesta el ledger, el oráculo y el lending venue.
type Service struct {
	store   ports.VaultStore
	venue   ports.LendingVenue
	oracle  OracleReader
	clock   ports.Clock
	metrics Recorder
	newID   func() string
}

// Option configura un Service.
type Option func(*Service)

// WithRecorder instala un Recorder de métricas.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithIDGenerator reemplaza el generador de IDs de rebalanceo.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New crea un Service con todas las dependencias inyectadas.
func New(store ports.VaultStore, venue ports.LendingVenue, oracle OracleReader, clock ports.Clock, opts ...Option) *Service {
	s := &Service{
		store:   store,
		venue:   venue,
		oracle:  oracle,
		clock:   clock,
		metrics: nopRecorder{},
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitParams son los datos fijados al crear el vault.
type InitParams struct {
	Authority     string
	AssetMint     string
	ShareMint     string
	VaultAccount  string
	PrimaryFeed   string
	SecondaryFeed string
	Config        domain.VaultConfig
}

// Initialize crea el vault. Falla con domain.ErrAlreadyInitialized si ya existe.
func (s *Service) Initialize(ctx context.Context, p InitParams) (*domain.Vault, error) {
	authority, err := domain.ParseIdentity(p.Authority)
	if err != nil {
		return nil, fmt.Errorf("vault.Initialize: authority: %w", err)
	}
	for name, key := range map[string]string{
		"asset mint":    p.AssetMint,
		"share mint":    p.ShareMint,
		"vault account": p.VaultAccount,
	} {
		if key == "" {
			continue
		}
		if _, err := domain.ParseIdentity(key); err != nil {
			return nil, fmt.Errorf("vault.Initialize: %s: %w", name, err)
		}
	}
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("vault.Initialize: %w", err)
	}
	if p.PrimaryFeed == "" {
		return nil, fmt.Errorf("vault.Initialize: %w: primary feed required", domain.ErrInvalidConfig)
	}

	v := &domain.Vault{
		Authority:     authority,
		AssetMint:     p.AssetMint,
		ShareMint:     p.ShareMint,
		VaultAccount:  p.VaultAccount,
		PrimaryFeed:   p.PrimaryFeed,
		SecondaryFeed: p.SecondaryFeed,
		Config:        p.Config,
		CreatedAt:     s.clock.Now().UTC().Truncate(time.Second),
	}
	if err := s.store.Update(ctx, func(tx ports.VaultTx) error {
		return tx.CreateVault(ctx, v)
	}); err != nil {
		return nil, fmt.Errorf("vault.Initialize: %w", err)
	}

	slog.Info("vault: initialized",
		"authority", authority,
		"max_leverage_bps", p.Config.MaxLeverageBps,
		"hf_floor_bps", p.Config.HealthFactorFloorBps,
		"secondary_feed", p.SecondaryFeed != "",
	)
	return v, nil
}

// Deposit mueve amount del owner al vault y emite shares. Devuelve las
// shares emitidas.
func (s *Service) Deposit(ctx context.Context, owner string, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, fmt.Errorf("vault.Deposit: %w: zero amount", domain.ErrInvalidAmount)
	}
	owner, err := domain.ParseIdentity(owner)
	if err != nil {
		return 0, fmt.Errorf("vault.Deposit: owner: %w", err)
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	var minted uint64
	var snapshot domain.Vault
	var liquidity uint64

	err = s.store.Update(ctx, func(tx ports.VaultTx) error {
		v, err := tx.LoadVault(ctx)
		if err != nil {
			return fmt.Errorf("load vault: %w", err)
		}
		if v.Halted {
			return fmt.Errorf("%w: %s", domain.ErrVaultHalted, v.HaltReason)
		}

		shares, err := v.SharesForDeposit(amount)
		if err != nil {
			return fmt.Errorf("shares for %d: %w", amount, err)
		}
		if shares == 0 {
			return fmt.Errorf("%w: %d mints zero shares", domain.ErrInvalidAmount, amount)
		}

		pos, found, err := tx.LoadPosition(ctx, owner)
		if err != nil {
			return fmt.Errorf("load position: %w", err)
		}
		posShares, err := domain.CheckedAdd(pos.Shares, shares)
		if err != nil {
			return fmt.Errorf("position shares: %w", err)
		}
		if err := v.ApplyDeposit(amount, shares); err != nil {
			return err
		}

		tokens := tx.Tokens()
		if err := tokens.TransferIn(ctx, owner, amount); err != nil {
			return fmt.Errorf("transfer in: %w", err)
		}
		if err := tokens.Mint(ctx, owner, shares); err != nil {
			return fmt.Errorf("mint shares: %w", err)
		}

		pos.Shares = posShares
		if !found {
			pos.DepositedAt = now
		}
		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.SaveVault(ctx, v); err != nil {
			return err
		}

		if liquidity, err = tokens.VaultBalance(ctx); err != nil {
			return err
		}
		minted, snapshot = shares, *v
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("vault.Deposit: %w", err)
	}

	s.metrics.ObserveFlow("deposit", amount)
	s.metrics.ObserveVault(&snapshot, liquidity)
	slog.Info("vault: deposit",
		"owner", owner,
		"amount", amount,
		"shares", minted,
		"total_shares", snapshot.TotalShares,
	)
	return minted, nil
}

// Withdraw quema shares del owner y le devuelve su parte del equity.
// Sigue permitido con el vault detenido.
func (s *Service) Withdraw(ctx context.Context, owner string, shares uint64) (uint64, error) {
	if shares == 0 {
		return 0, fmt.Errorf("vault.Withdraw: %w: zero shares", domain.ErrInvalidAmount)
	}
	owner, err := domain.ParseIdentity(owner)
	if err != nil {
		return 0, fmt.Errorf("vault.Withdraw: owner: %w", err)
	}

	var returned, liquidity uint64
	var snapshot domain.Vault

	err = s.store.Update(ctx, func(tx ports.VaultTx) error {
		v, err := tx.LoadVault(ctx)
		if err != nil {
			return fmt.Errorf("load vault: %w", err)
		}

		pos, found, err := tx.LoadPosition(ctx, owner)
		if err != nil {
			return fmt.Errorf("load position: %w", err)
		}
		if !found || shares > pos.Shares {
			return fmt.Errorf("%w: withdrawing %d shares, owner holds %d", domain.ErrInsufficientEquity, shares, pos.Shares)
		}

		amount, err := v.AssetsForShares(shares)
		if err != nil {
			return fmt.Errorf("assets for %d shares: %w", shares, err)
		}

		tokens := tx.Tokens()
		available, err := tokens.VaultBalance(ctx)
		if err != nil {
			return fmt.Errorf("vault balance: %w", err)
		}
		if available < amount {
			return fmt.Errorf("%w: vault liquidity %d below %d", domain.ErrInsufficientEquity, available, amount)
		}

		if err := v.ApplyWithdraw(amount, shares); err != nil {
			return err
		}
		if err := tokens.Burn(ctx, owner, shares); err != nil {
			return fmt.Errorf("burn shares: %w", err)
		}
		if err := tokens.TransferOut(ctx, owner, amount); err != nil {
			return fmt.Errorf("transfer out: %w", err)
		}

		pos.Shares -= shares
		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.SaveVault(ctx, v); err != nil {
			return err
		}

		returned, liquidity, snapshot = amount, available-amount, *v
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("vault.Withdraw: %w", err)
	}

	s.metrics.ObserveFlow("withdraw", returned)
	s.metrics.ObserveVault(&snapshot, liquidity)
	slog.Info("vault: withdraw",
		"owner", owner,
		"shares", shares,
		"amount", returned,
		"halted", snapshot.Halted,
	)
	return returned, nil
}

// Resume limpia el latch de pánico. Solo la authority del vault puede hacerlo.
func (s *Service) Resume(ctx context.Context, caller string) error {
	caller, err := domain.ParseIdentity(caller)
	if err != nil {
		return fmt.Errorf("vault.Resume: caller: %w", err)
	}

	var wasHalted bool
	err = s.store.Update(ctx, func(tx ports.VaultTx) error {
		v, err := tx.LoadVault(ctx)
		if err != nil {
			return fmt.Errorf("load vault: %w", err)
		}
		if v.Authority != caller {
			return fmt.Errorf("%w: %s is not the vault authority", domain.ErrUnauthorized, caller)
		}
		if !v.Halted {
			return nil
		}
		wasHalted = true
		v.Resume()
		return tx.SaveVault(ctx, v)
	})
	if err != nil {
		return fmt.Errorf("vault.Resume: %w", err)
	}

	if wasHalted {
		slog.Warn("vault: resumed by authority", "authority", caller)
	}
	return nil
}

// latchHalt marca el vault como detenido en una transacción propia: la
// invocación que llegó a Panic no muta nada.
func (s *Service) latchHalt(ctx context.Context, reason string) {
	now := s.clock.Now().UTC().Truncate(time.Second)
	err := s.store.Update(ctx, func(tx ports.VaultTx) error {
		v, err := tx.LoadVault(ctx)
		if err != nil {
			return err
		}
		if v.Halted {
			return nil
		}
		v.Halt(reason, now)
		return tx.SaveVault(ctx, v)
	})
	if err != nil {
		slog.Error("vault: failed to latch halt", "err", err, "reason", reason)
		return
	}
	slog.Error("vault: halted", "reason", reason)
}
