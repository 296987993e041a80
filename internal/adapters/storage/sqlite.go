package storage

// sqlite.go: persistencia del vault en SQLite (pure Go, sin CGo).
//
// Estrategia:
//   - `vault`: una sola fila (id = 1) con totales, timestamps y la config fija.
//   - `positions`: una fila por depositante. Nunca se borra.
//   - `token_balances`: ledger del activo y de las shares por cuenta. La cuenta
//     del vault es una fila más (account = 'vault').
//   - `rebalances`: historial de ejecuciones exitosas del control loop.
//   - Cada Update corre en una única transacción SQL: los movimientos de
//     tokens y los contadores del vault se confirman juntos o no se confirman.
//   - Montos uint64 se guardan como INTEGER; valores >= 2^63 se rechazan.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS vault (
    id                        INTEGER PRIMARY KEY CHECK (id = 1),
    authority                 TEXT    NOT NULL,
    asset_mint                TEXT    NOT NULL DEFAULT '',
    share_mint                TEXT    NOT NULL DEFAULT '',
    vault_account             TEXT    NOT NULL DEFAULT '',
    primary_feed              TEXT    NOT NULL DEFAULT '',
    secondary_feed            TEXT    NOT NULL DEFAULT '',
    total_supplied            INTEGER NOT NULL DEFAULT 0,
    total_borrowed            INTEGER NOT NULL DEFAULT 0,
    total_shares              INTEGER NOT NULL DEFAULT 0,
    last_rebalance_tick       INTEGER NOT NULL DEFAULT 0,
    reexpansion_unlocked_at   INTEGER NOT NULL DEFAULT 0,
    max_leverage_bps          INTEGER NOT NULL,
    health_factor_floor_bps   INTEGER NOT NULL,
    oracle_stale_ticks        INTEGER NOT NULL,
    peg_warn_bps              INTEGER NOT NULL,
    peg_exit_bps              INTEGER NOT NULL,
    peg_panic_bps             INTEGER NOT NULL,
    cooldown_ticks            INTEGER NOT NULL,
    reexpansion_delay_seconds INTEGER NOT NULL,
    contract_reduction_pct    INTEGER NOT NULL,
    max_conflict_bps          INTEGER NOT NULL,
    max_confidence_bps        INTEGER NOT NULL,
    min_confirmations         INTEGER NOT NULL,
    halted                    INTEGER NOT NULL DEFAULT 0,
    halt_reason               TEXT    NOT NULL DEFAULT '',
    halted_at                 INTEGER NOT NULL DEFAULT 0,
    created_at                INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    owner        TEXT PRIMARY KEY,
    shares       INTEGER NOT NULL DEFAULT 0,
    deposited_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS token_balances (
    account TEXT    NOT NULL,
    token   TEXT    NOT NULL,
    amount  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (account, token)
);

-- Una fila por ejecución exitosa del control loop
CREATE TABLE IF NOT EXISTS rebalances (
    id                TEXT PRIMARY KEY,
    tick              INTEGER NOT NULL,
    executed_at       INTEGER NOT NULL,
    state             TEXT    NOT NULL,
    borrowed          INTEGER NOT NULL DEFAULT 0,
    repaid            INTEGER NOT NULL DEFAULT 0,
    fused_price       INTEGER NOT NULL DEFAULT 0,
    peg_deviation_bps INTEGER NOT NULL DEFAULT 0,
    health_factor_bps INTEGER NOT NULL DEFAULT 0,
    leverage_before   INTEGER NOT NULL DEFAULT 0,
    leverage_after    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_rebalances_tick ON rebalances(tick DESC);
`

const (
	vaultAccount = "vault"
	tokenAsset   = "asset"
	tokenShare   = "share"

	retentionRebalances = 180 * 24 * time.Hour
)

// SQLiteStorage implementa ports.VaultStore usando SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada,
// aplica el schema y limpia historial antiguo.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// Update ejecuta fn dentro de una transacción; cualquier error hace rollback.
func (s *SQLiteStorage) Update(ctx context.Context, fn func(tx ports.VaultTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Update: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Update: commit: %w", err)
	}
	return nil
}

// View ejecuta fn en una transacción que siempre se descarta.
func (s *SQLiteStorage) View(ctx context.Context, fn func(tx ports.VaultTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.View: begin tx: %w", err)
	}
	defer tx.Rollback()

	return fn(&sqlTx{tx: tx})
}

// Fund acredita amount del activo a owner (faucet para paper mode).
func (s *SQLiteStorage) Fund(ctx context.Context, owner string, amount uint64) error {
	return s.Update(ctx, func(vtx ports.VaultTx) error {
		t := vtx.(*sqlTx)
		bal, err := t.balance(ctx, owner, tokenAsset)
		if err != nil {
			return err
		}
		bal, err = domain.CheckedAdd(bal, amount)
		if err != nil {
			return fmt.Errorf("storage.Fund: %w", err)
		}
		return t.setBalance(ctx, owner, tokenAsset, bal)
	})
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld elimina historial de rebalanceos viejo para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionRebalances).Unix()
	s.db.ExecContext(ctx, `DELETE FROM rebalances WHERE executed_at < ?`, cutoff)
}

// sqlTx implementa ports.VaultTx y ports.Tokens sobre una *sql.Tx.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) LoadVault(ctx context.Context) (*domain.Vault, error) {
	var (
		v                   domain.Vault
		c                   = &v.Config
		halted              int
		haltedAt, createdAt int64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT authority, asset_mint, share_mint, vault_account, primary_feed, secondary_feed,
		       total_supplied, total_borrowed, total_shares,
		       last_rebalance_tick, reexpansion_unlocked_at,
		       max_leverage_bps, health_factor_floor_bps, oracle_stale_ticks,
		       peg_warn_bps, peg_exit_bps, peg_panic_bps, cooldown_ticks,
		       reexpansion_delay_seconds, contract_reduction_pct, max_conflict_bps,
		       max_confidence_bps, min_confirmations,
		       halted, halt_reason, halted_at, created_at
		FROM vault WHERE id = 1
	`).Scan(
		&v.Authority, &v.AssetMint, &v.ShareMint, &v.VaultAccount, &v.PrimaryFeed, &v.SecondaryFeed,
		&v.TotalSupplied, &v.TotalBorrowed, &v.TotalShares,
		&v.LastRebalanceTick, &v.ReexpansionUnlockedAt,
		&c.MaxLeverageBps, &c.HealthFactorFloorBps, &c.OracleStaleTicks,
		&c.PegWarnBps, &c.PegExitBps, &c.PegPanicBps, &c.CooldownTicks,
		&c.ReexpansionDelaySeconds, &c.ContractReductionPct, &c.MaxConflictBps,
		&c.MaxConfidenceBps, &c.MinConfirmations,
		&halted, &v.HaltReason, &haltedAt, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("storage.LoadVault: %w", err)
	}

	v.Halted = halted == 1
	if haltedAt != 0 {
		v.HaltedAt = time.Unix(haltedAt, 0).UTC()
	}
	v.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &v, nil
}

func (t *sqlTx) CreateVault(ctx context.Context, v *domain.Vault) error {
	var exists int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault`).Scan(&exists); err != nil {
		return fmt.Errorf("storage.CreateVault: count: %w", err)
	}
	if exists > 0 {
		return domain.ErrAlreadyInitialized
	}

	args, err := vaultArgs(v)
	if err != nil {
		return fmt.Errorf("storage.CreateVault: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO vault
			(authority, asset_mint, share_mint, vault_account, primary_feed, secondary_feed,
			 total_supplied, total_borrowed, total_shares,
			 last_rebalance_tick, reexpansion_unlocked_at,
			 max_leverage_bps, health_factor_floor_bps, oracle_stale_ticks,
			 peg_warn_bps, peg_exit_bps, peg_panic_bps, cooldown_ticks,
			 reexpansion_delay_seconds, contract_reduction_pct, max_conflict_bps,
			 max_confidence_bps, min_confirmations,
			 halted, halt_reason, halted_at, created_at, id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, args...); err != nil {
		return fmt.Errorf("storage.CreateVault: insert: %w", err)
	}
	return nil
}

func (t *sqlTx) SaveVault(ctx context.Context, v *domain.Vault) error {
	args, err := vaultArgs(v)
	if err != nil {
		return fmt.Errorf("storage.SaveVault: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE vault SET
			authority = ?, asset_mint = ?, share_mint = ?, vault_account = ?,
			primary_feed = ?, secondary_feed = ?,
			total_supplied = ?, total_borrowed = ?, total_shares = ?,
			last_rebalance_tick = ?, reexpansion_unlocked_at = ?,
			max_leverage_bps = ?, health_factor_floor_bps = ?, oracle_stale_ticks = ?,
			peg_warn_bps = ?, peg_exit_bps = ?, peg_panic_bps = ?, cooldown_ticks = ?,
			reexpansion_delay_seconds = ?, contract_reduction_pct = ?, max_conflict_bps = ?,
			max_confidence_bps = ?, min_confirmations = ?,
			halted = ?, halt_reason = ?, halted_at = ?, created_at = ?
		WHERE id = 1
	`, args...)
	if err != nil {
		return fmt.Errorf("storage.SaveVault: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotInitialized
	}
	return nil
}

// vaultArgs devuelve las columnas en el orden de INSERT/UPDATE.
func vaultArgs(v *domain.Vault) ([]any, error) {
	c := v.Config
	var haltedAt int64
	if !v.HaltedAt.IsZero() {
		haltedAt = v.HaltedAt.Unix()
	}

	args := []any{v.Authority, v.AssetMint, v.ShareMint, v.VaultAccount, v.PrimaryFeed, v.SecondaryFeed}
	args, err := appendInts(args, v.TotalSupplied, v.TotalBorrowed, v.TotalShares, v.LastRebalanceTick)
	if err != nil {
		return nil, err
	}
	args = append(args, v.ReexpansionUnlockedAt)
	args, err = appendInts(args,
		c.MaxLeverageBps, c.HealthFactorFloorBps, c.OracleStaleTicks,
		c.PegWarnBps, c.PegExitBps, c.PegPanicBps, c.CooldownTicks,
	)
	if err != nil {
		return nil, err
	}
	args = append(args, c.ReexpansionDelaySeconds)
	args, err = appendInts(args, c.ContractReductionPct, c.MaxConflictBps, c.MaxConfidenceBps)
	if err != nil {
		return nil, err
	}
	args = append(args, int64(c.MinConfirmations), boolToInt(v.Halted), v.HaltReason, haltedAt, v.CreatedAt.Unix())
	return args, nil
}

func appendInts(dst []any, nums ...uint64) ([]any, error) {
	for _, n := range nums {
		i, err := toInt64(n)
		if err != nil {
			return nil, err
		}
		dst = append(dst, i)
	}
	return dst, nil
}

func (t *sqlTx) LoadPosition(ctx context.Context, owner string) (*domain.UserPosition, bool, error) {
	pos := &domain.UserPosition{Owner: owner}
	var depositedAt int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT shares, deposited_at FROM positions WHERE owner = ?`, owner,
	).Scan(&pos.Shares, &depositedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return pos, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage.LoadPosition: %s: %w", owner, err)
	}
	pos.DepositedAt = time.Unix(depositedAt, 0).UTC()
	return pos, true, nil
}

func (t *sqlTx) SavePosition(ctx context.Context, pos *domain.UserPosition) error {
	shares, err := toInt64(pos.Shares)
	if err != nil {
		return fmt.Errorf("storage.SavePosition: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO positions (owner, shares, deposited_at) VALUES (?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET
			shares       = excluded.shares,
			deposited_at = excluded.deposited_at
	`, pos.Owner, shares, pos.DepositedAt.Unix()); err != nil {
		return fmt.Errorf("storage.SavePosition: upsert %s: %w", pos.Owner, err)
	}
	return nil
}

func (t *sqlTx) ListPositions(ctx context.Context) ([]domain.UserPosition, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT owner, shares, deposited_at FROM positions ORDER BY shares DESC, owner`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.ListPositions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.UserPosition
	for rows.Next() {
		var p domain.UserPosition
		var depositedAt int64
		if err := rows.Scan(&p.Owner, &p.Shares, &depositedAt); err != nil {
			return nil, fmt.Errorf("storage.ListPositions: scan row: %w", err)
		}
		p.DepositedAt = time.Unix(depositedAt, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *sqlTx) RecordRebalance(ctx context.Context, rec domain.RebalanceRecord) error {
	args, err := appendInts([]any{rec.ID}, rec.Tick)
	if err != nil {
		return fmt.Errorf("storage.RecordRebalance: %w", err)
	}
	args = append(args, rec.ExecutedAt.Unix(), rec.State.String())
	args, err = appendInts(args,
		rec.Borrowed, rec.Repaid, rec.FusedPrice, rec.PegDeviationBps,
		rec.HealthFactorBps, rec.LeverageBefore, rec.LeverageAfter,
	)
	if err != nil {
		return fmt.Errorf("storage.RecordRebalance: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO rebalances
			(id, tick, executed_at, state, borrowed, repaid, fused_price,
			 peg_deviation_bps, health_factor_bps, leverage_before, leverage_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...); err != nil {
		return fmt.Errorf("storage.RecordRebalance: insert %s: %w", rec.ID, err)
	}
	return nil
}

func (t *sqlTx) RecentRebalances(ctx context.Context, limit int) ([]domain.RebalanceRecord, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, tick, executed_at, state, borrowed, repaid, fused_price,
		       peg_deviation_bps, health_factor_bps, leverage_before, leverage_after
		FROM rebalances
		ORDER BY tick DESC, executed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentRebalances: query: %w", err)
	}
	defer rows.Close()

	var out []domain.RebalanceRecord
	for rows.Next() {
		var r domain.RebalanceRecord
		var executedAt int64
		var state string
		if err := rows.Scan(&r.ID, &r.Tick, &executedAt, &state, &r.Borrowed, &r.Repaid,
			&r.FusedPrice, &r.PegDeviationBps, &r.HealthFactorBps, &r.LeverageBefore, &r.LeverageAfter,
		); err != nil {
			return nil, fmt.Errorf("storage.RecentRebalances: scan row: %w", err)
		}
		r.ExecutedAt = time.Unix(executedAt, 0).UTC()
		r.State = parseState(state)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *sqlTx) Tokens() ports.Tokens { return t }

func (t *sqlTx) TransferIn(ctx context.Context, owner string, amount uint64) error {
	return t.move(ctx, owner, vaultAccount, tokenAsset, amount)
}

func (t *sqlTx) TransferOut(ctx context.Context, owner string, amount uint64) error {
	return t.move(ctx, vaultAccount, owner, tokenAsset, amount)
}

func (t *sqlTx) Mint(ctx context.Context, owner string, shares uint64) error {
	bal, err := t.balance(ctx, owner, tokenShare)
	if err != nil {
		return err
	}
	bal, err = domain.CheckedAdd(bal, shares)
	if err != nil {
		return fmt.Errorf("storage.Mint: %w", err)
	}
	return t.setBalance(ctx, owner, tokenShare, bal)
}

func (t *sqlTx) Burn(ctx context.Context, owner string, shares uint64) error {
	bal, err := t.balance(ctx, owner, tokenShare)
	if err != nil {
		return err
	}
	if bal < shares {
		return fmt.Errorf("storage.Burn: %w: %s holds %d shares, burning %d", domain.ErrInsufficientFunds, owner, bal, shares)
	}
	return t.setBalance(ctx, owner, tokenShare, bal-shares)
}

func (t *sqlTx) VaultBalance(ctx context.Context) (uint64, error) {
	return t.balance(ctx, vaultAccount, tokenAsset)
}

func (t *sqlTx) AssetBalance(ctx context.Context, owner string) (uint64, error) {
	return t.balance(ctx, owner, tokenAsset)
}

func (t *sqlTx) ShareBalance(ctx context.Context, owner string) (uint64, error) {
	return t.balance(ctx, owner, tokenShare)
}

// --- helpers internos ---

func (t *sqlTx) move(ctx context.Context, from, to, token string, amount uint64) error {
	src, err := t.balance(ctx, from, token)
	if err != nil {
		return err
	}
	if src < amount {
		return fmt.Errorf("storage.move: %w: %s holds %d, needs %d", domain.ErrInsufficientFunds, from, src, amount)
	}
	dst, err := t.balance(ctx, to, token)
	if err != nil {
		return err
	}
	dst, err = domain.CheckedAdd(dst, amount)
	if err != nil {
		return fmt.Errorf("storage.move: %w", err)
	}
	if err := t.setBalance(ctx, from, token, src-amount); err != nil {
		return err
	}
	return t.setBalance(ctx, to, token, dst)
}

func (t *sqlTx) balance(ctx context.Context, account, token string) (uint64, error) {
	var amount uint64
	err := t.tx.QueryRowContext(ctx,
		`SELECT amount FROM token_balances WHERE account = ? AND token = ?`, account, token,
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage.balance: %s/%s: %w", account, token, err)
	}
	return amount, nil
}

func (t *sqlTx) setBalance(ctx context.Context, account, token string, amount uint64) error {
	v, err := toInt64(amount)
	if err != nil {
		return fmt.Errorf("storage.setBalance: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO token_balances (account, token, amount) VALUES (?, ?, ?)
		ON CONFLICT(account, token) DO UPDATE SET amount = excluded.amount
	`, account, token, v); err != nil {
		return fmt.Errorf("storage.setBalance: %s/%s: %w", account, token, err)
	}
	return nil
}

func toInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d does not fit an INTEGER column", domain.ErrArithmeticOverflow, v)
	}
	return int64(v), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseState(s string) domain.VaultState {
	for _, st := range []domain.VaultState{
		domain.StateIdle, domain.StateLoop, domain.StateContract, domain.StateExit, domain.StatePanic,
	} {
		if st.String() == s {
			return st
		}
	}
	return domain.StateIdle
}
