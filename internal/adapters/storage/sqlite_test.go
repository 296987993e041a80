package storage_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/montroy2000/Aegis-Growth/internal/adapters/storage"
	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeVault() *domain.Vault {
	return &domain.Vault{
		Authority:             "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		AssetMint:             "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		PrimaryFeed:           "Gnt27xtC473ZT2Mw5u8wZ68Z3gULkSTb5DuxJy7eJotD",
		TotalSupplied:         3_000_000,
		TotalBorrowed:         1_000_000,
		TotalShares:           2_000_000,
		LastRebalanceTick:     1_234,
		ReexpansionUnlockedAt: 1_700_000_000,
		Config:                domain.DefaultVaultConfig(),
		CreatedAt:             time.Unix(1_690_000_000, 0).UTC(),
	}
}

func openDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStorage_CreateAndLoadVault(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	want := makeVault()

	require.NoError(t, db.Update(ctx, func(tx ports.VaultTx) error {
		return tx.CreateVault(ctx, want)
	}))

	require.NoError(t, db.View(ctx, func(tx ports.VaultTx) error {
		got, err := tx.LoadVault(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		return nil
	}))
}

func TestSQLiteStorage_LoadVault_NotInitialized(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	err := db.View(ctx, func(tx ports.VaultTx) error {
		_, err := tx.LoadVault(ctx)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	err = db.Update(ctx, func(tx ports.VaultTx) error {
		return tx.SaveVault(ctx, makeVault())
	})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestSQLiteStorage_CreateVaultTwice(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	create := func(tx ports.VaultTx) error { return tx.CreateVault(ctx, makeVault()) }

	require.NoError(t, db.Update(ctx, create))
	assert.ErrorIs(t, db.Update(ctx, create), domain.ErrAlreadyInitialized)
}

func TestSQLiteStorage_SaveVault_HaltLatch(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	v := makeVault()
	require.NoError(t, db.Update(ctx, func(tx ports.VaultTx) error { return tx.CreateVault(ctx, v) }))

	haltedAt := time.Unix(1_700_000_500, 0).UTC()
	v.Halt("oracle price stale", haltedAt)
	require.NoError(t, db.Update(ctx, func(tx ports.VaultTx) error { return tx.SaveVault(ctx, v) }))

	require.NoError(t, db.View(ctx, func(tx ports.VaultTx) error {
		got, err := tx.LoadVault(ctx)
		require.NoError(t, err)
		assert.True(t, got.Halted)
		assert.Equal(t, "oracle price stale", got.HaltReason)
		assert.Equal(t, haltedAt, got.HaltedAt)
		return nil
	}))
}

func TestSQLiteStorage_Update_RollsBackEverything(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	require.NoError(t, db.Fund(ctx, "alice", 1_000))
	require.NoError(t, db.Update(ctx, func(tx ports.VaultTx) error { return tx.CreateVault(ctx, makeVault()) }))

	boom := errors.New("boom")
	err := db.Update(ctx, func(tx ports.VaultTx) error {
		require.NoError(t, tx.Tokens().TransferIn(ctx, "alice", 400))
		require.NoError(t, tx.Tokens().Mint(ctx, "alice", 400))
		require.NoError(t, tx.SavePosition(ctx, &domain.UserPosition{Owner: "alice", Shares: 400}))
		v, err := tx.LoadVault(ctx)
		require.NoError(t, err)
		v.LastRebalanceTick = 99_999
		require.NoError(t, tx.SaveVault(ctx, v))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, db.View(ctx, func(tx ports.VaultTx) error {
		v, err := tx.LoadVault(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_234), v.LastRebalanceTick)

		_, found, err := tx.LoadPosition(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, found)

		bal, err := tx.Tokens().AssetBalance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000), bal)

		vb, err := tx.Tokens().VaultBalance(ctx)
		require.NoError(t, err)
		assert.Zero(t, vb)
		return nil
	}))
}

func TestSQLiteStorage_Tokens(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	require.NoError(t, db.Fund(ctx, "bob", 500))

	require.NoError(t, db.Update(ctx, func(tx ports.VaultTx) error {
		tok := tx.Tokens()
		require.NoError(t, tok.TransferIn(ctx, "bob", 300))
		require.NoError(t, tok.Mint(ctx, "bob", 300))
		require.NoError(t, tok.TransferOut(ctx, "bob", 100))
		require.NoError(t, tok.Burn(ctx, "bob", 100))
		return nil
	}))

	require.NoError(t, db.View(ctx, func(tx ports.VaultTx) error {
		tok := tx.Tokens()
		bal, _ := tok.AssetBalance(ctx, "bob")
		assert.Equal(t, uint64(300), bal)
		vb, _ := tok.VaultBalance(ctx)
		assert.Equal(t, uint64(200), vb)
		sh, _ := tok.ShareBalance(ctx, "bob")
		assert.Equal(t, uint64(200), sh)
		return nil
	}))

	err := db.Update(ctx, func(tx ports.VaultTx) error {
		return tx.Tokens().TransferOut(ctx, "bob", 201)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	err = db.Update(ctx, func(tx ports.VaultTx) error {
		return tx.Tokens().Burn(ctx, "bob", 201)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestSQLiteStorage_RejectsValuesAboveInt64(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	err := db.Update(ctx, func(tx ports.VaultTx) error {
		return tx.Tokens().Mint(ctx, "eve", math.MaxUint64)
	})
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestSQLiteStorage_Positions(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	depositedAt := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, db.Update(ctx, func(tx ports.VaultTx) error {
		require.NoError(t, tx.SavePosition(ctx, &domain.UserPosition{Owner: "a", Shares: 10, DepositedAt: depositedAt}))
		require.NoError(t, tx.SavePosition(ctx, &domain.UserPosition{Owner: "b", Shares: 30, DepositedAt: depositedAt}))
		return tx.SavePosition(ctx, &domain.UserPosition{Owner: "a", Shares: 0, DepositedAt: depositedAt})
	}))

	require.NoError(t, db.View(ctx, func(tx ports.VaultTx) error {
		pos, found, err := tx.LoadPosition(ctx, "a")
		require.NoError(t, err)
		assert.True(t, found, "posición con cero shares sigue existiendo")
		assert.Zero(t, pos.Shares)
		assert.Equal(t, depositedAt, pos.DepositedAt)

		all, err := tx.ListPositions(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "b", all[0].Owner)
		return nil
	}))
}

func TestSQLiteStorage_Rebalances(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, db.Update(ctx, func(tx ports.VaultTx) error {
		for i, st := range []domain.VaultState{domain.StateLoop, domain.StateContract, domain.StateExit} {
			require.NoError(t, tx.RecordRebalance(ctx, domain.RebalanceRecord{
				ID:              string(rune('a' + i)),
				Tick:            uint64(100 * (i + 1)),
				ExecutedAt:      at,
				State:           st,
				Repaid:          uint64(i),
				PegDeviationBps: 7,
			}))
		}
		return nil
	}))

	require.NoError(t, db.View(ctx, func(tx ports.VaultTx) error {
		recs, err := tx.RecentRebalances(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, domain.StateExit, recs[0].State)
		assert.Equal(t, uint64(300), recs[0].Tick)
		assert.Equal(t, at, recs[0].ExecutedAt)
		assert.Equal(t, domain.StateContract, recs[1].State)

		all, err := tx.RecentRebalances(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		return nil
	}))
}
