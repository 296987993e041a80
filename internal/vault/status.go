package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/ports"
)

// Status es una foto del vault para reportes.
type Status struct {
	Vault             domain.Vault
	Equity            uint64
	LeverageBps       uint64
	Liquidity         uint64
	NextRebalanceTick uint64
	ReexpansionAt     time.Time
	Positions         []domain.UserPosition
	Recent            []domain.RebalanceRecord
}

// Status devuelve el estado actual del vault y los últimos limit rebalanceos.
func (s *Service) Status(ctx context.Context, limit int) (*Status, error) {
	var st Status
	err := s.store.View(ctx, func(tx ports.VaultTx) error {
		v, err := tx.LoadVault(ctx)
		if err != nil {
			return err
		}
		if st.Liquidity, err = tx.Tokens().VaultBalance(ctx); err != nil {
			return err
		}
		if st.Positions, err = tx.ListPositions(ctx); err != nil {
			return err
		}
		if st.Recent, err = tx.RecentRebalances(ctx, limit); err != nil {
			return err
		}

		st.Vault = *v
		st.Equity = v.Equity()
		st.LeverageBps = v.LeverageBps()
		next, err := domain.CheckedAdd(v.LastRebalanceTick, v.Config.CooldownTicks)
		if err != nil {
			next = ^uint64(0)
		}
		st.NextRebalanceTick = next
		if v.ReexpansionUnlockedAt > 0 {
			st.ReexpansionAt = time.Unix(v.ReexpansionUnlockedAt, 0).UTC()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vault.Status: %w", err)
	}
	return &st, nil
}

// PositionOf devuelve la posición del owner y el valor actual de sus shares.
func (s *Service) PositionOf(ctx context.Context, owner string) (*domain.UserPosition, uint64, error) {
	owner, err := domain.ParseIdentity(owner)
	if err != nil {
		return nil, 0, fmt.Errorf("vault.PositionOf: %w", err)
	}

	var pos *domain.UserPosition
	var value uint64
	err = s.store.View(ctx, func(tx ports.VaultTx) error {
		v, err := tx.LoadVault(ctx)
		if err != nil {
			return err
		}
		if pos, _, err = tx.LoadPosition(ctx, owner); err != nil {
			return err
		}
		if pos.Shares == 0 {
			return nil
		}
		value, err = v.AssetsForShares(pos.Shares)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("vault.PositionOf: %w", err)
	}
	return pos, value, nil
}
