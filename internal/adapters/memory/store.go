// Package memory implementa ports.VaultStore en memoria. Cada Update trabaja
// sobre una copia del estado y solo la publica si fn no falla.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/ports"
)

type state struct {
	vault        *domain.Vault
	positions    map[string]domain.UserPosition
	assets       map[string]uint64 // owner → saldo del activo
	shares       map[string]uint64 // owner → saldo de shares
	vaultBalance uint64
	rebalances   []domain.RebalanceRecord
}

func (s state) clone() state {
	out := state{
		positions:    maps.Clone(s.positions),
		assets:       maps.Clone(s.assets),
		shares:       maps.Clone(s.shares),
		vaultBalance: s.vaultBalance,
		rebalances:   append([]domain.RebalanceRecord(nil), s.rebalances...),
	}
	if s.vault != nil {
		v := *s.vault
		out.vault = &v
	}
	return out
}

// Store es un VaultStore en memoria, útil para tests y paper mode.
type Store struct {
	mu    sync.Mutex
	state state
}

// NewStore crea un store vacío.
func NewStore() *Store {
	return &Store{state: state{
		positions: make(map[string]domain.UserPosition),
		assets:    make(map[string]uint64),
		shares:    make(map[string]uint64),
	}}
}

// Update implementa ports.VaultStore.
func (s *Store) Update(ctx context.Context, fn func(tx ports.VaultTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: &work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// View implementa ports.VaultStore. Las escrituras dentro de fn se descartan.
func (s *Store) View(ctx context.Context, fn func(tx ports.VaultTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	return fn(&tx{st: &work})
}

// Fund acredita amount del activo a owner fuera del vault (faucet de tests
// y paper mode).
func (s *Store) Fund(_ context.Context, owner string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, err := domain.CheckedAdd(s.state.assets[owner], amount)
	if err != nil {
		return fmt.Errorf("memory.Fund: %w", err)
	}
	s.state.assets[owner] = bal
	return nil
}

// Close implementa ports.VaultStore.
func (s *Store) Close() error { return nil }

type tx struct {
	st *state
}

func (t *tx) LoadVault(_ context.Context) (*domain.Vault, error) {
	if t.st.vault == nil {
		return nil, domain.ErrNotInitialized
	}
	v := *t.st.vault
	return &v, nil
}

func (t *tx) CreateVault(_ context.Context, v *domain.Vault) error {
	if t.st.vault != nil {
		return domain.ErrAlreadyInitialized
	}
	cp := *v
	t.st.vault = &cp
	return nil
}

func (t *tx) SaveVault(_ context.Context, v *domain.Vault) error {
	if t.st.vault == nil {
		return domain.ErrNotInitialized
	}
	cp := *v
	t.st.vault = &cp
	return nil
}

func (t *tx) LoadPosition(_ context.Context, owner string) (*domain.UserPosition, bool, error) {
	pos, ok := t.st.positions[owner]
	if !ok {
		return &domain.UserPosition{Owner: owner}, false, nil
	}
	return &pos, true, nil
}

func (t *tx) SavePosition(_ context.Context, pos *domain.UserPosition) error {
	t.st.positions[pos.Owner] = *pos
	return nil
}

func (t *tx) ListPositions(_ context.Context) ([]domain.UserPosition, error) {
	out := make([]domain.UserPosition, 0, len(t.st.positions))
	for _, p := range t.st.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Shares != out[j].Shares {
			return out[i].Shares > out[j].Shares
		}
		return out[i].Owner < out[j].Owner
	})
	return out, nil
}

func (t *tx) RecordRebalance(_ context.Context, rec domain.RebalanceRecord) error {
	t.st.rebalances = append(t.st.rebalances, rec)
	return nil
}

func (t *tx) RecentRebalances(_ context.Context, limit int) ([]domain.RebalanceRecord, error) {
	n := len(t.st.rebalances)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.RebalanceRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, t.st.rebalances[i])
	}
	return out, nil
}

func (t *tx) Tokens() ports.Tokens { return t }

func (t *tx) TransferIn(_ context.Context, owner string, amount uint64) error {
	bal := t.st.assets[owner]
	if bal < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", domain.ErrInsufficientFunds, owner, bal, amount)
	}
	vb, err := domain.CheckedAdd(t.st.vaultBalance, amount)
	if err != nil {
		return err
	}
	t.st.assets[owner] = bal - amount
	t.st.vaultBalance = vb
	return nil
}

func (t *tx) TransferOut(_ context.Context, owner string, amount uint64) error {
	if t.st.vaultBalance < amount {
		return fmt.Errorf("%w: vault holds %d, needs %d", domain.ErrInsufficientFunds, t.st.vaultBalance, amount)
	}
	bal, err := domain.CheckedAdd(t.st.assets[owner], amount)
	if err != nil {
		return err
	}
	t.st.vaultBalance -= amount
	t.st.assets[owner] = bal
	return nil
}

func (t *tx) Mint(_ context.Context, owner string, shares uint64) error {
	bal, err := domain.CheckedAdd(t.st.shares[owner], shares)
	if err != nil {
		return err
	}
	t.st.shares[owner] = bal
	return nil
}

func (t *tx) Burn(_ context.Context, owner string, shares uint64) error {
	bal := t.st.shares[owner]
	if bal < shares {
		return fmt.Errorf("%w: %s holds %d shares, burning %d", domain.ErrInsufficientFunds, owner, bal, shares)
	}
	t.st.shares[owner] = bal - shares
	return nil
}

func (t *tx) VaultBalance(_ context.Context) (uint64, error) { return t.st.vaultBalance, nil }

func (t *tx) AssetBalance(_ context.Context, owner string) (uint64, error) {
	return t.st.assets[owner], nil
}

func (t *tx) ShareBalance(_ context.Context, owner string) (uint64, error) {
	return t.st.shares[owner], nil
}
