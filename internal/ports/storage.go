package ports

import (
	"context"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
)

// VaultStore persiste el vault, las posiciones y el ledger de tokens.
// Cada Update es una transacción todo-o-nada: si fn devuelve error, nada
// de lo escrito dentro de fn queda visible.
type VaultStore interface {
	// Update ejecuta fn dentro de una transacción de escritura.
	Update(ctx context.Context, fn func(tx VaultTx) error) error

	// View ejecuta fn en modo lectura.
	View(ctx context.Context, fn func(tx VaultTx) error) error

	// Close cierra el store limpiamente.
	Close() error
}

// VaultTx es la vista transaccional del store.
type VaultTx interface {
	// LoadVault devuelve domain.ErrNotInitialized si el vault no existe.
	LoadVault(ctx context.Context) (*domain.Vault, error)
	CreateVault(ctx context.Context, v *domain.Vault) error
	SaveVault(ctx context.Context, v *domain.Vault) error

	// LoadPosition devuelve found=false si el owner nunca depositó.
	LoadPosition(ctx context.Context, owner string) (pos *domain.UserPosition, found bool, err error)
	SavePosition(ctx context.Context, pos *domain.UserPosition) error
	ListPositions(ctx context.Context) ([]domain.UserPosition, error)

	RecordRebalance(ctx context.Context, rec domain.RebalanceRecord) error
	RecentRebalances(ctx context.Context, limit int) ([]domain.RebalanceRecord, error)

	Tokens() Tokens
}

// Tokens mueve el activo y emite/quema shares dentro de la transacción.
type Tokens interface {
	// TransferIn mueve amount del owner a la cuenta del vault.
	TransferIn(ctx context.Context, owner string, amount uint64) error
	// TransferOut mueve amount de la cuenta del vault al owner.
	TransferOut(ctx context.Context, owner string, amount uint64) error
	Mint(ctx context.Context, owner string, shares uint64) error
	Burn(ctx context.Context, owner string, shares uint64) error

	// VaultBalance es la liquidez disponible del vault en el activo.
	VaultBalance(ctx context.Context) (uint64, error)
	AssetBalance(ctx context.Context, owner string) (uint64, error)
	ShareBalance(ctx context.Context, owner string) (uint64, error)
}
