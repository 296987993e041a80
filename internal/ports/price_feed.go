package ports

import (
	"context"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
)

// PriceFeed lee la última observación de un oráculo de precio.
type PriceFeed interface {
	Name() string
	Read(ctx context.Context) (domain.FeedPrice, error)
}
