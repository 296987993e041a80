package ports

import (
	"context"
	"time"
)

// Clock provee el tiempo de pared y el tick discreto (slot) usado por los
// cooldowns.
type Clock interface {
	Now() time.Time
	Tick(ctx context.Context) (uint64, error)
}
