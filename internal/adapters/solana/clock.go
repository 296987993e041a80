package solana

import (
	"context"
	"time"
)

// SlotClock implementa ports.Clock: el tick es el slot del cluster y el
// tiempo es el reloj de pared local.
type SlotClock struct {
	client *Client
}

// NewSlotClock crea un reloj respaldado por getSlot.
func NewSlotClock(client *Client) *SlotClock {
	return &SlotClock{client: client}
}

func (c *SlotClock) Now() time.Time { return time.Now().UTC() }

func (c *SlotClock) Tick(ctx context.Context) (uint64, error) {
	return c.client.GetSlot(ctx)
}
