package paper

import (
	"context"
	"sync"
	"time"
)

// SlotDuration es la duración de un tick (slot de Solana).
const SlotDuration = 400 * time.Millisecond

// ManualClock es un reloj controlado por el test.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Time
	tick uint64
}

// NewManualClock crea un reloj en now con el tick dado.
func NewManualClock(now time.Time, tick uint64) *ManualClock {
	return &ManualClock{now: now, tick: tick}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Tick(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick, nil
}

// Advance mueve el reloj d y suma los ticks equivalentes.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.tick += uint64(d / SlotDuration)
}

// AdvanceTicks suma n ticks sin mover el tiempo de pared.
func (c *ManualClock) AdvanceTicks(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick += n
}

// WallClock deriva el tick del tiempo real transcurrido desde genesis.
type WallClock struct {
	genesis time.Time
}

// NewWallClock crea un reloj cuyo tick 0 es genesis.
func NewWallClock(genesis time.Time) *WallClock {
	return &WallClock{genesis: genesis}
}

// NewWallClockAt crea un reloj que marca startTick en anchor. Sirve para que
// el primer rebalanceo después de crear el vault no espere un cooldown
// entero.
func NewWallClockAt(anchor time.Time, startTick uint64) *WallClock {
	return &WallClock{genesis: anchor.Add(-time.Duration(startTick) * SlotDuration)}
}

func (c *WallClock) Now() time.Time { return time.Now().UTC() }

func (c *WallClock) Tick(_ context.Context) (uint64, error) {
	elapsed := time.Since(c.genesis)
	if elapsed < 0 {
		return 0, nil
	}
	return uint64(elapsed / SlotDuration), nil
}
