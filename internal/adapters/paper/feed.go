package paper

import (
	"context"
	"sync"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/ports"
)

// StaticFeed publica un precio fijo, sellado con el reloj en cada lectura.
type StaticFeed struct {
	mu    sync.Mutex
	name  string
	price domain.FeedPrice
	clock ports.Clock
	err   error
}

// NewStaticFeed crea un feed con price*10^expo y confianza conf.
func NewStaticFeed(name string, price int64, expo int32, conf uint64, clock ports.Clock) *StaticFeed {
	return &StaticFeed{
		name:  name,
		clock: clock,
		price: domain.FeedPrice{Source: name, Price: price, Expo: expo, Conf: conf},
	}
}

// SetPrice cambia el precio publicado.
func (f *StaticFeed) SetPrice(price int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price.Price = price
}

// SetConfirmations hace que el feed reporte confirmaciones, como Switchboard.
func (f *StaticFeed) SetConfirmations(n uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price.Confirmations = n
	f.price.HasConfirmations = true
}

// SetError hace fallar las lecturas siguientes; nil las restablece.
func (f *StaticFeed) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *StaticFeed) Name() string { return f.name }

func (f *StaticFeed) Read(ctx context.Context) (domain.FeedPrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.FeedPrice{}, f.err
	}
	p := f.price
	p.PublishTime = f.clock.Now()
	return p, nil
}
