package channel

import (
	"context"
	"sync"

	"github.com/clinops/intake-tracker/internal/events"
	"github.com/clinops/intake-tracker/internal/logging"
	"github.com/clinops/intake-tracker/internal/models"
)

// BusChannel delivers snapshots published on an in-process event bus.
// The dev server and tests publish with EventBus.PublishSnapshot.
type BusChannel struct {
	bus    *events.EventBus
	router *router
	logger *logging.Logger

	mu     sync.Mutex
	events <-chan events.Event
	wg     sync.WaitGroup
}

// NewBusChannel creates a channel reading from bus.
func NewBusChannel(bus *events.EventBus, logger *logging.Logger) *BusChannel {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &BusChannel{
		bus:    bus,
		router: newRouter(),
		logger: logger.Named("bus-channel"),
	}
}

// Connect starts routing bus snapshots to subscribers.
func (c *BusChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.events != nil {
		return nil
	}
	ch := c.bus.Subscribe(events.EventSnapshot)
	c.events = ch

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for ev := range ch {
			se, ok := ev.(*events.SnapshotEvent)
			if !ok {
				continue
			}
			if n := c.router.deliver(se.Snapshot); n == 0 {
				c.logger.Debug().Str("id", se.Snapshot.ID).Msg("Snapshot without subscriber")
			}
		}
	}()
	return nil
}

// Subscribe registers a stream for one job or batch id.
func (c *BusChannel) Subscribe(id string) (<-chan models.Snapshot, func()) {
	return c.router.add(id)
}

// Disconnect stops routing and closes every stream.
func (c *BusChannel) Disconnect() error {
	c.mu.Lock()
	ch := c.events
	c.events = nil
	c.mu.Unlock()

	if ch != nil {
		c.bus.Unsubscribe(events.EventSnapshot, ch)
		c.wg.Wait()
	}
	c.router.closeAll()
	return nil
}
