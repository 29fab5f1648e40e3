package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/clinops/intake-tracker/internal/api"
	"github.com/clinops/intake-tracker/internal/constants"
	"github.com/clinops/intake-tracker/internal/logging"
	"github.com/clinops/intake-tracker/internal/models"
)

// RedisChannel receives snapshots from Redis pub/sub, one channel per id
// ("progress:<id>"). Used when the extraction service runs next to the
// dashboard and publishes progress instead of serving a websocket.
type RedisChannel struct {
	rdb    *redis.Client
	logger *logging.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	subs   map[*redisSub]struct{}
	closed bool
	wg     sync.WaitGroup
}

type redisSub struct {
	id     string
	pubsub *redis.PubSub
	out    chan models.Snapshot
	stop   chan struct{}
	once   sync.Once
}

// NewRedisChannel parses a redis:// URL and prepares the channel.
func NewRedisChannel(redisURL string, logger *logging.Logger) (*RedisChannel, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewRedisChannelWithClient(redis.NewClient(opts), logger), nil
}

// NewRedisChannelWithClient wraps an existing client. The channel owns it from then on.
func NewRedisChannelWithClient(rdb *redis.Client, logger *logging.Logger) *RedisChannel {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisChannel{
		rdb:    rdb,
		logger: logger.Named("redis-channel"),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[*redisSub]struct{}),
	}
}

// ChannelName is the pub/sub channel carrying updates for id.
func ChannelName(id string) string {
	return constants.RedisChannelPrefix + id
}

// Connect checks that Redis is reachable.
func (c *RedisChannel) Connect(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription for one job or batch id.
func (c *RedisChannel) Subscribe(id string) (<-chan models.Snapshot, func()) {
	sub := &redisSub{
		id:   id,
		out:  make(chan models.Snapshot, constants.SubscriptionBuffer),
		stop: make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(sub.out)
		return sub.out, func() {}
	}
	sub.pubsub = c.rdb.Subscribe(c.ctx, ChannelName(id))
	c.subs[sub] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.forward(sub)

	return sub.out, func() { c.unsubscribe(sub) }
}

func (c *RedisChannel) forward(sub *redisSub) {
	defer c.wg.Done()
	defer close(sub.out)

	msgs := sub.pubsub.Channel()
	for {
		select {
		case <-sub.stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			snap, err := decodeRedisMessage(msg.Payload, sub.id)
			if err != nil {
				c.logger.Debug().Err(err).Str("channel", msg.Channel).Msg("Ignoring unreadable progress message")
				continue
			}
			select {
			case sub.out <- snap:
			default:
			}
		}
	}
}

// decodeRedisMessage parses a payload and drops messages published for a different id.
func decodeRedisMessage(payload, id string) (models.Snapshot, error) {
	snap, err := api.ParseSnapshot([]byte(payload), models.SourcePush)
	if err != nil {
		return models.Snapshot{}, err
	}
	if snap.ID != id {
		return models.Snapshot{}, fmt.Errorf("message for %q on channel of %q", snap.ID, id)
	}
	return snap, nil
}

func (c *RedisChannel) unsubscribe(sub *redisSub) {
	sub.once.Do(func() {
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()

		close(sub.stop)
		if err := sub.pubsub.Close(); err != nil {
			c.logger.Debug().Err(err).Str("id", sub.id).Msg("Failed to close subscription")
		}
	})
}

// Disconnect closes every subscription and the Redis client.
func (c *RedisChannel) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*redisSub, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		c.unsubscribe(sub)
	}
	c.cancel()
	c.wg.Wait()
	return c.rdb.Close()
}
