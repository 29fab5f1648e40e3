package devserver

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/clinops/intake-tracker/internal/channel"
	"github.com/clinops/intake-tracker/internal/events"
	"github.com/clinops/intake-tracker/internal/logging"
	"github.com/clinops/intake-tracker/internal/models"
)

// Publisher pushes record updates to progress subscribers.
type Publisher interface {
	PublishJob(ctx context.Context, job *models.Job)
	PublishBatch(ctx context.Context, batch *models.Batch)
}

// message is the wire form of a pushed update, shared by the websocket hub
// and Redis.
type message struct {
	Type  string        `json:"type"`
	Job   *models.Job   `json:"job,omitempty"`
	Batch *models.Batch `json:"batch,omitempty"`
}

func encodeJob(job *models.Job) []byte {
	b, _ := json.Marshal(message{Type: "job", Job: job})
	return b
}

func encodeBatch(batch *models.Batch) []byte {
	b, _ := json.Marshal(message{Type: "batch", Batch: batch})
	return b
}

// Publishers fans an update out to several publishers.
type Publishers []Publisher

func (ps Publishers) PublishJob(ctx context.Context, job *models.Job) {
	for _, p := range ps {
		p.PublishJob(ctx, job)
	}
}

func (ps Publishers) PublishBatch(ctx context.Context, batch *models.Batch) {
	for _, p := range ps {
		p.PublishBatch(ctx, batch)
	}
}

// RedisPublisher publishes updates on progress:<id>, the channel RedisChannel listens on.
type RedisPublisher struct {
	rdb    *redis.Client
	logger *logging.Logger
}

// NewRedisPublisher connects to redisURL (redis://host:port/db).
func NewRedisPublisher(redisURL string, logger *logging.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisPublisherWithClient(redis.NewClient(opts), logger), nil
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(rdb *redis.Client, logger *logging.Logger) *RedisPublisher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RedisPublisher{rdb: rdb, logger: logger.Named("redis-publisher")}
}

func (p *RedisPublisher) PublishJob(ctx context.Context, job *models.Job) {
	p.publish(ctx, job.ID, encodeJob(job))
}

func (p *RedisPublisher) PublishBatch(ctx context.Context, batch *models.Batch) {
	p.publish(ctx, batch.ID, encodeBatch(batch))
}

func (p *RedisPublisher) publish(ctx context.Context, id string, payload []byte) {
	if err := p.rdb.Publish(ctx, channel.ChannelName(id), payload).Err(); err != nil {
		p.logger.Warn().Err(err).Str("id", id).Msg("Redis publish failed")
	}
}

// Close releases the Redis connection pool.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// BusPublisher hands updates to an in-process event bus, for a tracker
// running in the same process over a BusChannel.
type BusPublisher struct {
	Bus *events.EventBus
}

func (p BusPublisher) PublishJob(_ context.Context, job *models.Job) {
	p.Bus.PublishSnapshot(models.NewJobSnapshot(job.Clone(), models.SourcePush))
}

func (p BusPublisher) PublishBatch(_ context.Context, batch *models.Batch) {
	b := *batch
	p.Bus.PublishSnapshot(models.NewBatchSnapshot(&b, models.SourcePush))
}
