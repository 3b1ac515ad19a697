package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/memophor/scedge/types"
)

// RedisSource subscribes to invalidation events on a Redis Pub/Sub channel.
// go-redis resubscribes transparently after connection loss; the receive
// loop only has to survive transient errors.
type RedisSource struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   types.Logger
	client   *redis.Client
	channel  string
	messages chan []byte
}

func NewRedisSource(ctx context.Context, logger types.Logger, config *types.BusConfig) (*RedisSource, error) {
	if config == nil || config.Channel == "" {
		return nil, types.ErrBusNotConfigured
	}

	rConfig := config.Redis
	if rConfig == nil {
		rConfig = &types.RedisConfig{Host: "localhost", Port: 6379}
	}

	sourceCtx, cancel := context.WithCancel(ctx)

	source := &RedisSource{
		ctx:      sourceCtx,
		cancel:   cancel,
		logger:   logger,
		channel:  config.Channel,
		messages: make(chan []byte, 256),
		client: redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", rConfig.Host, rConfig.Port),
			Password: rConfig.Password,
			DB:       rConfig.DB,
		}),
	}

	pingCtx, pingCancel := context.WithTimeout(sourceCtx, 5*time.Second)
	defer pingCancel()
	if err := source.client.Ping(pingCtx).Err(); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to connect to redis bus")
	}

	return source, nil
}

func (r *RedisSource) Start() error {
	pubsub := r.client.Subscribe(r.ctx, r.channel)

	if _, err := pubsub.Receive(r.ctx); err != nil {
		return types.WrapError(err, "failed to subscribe to bus channel")
	}

	go r.receiveLoop(pubsub)

	r.logger.Info("Redis bus source started", zap.String("channel", r.channel))
	return nil
}

func (r *RedisSource) Stop() error {
	r.cancel()
	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis bus client")
	}
	return nil
}

func (r *RedisSource) Messages() <-chan []byte {
	return r.messages
}

func (r *RedisSource) receiveLoop(pubsub *redis.PubSub) {
	defer close(r.messages)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				r.logger.Warn("Redis bus subscription closed")
				return
			}

			select {
			case r.messages <- []byte(msg.Payload):
			case <-r.ctx.Done():
				return
			default:
				r.logger.Error("Event buffer full, dropping bus message",
					zap.String("channel", r.channel))
			}
		}
	}
}

var _ Source = (*RedisSource)(nil)
