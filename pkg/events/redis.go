package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuemby/claimd/pkg/log"
	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisPublisher is the part of *redis.Client the forwarder needs
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisConfig configures the Redis notification forwarder
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Timeout  time.Duration
}

// RedisForwarder publishes every broker event as JSON on the Redis channel
// "<prefix>.<EventName>". Delivery is at-most-once: failures are logged and
// counted, never retried.
type RedisForwarder struct {
	client  redisPublisher
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewRedisForwarder connects a forwarder to the Redis server in cfg
func NewRedisForwarder(cfg RedisConfig) *RedisForwarder {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisForwarder(client, cfg.Prefix, cfg.Timeout)
}

func newRedisForwarder(client redisPublisher, prefix string, timeout time.Duration) *RedisForwarder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisForwarder{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		logger:  log.WithComponent("events"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start forwards events from sub until Stop is called or sub is closed
func (f *RedisForwarder) Start(sub Subscriber) {
	f.started = true
	go func() {
		defer close(f.doneCh)
		for {
			select {
			case event, ok := <-sub:
				if !ok {
					return
				}
				f.forward(event)
			case <-f.stopCh:
				return
			}
		}
	}()
}

func (f *RedisForwarder) forward(event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		f.logger.Error().Err(err).Str("event", string(event.Type)).Msg("Failed to encode notification")
		metrics.NotificationsDropped.Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	subject := event.Subject(f.prefix)
	if err := f.client.Publish(ctx, subject, payload).Err(); err != nil {
		f.logger.Warn().Err(err).Str("subject", subject).Msg("Failed to publish notification")
		metrics.NotificationsDropped.Inc()
		return
	}
	f.logger.Debug().Str("subject", subject).Str("event_id", event.ID).Msg("Notification published")
}

// Ping checks that the Redis server answers
func (f *RedisForwarder) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Stop stops forwarding and closes the Redis client
func (f *RedisForwarder) Stop() error {
	close(f.stopCh)
	if f.started {
		<-f.doneCh
	}
	return f.client.Close()
}
