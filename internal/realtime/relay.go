package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"corkboard/internal/logging"
	"corkboard/internal/metrics"
)

const (
	envelopeBoard      = "board"
	envelopeUser       = "user"
	envelopeEvictShare = "evict_share"
	envelopeCloseRoom  = "close_room"
)

// Envelope is the cross-instance form of a delivery. Seq increases with
// every envelope an origin publishes, so receivers apply each origin's
// envelopes in publish order. Envelopes from different origins carry no
// relative order.
type Envelope struct {
	Origin  string          `json:"origin"`
	Seq     uint64          `json:"seq,omitempty"`
	Kind    string          `json:"kind"`
	BoardID string          `json:"boardId,omitempty"`
	UserID  string          `json:"userId,omitempty"`
	ShareID string          `json:"shareId,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Name    string          `json:"name,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// DeliverRemote applies an envelope received from another instance to local
// connections only.
func (h *Hub) DeliverRemote(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if env.Seq != 0 {
		if env.Seq <= h.remoteSeq[env.Origin] {
			metrics.EventsDropped.WithLabelValues("relay_stale").Inc()
			return
		}
		h.remoteSeq[env.Origin] = env.Seq
	}
	switch env.Kind {
	case envelopeBoard:
		r, ok := h.rooms[env.BoardID]
		if !ok {
			return
		}
		h.deliverRoom(env.BoardID, r, Frame{Name: env.Name, Data: env.Data}, env.Exclude)
		h.dropIfIdle(env.BoardID, r)
	case envelopeUser:
		h.deliverUser(env.UserID, Frame{Name: env.Name, Data: env.Data})
	case envelopeEvictShare:
		h.evictShareLocked(env.ShareID)
	case envelopeCloseRoom:
		h.closeRoomLocked(env.BoardID)
	default:
		h.logger.Warn().Str("kind", env.Kind).Msg("unknown relay envelope")
	}
}

// RedisRelay fans hub deliveries out over a Redis Pub/Sub channel. A single
// publisher goroutine keeps per-instance order; envelopes published by this
// instance are ignored on receipt.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger

	ownsClient bool
	queue      chan Envelope
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	mu     sync.Mutex
	origin string
	pubsub *redis.PubSub
}

func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = "corkboard:realtime"
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		logger:  logging.WithComponent("realtime"),
		queue:   make(chan Envelope, 1024),
		stop:    make(chan struct{}),
	}
}

// Start subscribes to the relay channel, attaches itself to hub and begins
// relaying. It returns once the subscription is confirmed.
func (r *RedisRelay) Start(ctx context.Context, hub *Hub) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.mu.Lock()
	r.origin = hub.InstanceID()
	r.pubsub = pubsub
	r.mu.Unlock()

	r.wg.Add(2)
	go r.publishLoop()
	go r.receiveLoop(pubsub, hub)
	hub.AttachRelay(r)
	return nil
}

// Publish queues env for other instances. A full queue drops it.
func (r *RedisRelay) Publish(env Envelope) {
	select {
	case r.queue <- env:
	default:
		metrics.EventsDropped.WithLabelValues("relay_full").Inc()
	}
}

func (r *RedisRelay) Close() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.stop)
		r.mu.Lock()
		pubsub := r.pubsub
		r.mu.Unlock()
		if pubsub != nil {
			err = pubsub.Close()
		}
		r.wg.Wait()
		if r.ownsClient {
			err = errors.Join(err, r.client.Close())
		}
	})
	return err
}

func (r *RedisRelay) publishLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case env := <-r.queue:
			payload, err := json.Marshal(env)
			if err != nil {
				r.logger.Warn().Err(err).Msg("encode relay envelope")
				continue
			}
			if err := r.client.Publish(context.Background(), r.channel, payload).Err(); err != nil {
				r.logger.Warn().Err(err).Str("kind", env.Kind).Msg("relay publish failed")
				continue
			}
			metrics.RelayMessages.WithLabelValues("out").Inc()
		}
	}
}

func (r *RedisRelay) receiveLoop(pubsub *redis.PubSub, hub *Hub) {
	defer r.wg.Done()
	ch := pubsub.Channel()
	for {
		select {
		case <-r.stop:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn().Err(err).Msg("decode relay envelope")
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			metrics.RelayMessages.WithLabelValues("in").Inc()
			hub.DeliverRemote(env)
		}
	}
}

// ErrRelayDisabled is returned by OpenRelay when no Redis URL is configured.
var ErrRelayDisabled = errors.New("realtime relay disabled")

// OpenRelay connects to redisURL and returns an unstarted relay.
func OpenRelay(ctx context.Context, redisURL string) (*RedisRelay, error) {
	if redisURL == "" {
		return nil, ErrRelayDisabled
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	relay := NewRedisRelay(client, "")
	relay.ownsClient = true
	return relay, nil
}
