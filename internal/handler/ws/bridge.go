package ws

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatlink-backend/internal/protocol"
	"chatlink-backend/internal/service/presence"
	"chatlink-backend/pkg/logger"
	"chatlink-backend/pkg/metrics"
)

const (
	userChannelPrefix = "rt:user:"
	presenceChannel   = "rt:presence"
)

// Bridge relays events between nodes over Redis Pub/Sub. Each node
// subscribes to one channel per locally-connected user plus the shared
// presence channel; publications carry the origin node ID so a node never
// re-delivers its own traffic.
type Bridge struct {
	nodeID      uuid.UUID
	redisClient *redis.Client
	reg         *presence.Registry

	// onPresence rebroadcasts the local snapshot when a sibling node's
	// membership changed
	onPresence func()

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewBridge creates the cross-node relay
func NewBridge(redisClient *redis.Client, reg *presence.Registry) *Bridge {
	return &Bridge{
		nodeID:      uuid.New(),
		redisClient: redisClient,
		reg:         reg,
		cancels:     make(map[uuid.UUID]context.CancelFunc),
	}
}

// SetPresenceHandler installs the callback run when a sibling node reports a
// presence change
func (b *Bridge) SetPresenceHandler(fn func()) {
	b.onPresence = fn
}

// NodeID identifies this node on the relay
func (b *Bridge) NodeID() uuid.UUID { return b.nodeID }

// Start subscribes to the shared presence channel. Runs until ctx ends.
func (b *Bridge) Start(ctx context.Context) {
	pubsub := b.redisClient.Subscribe(ctx, presenceChannel)
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == b.nodeID.String() {
					continue
				}
				if b.onPresence != nil {
					b.onPresence()
				}
			}
		}
	}()
}

// PublishToUser forwards an event to sibling nodes holding handles for the
// user. Fire and forget: relay loss degrades to local-only delivery.
func (b *Bridge) PublishToUser(ctx context.Context, userID uuid.UUID, ev *protocol.Event) {
	if ev.Origin != uuid.Nil && ev.Origin != b.nodeID {
		// Already relayed once; never bounce events between nodes
		return
	}

	stamped := *ev
	stamped.Origin = b.nodeID
	data, err := stamped.Encode()
	if err != nil {
		metrics.RelayPublishTotal.WithLabelValues("encode_failed").Inc()
		return
	}

	if err := b.redisClient.Publish(ctx, userChannelPrefix+userID.String(), data).Err(); err != nil {
		metrics.RelayPublishTotal.WithLabelValues("error").Inc()
		logger.Log.Warn("relay publish failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}
	metrics.RelayPublishTotal.WithLabelValues("ok").Inc()
}

// PublishPresence nudges sibling nodes to rebroadcast their snapshots
func (b *Bridge) PublishPresence(ctx context.Context) {
	if err := b.redisClient.Publish(ctx, presenceChannel, b.nodeID.String()).Err(); err != nil {
		metrics.RelayPublishTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.RelayPublishTotal.WithLabelValues("ok").Inc()
}

// EnsureSubscribed opens the user's relay channel on this node. Idempotent;
// called whenever one of the user's handles connects here.
func (b *Bridge) EnsureSubscribed(userID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.cancels[userID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancels[userID] = cancel
	metrics.RelaySubscriptionsActive.Inc()

	go b.consumeUser(ctx, userID)
}

// Release closes the user's relay channel once their last local handle is
// gone
func (b *Bridge) Release(userID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cancel, ok := b.cancels[userID]; ok {
		cancel()
		delete(b.cancels, userID)
		metrics.RelaySubscriptionsActive.Dec()
	}
}

// Close tears down every subscription
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for userID, cancel := range b.cancels {
		cancel()
		delete(b.cancels, userID)
		metrics.RelaySubscriptionsActive.Dec()
	}
}

func (b *Bridge) consumeUser(ctx context.Context, userID uuid.UUID) {
	pubsub := b.redisClient.Subscribe(ctx, userChannelPrefix+userID.String())
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := protocol.Decode([]byte(msg.Payload))
			if err != nil {
				logger.Log.Warn("relay frame undecodable", zap.Error(err))
				continue
			}
			if ev.Origin == b.nodeID {
				continue
			}
			b.reg.DeliverLocal(userID, ev)
		}
	}
}
