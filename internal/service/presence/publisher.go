package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatlink-backend/internal/protocol"
	"chatlink-backend/pkg/metrics"
)

// Mirror persists the online set outside the process so HTTP surfaces and
// sibling nodes can read presence. Failures are logged, never propagated:
// the in-memory registry stays authoritative.
type Mirror interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
}

// Publisher broadcasts the full current online-id set to all live
// connections whenever the online/offline membership changes. Full-set
// snapshots trade bandwidth for simplicity; clients just replace their view.
type Publisher struct {
	reg    *Registry
	mirror Mirror
	relay  Relay
	log    *zap.Logger

	mirrorTimeout time.Duration
}

// NewPublisher creates a presence publisher. mirror may be nil.
func NewPublisher(reg *Registry, mirror Mirror, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		reg:           reg,
		mirror:        mirror,
		log:           log,
		mirrorTimeout: 3 * time.Second,
	}
}

// SetRelay installs the cross-node relay used to nudge sibling nodes into
// rebroadcasting their own snapshots
func (p *Publisher) SetRelay(relay Relay) {
	p.relay = relay
}

// HandleTransition is the registry's transition callback. The snapshot it
// broadcasts is taken after the mutation, so it is never older than the
// triggering change.
func (p *Publisher) HandleTransition(userID uuid.UUID, online bool) {
	p.mirrorTransition(userID, online)
	p.BroadcastSnapshot()

	if p.relay != nil {
		p.relay.PublishPresence(context.Background())
	}
}

// BroadcastSnapshot pushes the current online set to every live connection
func (p *Publisher) BroadcastSnapshot() {
	ids := p.reg.OnlineIDs()
	p.reg.Broadcast(protocol.NewPresenceSnapshot(ids))
	metrics.PresenceBroadcastTotal.Inc()

	p.log.Debug("presence snapshot broadcast", zap.Int("online", len(ids)))
}

func (p *Publisher) mirrorTransition(userID uuid.UUID, online bool) {
	if p.mirror == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.mirrorTimeout)
	defer cancel()

	var err error
	if online {
		err = p.mirror.SetUserOnline(ctx, userID)
	} else {
		err = p.mirror.SetUserOffline(ctx, userID)
	}
	if err != nil {
		p.log.Warn("presence mirror update failed",
			zap.String("user_id", userID.String()),
			zap.Bool("online", online),
			zap.Error(err))
	}
}
