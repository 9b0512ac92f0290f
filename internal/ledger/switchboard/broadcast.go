package switchboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
)

// Channel is the redis pub/sub channel emergency changes broadcast on.
const Channel = "ledgergate:switchboard:emergencies"

// broadcastMessage is the wire form of an EmergencyChange, tagged with the
// publishing instance so an instance never re-applies its own message.
type broadcastMessage struct {
	Origin string          `json:"origin"`
	Change EmergencyChange `json:"change"`
}

// Broadcaster fans emergency-flag changes out to every ledgergated instance
// over redis pub/sub: a kill switch activated on one instance must take
// effect fleet-wide, not just on the node the operator happened to hit.
type Broadcaster struct {
	board    *Board
	rdb      *redis.Client
	logger   *slog.Logger
	origin   string
	applying atomic.Bool
}

// NewBroadcaster wires the broadcaster to board and registers the emergency
// hook that publishes local changes. Call Run on a background goroutine to
// receive remote ones.
func NewBroadcaster(board *Board, rdb *redis.Client, logger *slog.Logger) *Broadcaster {
	b := &Broadcaster{board: board, rdb: rdb, logger: logger, origin: uuid.NewString()}
	board.SetEmergencyHook(b.publish)
	return b
}

func (b *Broadcaster) publish(change EmergencyChange) {
	// A change the Run loop is applying came from another instance; it is
	// already on the channel and must not echo back out.
	if b.applying.Load() {
		return
	}
	payload, err := json.Marshal(broadcastMessage{Origin: b.origin, Change: change})
	if err != nil {
		b.logger.Error("marshal emergency broadcast", slog.Any("error", err))
		return
	}
	if err := b.rdb.Publish(context.Background(), Channel, payload).Err(); err != nil {
		b.logger.Error("publish emergency broadcast", slog.Any("error", err))
	}
}

// Run subscribes to the broadcast channel and applies remote emergency
// changes to the local board until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, Channel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var decoded broadcastMessage
			if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
				b.logger.Warn("malformed emergency broadcast", slog.Any("error", err))
				continue
			}
			if decoded.Origin == b.origin {
				continue
			}
			b.apply(ctx, decoded.Change)
		}
	}
}

func (b *Broadcaster) apply(ctx context.Context, change EmergencyChange) {
	b.applying.Store(true)
	defer b.applying.Store(false)

	actor := ledgershared.UserRef{ID: change.ActorID, Name: "switchboard-broadcast"}
	var err error
	if change.Active {
		err = b.board.ActivateEmergency(ctx, change.Name, change.CoveredWorkflows, change.Reason, actor)
	} else {
		err = b.board.DeactivateEmergency(ctx, change.Name, actor)
	}
	if err != nil {
		b.logger.Error("apply emergency broadcast", slog.String("name", change.Name), slog.Any("error", err))
		return
	}
	b.logger.Info("applied emergency broadcast", slog.String("name", change.Name), slog.Bool("active", change.Active))
}
