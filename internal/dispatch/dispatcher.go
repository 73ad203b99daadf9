// Package dispatch pushes notifications over live connections. It decides
// reachability only; routing to the deferred email channel and all ledger
// updates stay with the orchestrator.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aquademia/notify-engine/internal/domain"
	"github.com/aquademia/notify-engine/internal/observability"
	"go.uber.org/zap"
)

const defaultPushTimeout = 3 * time.Second

// ConnectionSource exposes the live connections of a user.
type ConnectionSource interface {
	ConnectionsFor(userID string) []string
}

// ConnectionPusher is the outbound live-push port. A push failure is scoped to
// one connection and never aborts delivery to the recipient's other devices.
type ConnectionPusher interface {
	PushToConnection(ctx context.Context, connectionID string, payload []byte) error
}

// Outcome reports a delivery attempt for one recipient.
type Outcome struct {
	Attempted int
	Delivered int
}

// Live reports whether at least one connection received the push.
func (o Outcome) Live() bool { return o.Delivered > 0 }

type pushEnvelope struct {
	Type         string           `json:"type"`
	Notification pushNotification `json:"notification"`
}

type pushNotification struct {
	ID       string         `json:"id"`
	Category string         `json:"category"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Payload  domain.Payload `json:"payload,omitempty"`
	SentAt   time.Time      `json:"sentAt"`
}

type Dispatcher struct {
	connections ConnectionSource
	pusher      ConnectionPusher
	timeout     time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewDispatcher(
	connections ConnectionSource,
	pusher ConnectionPusher,
	timeout time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if connections == nil {
		return nil, fmt.Errorf("connection source is required")
	}
	if pusher == nil {
		return nil, fmt.Errorf("connection pusher is required")
	}
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		connections: connections,
		pusher:      pusher,
		timeout:     timeout,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Deliver fans the notification out to every live connection of its recipient.
// Each connection gets its own bounded-timeout push; a hung or dead connection
// cannot delay or fail the others. The ledger is never touched here.
func (d *Dispatcher) Deliver(ctx context.Context, notification *domain.Notification) Outcome {
	if notification == nil {
		return Outcome{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	connectionIDs := d.connections.ConnectionsFor(notification.RecipientID)
	if len(connectionIDs) == 0 {
		return Outcome{}
	}

	payload, err := json.Marshal(pushEnvelope{
		Type: "notification",
		Notification: pushNotification{
			ID:       notification.ID,
			Category: notification.Category,
			Title:    notification.Title,
			Body:     notification.Body,
			Payload:  notification.Payload,
			SentAt:   notification.SentAt,
		},
	})
	if err != nil {
		d.logger.Error("failed to encode push payload",
			zap.String("notificationId", notification.ID),
			zap.Error(err),
		)
		return Outcome{Attempted: len(connectionIDs)}
	}

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, connectionID := range connectionIDs {
		wg.Add(1)
		go func(connectionID string) {
			defer wg.Done()

			if d.pushOne(ctx, connectionID, notification.ID, payload) {
				delivered.Add(1)
			}
		}(connectionID)
	}
	wg.Wait()

	return Outcome{
		Attempted: len(connectionIDs),
		Delivered: int(delivered.Load()),
	}
}

func (d *Dispatcher) pushOne(ctx context.Context, connectionID, notificationID string, payload []byte) bool {
	pushCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := d.now()
	err := d.pusher.PushToConnection(pushCtx, connectionID, payload)
	if d.metrics != nil {
		d.metrics.ObserveLivePushDuration(d.now().Sub(start))
		d.metrics.IncLivePush(err == nil)
	}

	if err != nil {
		d.logger.Warn("live push failed",
			zap.String("notificationId", notificationID),
			zap.String("connectionId", connectionID),
			zap.Error(err),
		)
		return false
	}

	return true
}
