package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/aquademia/notify-engine/internal/dispatch"
	goredis "github.com/redis/go-redis/v9"
)

const connectionChannelPrefix = "notify:conn:"

var _ dispatch.ConnectionPusher = (*ConnectionPusher)(nil)

// ConnectionPusher delivers live pushes over redis pub/sub. Socket gateway
// instances subscribe to their connections' channels; a publish that reaches
// zero subscribers means the connection died between presence registration and
// the push, and is reported as a failed push.
type ConnectionPusher struct {
	client *goredis.Client
}

func NewConnectionPusher(client *goredis.Client) (*ConnectionPusher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &ConnectionPusher{client: client}, nil
}

func (p *ConnectionPusher) PushToConnection(ctx context.Context, connectionID string, payload []byte) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("connection pusher is not initialized")
	}
	if strings.TrimSpace(connectionID) == "" {
		return fmt.Errorf("connection id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	receivers, err := p.client.Publish(ctx, connectionChannelPrefix+connectionID, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to connection %q: %w", connectionID, err)
	}
	if receivers == 0 {
		return fmt.Errorf("connection %q has no subscribed gateway", connectionID)
	}

	return nil
}
