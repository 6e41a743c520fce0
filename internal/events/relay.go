package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RelayChannel is the Redis pub/sub channel carrying session updates
const RelayChannel = "videotagger:session-updates"

// Publisher accepts session update events
type Publisher interface {
	Publish(event SessionUpdateEvent)
}

// Relay carries events between processes over Redis pub/sub, so a
// standalone worker's updates reach the API process's subscribers.
type Relay struct {
	client *redis.Client
	local  *Broadcaster
	log    *logrus.Entry
}

// NewRelay creates a relay that delivers remote events to local
func NewRelay(client *redis.Client, local *Broadcaster, log *logrus.Entry) *Relay {
	return &Relay{client: client, local: local, log: log}
}

// Publish sends an event to every process listening on the relay
func (r *Relay) Publish(event SessionUpdateEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		r.log.WithError(err).Warn("failed to marshal session update")
		return
	}
	if err := r.client.Publish(context.Background(), RelayChannel, data).Err(); err != nil {
		r.log.WithError(err).WithField("session_id", event.SessionID).Warn("failed to relay session update")
	}
}

// Run forwards relayed events to the local broadcaster until ctx is done
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, RelayChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", RelayChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event SessionUpdateEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.log.WithError(err).Warn("dropping malformed session update")
				continue
			}
			r.local.Publish(event)
		}
	}
}
