package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lyzr/taskplane/common/logger"
	"github.com/lyzr/taskplane/common/models"
	rediscommon "github.com/lyzr/taskplane/common/redis"
)

const (
	channelPrefix  = "taskplane:events:"
	channelPattern = channelPrefix + "*"
)

// Publisher delivers result events to subscribers
type Publisher interface {
	Publish(ctx context.Context, event models.BlobEvent) error
}

// HubPublisher hands events straight to an in-process hub
type HubPublisher struct {
	hub *Hub
}

func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(ctx context.Context, event models.BlobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return p.hub.Broadcast(ctx, &Message{SessionID: event.SessionID, Data: data})
}

// RedisPublisher publishes events on taskplane:events:{session} so every
// control plane replica can forward them to its own subscribers
type RedisPublisher struct {
	redis *rediscommon.Client
}

func NewRedisPublisher(client *rediscommon.Client) *RedisPublisher {
	return &RedisPublisher{redis: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, event models.BlobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return p.redis.PublishEvent(ctx, channelPrefix+event.SessionID, data)
}

// RedisSubscriber listens to redis pub/sub and forwards messages to the hub
type RedisSubscriber struct {
	redis *rediscommon.Client
	hub   *Hub
	log   *logger.Logger
}

// NewRedisSubscriber creates a new RedisSubscriber instance
func NewRedisSubscriber(client *rediscommon.Client, hub *Hub, log *logger.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		redis: client,
		hub:   hub,
		log:   log,
	}
}

// Start forwards messages until ctx ends. It fails only if the subscription cannot be set up.
func (s *RedisSubscriber) Start(ctx context.Context) error {
	pubsub, err := s.redis.PSubscribe(ctx, channelPattern)
	if err != nil {
		return err
	}

	go func() {
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				s.log.Info("redis subscriber stopping")
				return

			case msg, ok := <-ch:
				if !ok {
					return
				}

				sessionID := sessionFromChannel(msg.Channel)
				if sessionID == "" {
					s.log.Warn("invalid event channel", "channel", msg.Channel)
					continue
				}

				if err := s.hub.Broadcast(ctx, &Message{SessionID: sessionID, Data: []byte(msg.Payload)}); err != nil {
					return
				}
			}
		}
	}()
	return nil
}

// sessionFromChannel extracts the session id
// Example: "taskplane:events:s-1" → "s-1"
func sessionFromChannel(channel string) string {
	sessionID, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return ""
	}
	return sessionID
}
