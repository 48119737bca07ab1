package container

import (
	"context"
	"fmt"

	"github.com/lyzr/taskplane/cmd/controlplane/content"
	"github.com/lyzr/taskplane/cmd/controlplane/events"
	"github.com/lyzr/taskplane/cmd/controlplane/repository"
	"github.com/lyzr/taskplane/cmd/controlplane/service"
	"github.com/lyzr/taskplane/common/bootstrap"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Storage
	Store   repository.Store
	Content content.Store

	// Events
	Hub        *events.Hub
	Publisher  events.Publisher
	subscriber *events.RedisSubscriber

	// Services
	SessionService *service.SessionService
	ResultService  *service.ResultService
	TaskService    *service.TaskService
}

// NewContainer initializes all services and repositories once.
// Postgres and redis are used when bootstrap connected them.
func NewContainer(components *bootstrap.Components) (*Container, error) {
	log := components.Logger

	var store repository.Store = repository.NewMemoryStore()
	if components.DB != nil {
		store = repository.NewPostgresStore(components.DB)
	}

	var data content.Store = content.NewMemoryStore()
	hub := events.NewHub(log.WithComponent("events"))
	var publisher events.Publisher = events.NewHubPublisher(hub)
	var subscriber *events.RedisSubscriber

	if components.Redis != nil {
		data = content.NewRedisStore(components.Redis, components.Config.Redis.ContentTTL)
		publisher = events.NewRedisPublisher(components.Redis)
		subscriber = events.NewRedisSubscriber(components.Redis, hub, log.WithComponent("events"))
	}

	filter, err := service.NewFilter()
	if err != nil {
		return nil, fmt.Errorf("failed to create result filter: %w", err)
	}

	// Services (bottom-up: dependencies first)
	sessions := service.NewSessionService(store, data, publisher, log)
	results := service.NewResultService(
		store,
		sessions,
		data,
		publisher,
		filter,
		components.Config.ControlPlane.DataChunkMaxSize,
		components.Metrics,
		log,
	)
	tasks := service.NewTaskService(store, sessions, components.Metrics, log)

	log.Info("control plane container initialized",
		"postgres", components.DB != nil,
		"redis", components.Redis != nil,
	)

	return &Container{
		Components:     components,
		Store:          store,
		Content:        data,
		Hub:            hub,
		Publisher:      publisher,
		subscriber:     subscriber,
		SessionService: sessions,
		ResultService:  results,
		TaskService:    tasks,
	}, nil
}

// Start runs the event hub and, with redis, the pub/sub bridge feeding it.
// Both stop when ctx is done.
func (c *Container) Start(ctx context.Context) error {
	go c.Hub.Run(ctx)

	if c.subscriber != nil {
		if err := c.subscriber.Start(ctx); err != nil {
			return fmt.Errorf("failed to start event subscriber: %w", err)
		}
	}
	return nil
}
