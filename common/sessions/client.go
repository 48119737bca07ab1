package sessions

import (
	"context"
	"fmt"

	"github.com/lyzr/taskplane/common/blobs"
	"github.com/lyzr/taskplane/common/clients"
	"github.com/lyzr/taskplane/common/config"
	taskerrors "github.com/lyzr/taskplane/common/errors"
	"github.com/lyzr/taskplane/common/events"
	"github.com/lyzr/taskplane/common/metrics"
	"github.com/lyzr/taskplane/common/models"
	"github.com/lyzr/taskplane/common/resolver"
	"github.com/lyzr/taskplane/common/tasks"
)

// Handle groups the services bound to one session
type Handle struct {
	Session   models.SessionInfo
	Blobs     *blobs.Store
	Resolver  *resolver.Resolver
	Submitter *tasks.Submitter
	Events    *events.Waiter
}

// SessionID returns the id of the session the handle is bound to
func (h *Handle) SessionID() string {
	return h.Session.SessionID
}

// Client is the entry point of the SDK. It owns the transport and hands out
// one Handle per session.
type Client struct {
	cfg       config.ClientConfig
	transport clients.Transport
	events    clients.EventsClient
	sessions  *Service
	metrics   *metrics.Transfer
	logger    clients.Logger
	mode      resolver.Mode
	handles   *Registry[*Handle]
}

// NewClient connects to the control plane described by cfg.
// m may be nil to disable metrics.
func NewClient(cfg config.ClientConfig, logger clients.Logger, m *metrics.Transfer) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []clients.ChannelOption
	if cfg.UserID != "" {
		opts = append(opts, clients.WithDefaultUserID(cfg.UserID))
	}
	pool, err := clients.NewHTTPChannelPool(cfg.Endpoint, cfg.ChannelPoolSize, cfg.RequestTimeout, logger, opts...)
	if err != nil {
		return nil, err
	}

	ws, err := events.NewWebsocketClient(cfg.Endpoint, logger)
	if err != nil {
		return nil, err
	}
	ws.SetDefaultUserID(cfg.UserID)

	logger.Info("taskplane client created",
		"endpoint", cfg.Endpoint,
		"channels", cfg.ChannelPoolSize,
		"resolution_mode", cfg.ResolutionMode,
	)
	return NewClientWithTransport(cfg, clients.NewControlPlaneClient(pool, cfg.RequestTimeout, logger), ws, logger, m)
}

// NewClientWithTransport builds a client on an existing transport
func NewClientWithTransport(cfg config.ClientConfig, transport clients.Transport, ev clients.EventsClient, logger clients.Logger, m *metrics.Transfer) (*Client, error) {
	mode, err := resolver.ParseMode(cfg.ResolutionMode)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:       cfg,
		transport: transport,
		events:    ev,
		sessions:  NewService(transport, logger),
		metrics:   m,
		logger:    logger,
		mode:      mode,
		handles:   NewRegistry[*Handle](),
	}, nil
}

// Sessions returns the session lifecycle service
func (c *Client) Sessions() *Service {
	return c.sessions
}

// CreateSession opens a session and returns its handle
func (c *Client) CreateSession(ctx context.Context, req clients.CreateSessionRequest) (*Handle, error) {
	info, err := c.sessions.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.handles.Get(info.SessionID, func() (*Handle, error) {
		return c.newHandle(info)
	})
}

// Handle returns the handle of an existing session. The session is looked up
// on the control plane the first time; an unknown session is an UnresolvedReference.
func (c *Client) Handle(ctx context.Context, sessionID string) (*Handle, error) {
	if sessionID == "" {
		return nil, taskerrors.UnresolvedReference("sessions", "Handle", "no session id")
	}
	return c.handles.Get(sessionID, func() (*Handle, error) {
		info, err := c.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return c.newHandle(info)
	})
}

// Forget drops the handle of a session. The session itself is untouched.
func (c *Client) Forget(sessionID string) {
	c.handles.Drop(sessionID)
}

// DeleteSession deletes the session on the control plane and drops its handle
func (c *Client) DeleteSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	info, err := c.sessions.Delete(ctx, sessionID)
	if err != nil {
		return info, err
	}
	c.handles.Drop(sessionID)
	return info, nil
}

func (c *Client) newHandle(info models.SessionInfo) (*Handle, error) {
	store := blobs.New(c.transport, c.logger, c.metrics, blobs.Options{
		ChunkSizeOverride: c.cfg.ChunkSizeOverride,
		Concurrency:       c.cfg.UploadConcurrency,
	})
	res := resolver.New(store, c.logger, c.mode)

	submitter, err := tasks.New(c.transport, res, c.logger, c.metrics, info.DefaultTaskOptions)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", info.SessionID, err)
	}

	h := &Handle{
		Session:   info,
		Blobs:     store,
		Resolver:  res,
		Submitter: submitter,
	}
	if c.events != nil {
		h.Events = events.NewWaiter(c.events, store, c.logger)
	}

	c.logger.Debug("session handle created", "session_id", info.SessionID)
	return h, nil
}
