package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyzr/taskplane/common/clients"
	taskerrors "github.com/lyzr/taskplane/common/errors"
	"github.com/lyzr/taskplane/common/models"
)

const (
	// Time allowed to complete the websocket handshake
	handshakeTimeout = 10 * time.Second

	// Maximum size of one event message
	maxMessageSize = 64 << 10
)

// WebsocketClient subscribes to session events over the control plane websocket
type WebsocketClient struct {
	endpoint      string
	dialer        *websocket.Dialer
	logger        clients.Logger
	defaultUserID string
}

var _ clients.EventsClient = (*WebsocketClient)(nil)

// NewWebsocketClient creates a client for the control plane at endpoint (http, https, ws or wss)
func NewWebsocketClient(endpoint string, logger clients.Logger) (*WebsocketClient, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, taskerrors.InvalidConfiguration("events", "NewWebsocketClient", "invalid endpoint %q: %v", endpoint, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, taskerrors.InvalidConfiguration("events", "NewWebsocketClient", "unsupported scheme %q", u.Scheme)
	}

	return &WebsocketClient{
		endpoint: u.String(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger,
	}, nil
}

// SetDefaultUserID sets the user sent when the subscription context carries none
func (c *WebsocketClient) SetDefaultUserID(userID string) {
	c.defaultUserID = userID
}

// Subscribe opens a websocket for the events of one session.
// The stream is closed when ctx ends.
func (c *WebsocketClient) Subscribe(ctx context.Context, sessionID string) (clients.EventStream, error) {
	header := http.Header{}
	if userID, ok := clients.GetUserID(ctx); ok {
		header.Set("X-User-ID", userID)
	} else if c.defaultUserID != "" {
		header.Set("X-User-ID", c.defaultUserID)
	}

	target := c.endpoint + "/api/v1/events/ws?session_id=" + url.QueryEscape(sessionID)
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if rerr := clients.CheckResponse(resp); rerr != nil {
				return nil, rerr
			}
		}
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)

	s := &wsStream{
		conn: conn,
		done: make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	c.logger.Debug("subscribed to session events", "session_id", sessionID)
	return s, nil
}

type wsStream struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (s *wsStream) Recv() (models.BlobEvent, error) {
	var event models.BlobEvent
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return event, err
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return event, err
	}
	return event, nil
}

func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
