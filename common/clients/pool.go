package clients

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	taskerrors "github.com/lyzr/taskplane/common/errors"
)

// Channel is one pooled connection to the control plane
type Channel struct {
	ID      int
	BaseURL string
	HTTP    *HTTPClient
}

// URL joins the base URL with path
func (c *Channel) URL(path string) string {
	return c.BaseURL + path
}

// ChannelPool hands out a bounded number of channels.
// A caller waits for a free channel and gives up when its context ends.
type ChannelPool struct {
	slots chan *Channel
	size  int
}

// NewChannelPool creates size channels through factory
func NewChannelPool(size int, factory func(id int) *Channel) (*ChannelPool, error) {
	if size <= 0 {
		return nil, taskerrors.InvalidConfiguration("clients", "NewChannelPool", "pool size must be positive, got %d", size)
	}

	p := &ChannelPool{
		slots: make(chan *Channel, size),
		size:  size,
	}
	for i := 0; i < size; i++ {
		p.slots <- factory(i)
	}
	return p, nil
}

// ChannelOption customizes a channel of an HTTP pool
type ChannelOption func(*Channel)

// WithDefaultUserID sends userID on requests whose context carries none
func WithDefaultUserID(userID string) ChannelOption {
	return func(ch *Channel) {
		ch.HTTP.defaultUserID = userID
	}
}

// NewHTTPChannelPool creates a pool of channels to baseURL, each with its own
// http.Client and connection pool. dialTimeout bounds connection setup.
func NewHTTPChannelPool(baseURL string, size int, dialTimeout time.Duration, logger Logger, opts ...ChannelOption) (*ChannelPool, error) {
	if baseURL == "" {
		return nil, taskerrors.InvalidConfiguration("clients", "NewHTTPChannelPool", "endpoint is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return NewChannelPool(size, func(id int) *Channel {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = 2
		if dialTimeout > 0 {
			transport.DialContext = (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext
		}

		ch := &Channel{
			ID:      id,
			BaseURL: baseURL,
			// Client timeout stays zero: streams live as long as their context
			HTTP: NewHTTPClient(&http.Client{Transport: transport}, logger),
		}
		for _, opt := range opts {
			opt(ch)
		}
		return ch
	})
}

// Size returns the number of channels in the pool
func (p *ChannelPool) Size() int {
	return p.size
}

// Acquire takes a channel. The returned release func is idempotent and must be called.
func (p *ChannelPool) Acquire(ctx context.Context) (*Channel, func(), error) {
	select {
	case <-ctx.Done():
		return nil, nil, taskerrors.Cancelled(ctx, "clients", "Acquire")
	case ch := <-p.slots:
		var once sync.Once
		release := func() {
			once.Do(func() { p.slots <- ch })
		}
		return ch, release, nil
	}
}

// WithChannel runs fn with a channel and releases it on every exit path,
// including a panic inside fn.
func (p *ChannelPool) WithChannel(ctx context.Context, fn func(ch *Channel) error) error {
	ch, release, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return fn(ch)
}

func (p *ChannelPool) String() string {
	return fmt.Sprintf("ChannelPool(size=%d, free=%d)", p.size, len(p.slots))
}
