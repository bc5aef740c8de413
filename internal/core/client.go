package core

import (
	"sync"
	"time"

	"github.com/vovakirdan/chatlink/internal/domain"
)

// DefaultClientBuffer is the per-connection queue size used when none is given.
const DefaultClientBuffer = 64

// Client is one live connection as seen by the core layer.
type Client struct {
	ID          string
	Identity    domain.UserIdentity
	ConnectedAt time.Time
	Commands    chan *Command
	Events      chan *Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, identity domain.UserIdentity, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Client{
		ID:          id,
		Identity:    identity,
		ConnectedAt: time.Now().UTC(),
		Commands:    make(chan *Command, buffer),
		Events:      make(chan *Event, buffer),
		done:        make(chan struct{}),
	}
}

// UserID is shorthand for c.Identity.UserID.
func (c *Client) UserID() string {
	return c.Identity.UserID
}

// Send queues an event without blocking. It reports false when the client
// is closed or its queue is full; the event is dropped in both cases.
func (c *Client) Send(ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

// Done is closed once the client has been unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
