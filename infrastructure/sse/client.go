package sse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

var clientIDCounter atomic.Int64

// client is one subscription. send and close share mu so an event is never
// sent on a closed channel.
type client struct {
	id     string
	events chan Event
	filter EventFilter
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func newClient(ctx context.Context, bufferSize int, filter EventFilter) *client {
	clientCtx, cancel := context.WithCancel(ctx)
	return &client{
		id:     fmt.Sprintf("sse-%d", clientIDCounter.Add(1)),
		events: make(chan Event, bufferSize),
		filter: filter,
		ctx:    clientCtx,
		cancel: cancel,
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	close(c.events)
}

// send reports false only when the client's buffer is full.
func (c *client) send(event Event) bool {
	if c.filter != nil && !c.filter(event) {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}
	select {
	case c.events <- event:
		return true
	default:
		return false
	}
}
