package sse

import (
	"context"
	"fmt"
	"sync"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
)

type broker struct {
	log     infralogger.Logger
	mu      sync.RWMutex
	clients map[string]*client
	running bool

	publish chan Event
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	eventBufferSize   int
	clientBufferSize  int
	heartbeatInterval time.Duration
	shutdownTimeout   time.Duration
	maxClients        int
}

// NewBroker creates a broker. Call Start before publishing.
func NewBroker(log infralogger.Logger, opts ...BrokerOption) Broker {
	if log == nil {
		log = infralogger.NewNop()
	}
	b := &broker{
		log:               log,
		clients:           make(map[string]*client),
		eventBufferSize:   DefaultEventBufferSize,
		clientBufferSize:  DefaultClientBufferSize,
		heartbeatInterval: DefaultHeartbeatInterval,
		shutdownTimeout:   DefaultShutdownTimeout,
		maxClients:        DefaultMaxClients,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.publish = make(chan Event, b.eventBufferSize)
	return b
}

// Start launches the broadcast loop.
func (b *broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("sse broker already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true

	b.wg.Add(1)
	go b.broadcastLoop(loopCtx)

	b.log.Info("SSE broker started",
		infralogger.Int("event_buffer_size", b.eventBufferSize),
		infralogger.Int("max_clients", b.maxClients),
	)
	return nil
}

// Stop ends the broadcast loop and disconnects every client.
func (b *broker) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Info("SSE broker stopped")
	case <-time.After(b.shutdownTimeout):
		b.log.Warn("SSE broker shutdown timeout exceeded")
	}
	return nil
}

func (b *broker) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if !running {
		return ErrBrokerStopped
	}

	select {
	case b.publish <- event:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	default:
		return fmt.Errorf("publish buffer full, dropped %s", event.Type)
	}
}

func (b *broker) Subscribe(ctx context.Context, opts ...ClientOption) (events <-chan Event, cleanup func()) {
	clientOpts := ClientOptions{BufferSize: b.clientBufferSize}
	for _, opt := range opts {
		opt(&clientOpts)
	}

	c := newClient(ctx, clientOpts.BufferSize, clientOpts.Filter)

	b.mu.Lock()
	if !b.running || (b.maxClients > 0 && len(b.clients) >= b.maxClients) {
		total := len(b.clients)
		b.mu.Unlock()
		b.log.Warn("SSE subscription refused", infralogger.Int("current_clients", total))
		c.close()
		return c.events, func() {}
	}
	b.clients[c.id] = c
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		<-c.ctx.Done()
		b.removeClient(c.id)
	}()

	return c.events, func() { b.removeClient(c.id) }
}

func (b *broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *broker) HeartbeatInterval() time.Duration {
	return b.heartbeatInterval
}

func (b *broker) broadcastLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.publish:
			b.broadcast(event)
		case <-ctx.Done():
			b.disconnectAll()
			return
		}
	}
}

// broadcast delivers event to every client and drops clients whose buffer
// is full.
func (b *broker) broadcast(event Event) {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if c.send(event) {
			continue
		}
		b.log.Warn("SSE client too slow, disconnecting",
			infralogger.String("client_id", c.id),
			infralogger.String("event_type", event.Type),
		)
		b.removeClient(c.id)
	}
}

func (b *broker) removeClient(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	delete(b.clients, id)
	b.mu.Unlock()

	if ok {
		c.close()
	}
}

func (b *broker) disconnectAll() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[string]*client)
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	b.log.Info("SSE clients disconnected", infralogger.Int("count", len(clients)))
}
