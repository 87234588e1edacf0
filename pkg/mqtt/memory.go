package mqtt

import (
	"context"
	"errors"
	"sync"
)

// ErrNotConnected is returned by in-memory clients used before Start.
var ErrNotConnected = errors.New("client not connected")

// MemoryBroker routes messages between in-process clients. Retained
// messages, QoS and sessions are not modelled; every matching subscription
// receives the message once.
type MemoryBroker struct {
	mu      sync.RWMutex
	clients map[*memoryClient]struct{}
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{clients: make(map[*memoryClient]struct{})}
}

// NewClient creates a client attached to the broker. It receives nothing
// until Start is called.
func (b *MemoryBroker) NewClient() Client {
	return &memoryClient{
		broker: b,
		up:     make(chan struct{}),
		subs:   make(map[string]MessageHandler),
	}
}

func (b *MemoryBroker) attach(c *memoryClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = struct{}{}
}

func (b *MemoryBroker) detach(c *memoryClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}

func (b *MemoryBroker) publish(topic string, payload []byte) {
	b.mu.RLock()
	clients := make([]*memoryClient, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		c.deliver(topic, payload)
	}
}

type memoryClient struct {
	broker *MemoryBroker

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	up     chan struct{}
	subs   map[string]MessageHandler
}

var _ Client = (*memoryClient)(nil)

func (c *memoryClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.broker.attach(c)
	close(c.up)
	return nil
}

func (c *memoryClient) Disconnect(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.broker.detach(c)
}

func (c *memoryClient) Publish(_ context.Context, topic string, _ int, _ bool, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.broker.publish(topic, payload)
	return nil
}

func (c *memoryClient) Subscribe(_ context.Context, topic string, _ int, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = handler
	return nil
}

func (c *memoryClient) Unsubscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, topic)
	return nil
}

func (c *memoryClient) AwaitConnection(ctx context.Context) error {
	select {
	case <-c.up:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memoryClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx != nil && c.ctx.Err() == nil
}

func (c *memoryClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	ctx := c.ctx
	var handlers []MessageHandler
	for filter, h := range c.subs {
		if topicsMatch(topicFilter(filter), topic) {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		data := append([]byte(nil), payload...)
		go h(ctx, topic, data)
	}
}
