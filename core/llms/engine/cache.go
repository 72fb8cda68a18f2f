package engine

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache pools engine connections per URL so consecutive conversations reuse
// one socket instead of redialling for every session. Idle connections are
// evicted and closed after the configured TTL.
type Cache struct {
	mu      sync.Mutex
	clients *gocache.Cache
}

func NewCache(idleTTL time.Duration) *Cache {
	clients := gocache.New(idleTTL, 2*idleTTL)
	clients.OnEvicted(func(engineURL string, value any) {
		if client, ok := value.(*Client); ok {
			_ = client.Close()
		}
	})
	return &Cache{clients: clients}
}

// Client returns a live connection to the engine at the given URL, dialling
// one if none is pooled. Every hit resets the idle timer.
func (p *Cache) Client(ctx context.Context, engineURL string, opts ...Option) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.clients.Get(engineURL); ok {
		if client, ok := cached.(*Client); ok && client.Alive() {
			p.clients.Set(engineURL, client, gocache.DefaultExpiration)
			return client, nil
		}
		p.clients.Delete(engineURL)
	}

	client, err := Dial(ctx, engineURL, opts...)
	if err != nil {
		return nil, err
	}
	p.clients.Set(engineURL, client, gocache.DefaultExpiration)
	return client, nil
}

// Close evicts and closes every pooled connection.
func (p *Cache) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for engineURL := range p.clients.Items() {
		p.clients.Delete(engineURL)
	}
}
