// Package engine talks to a local inference engine over a WebSocket. Unlike
// the replay providers the engine holds conversation state itself: a session
// is seeded once with its system prompt and grounding context, later turns
// send only the new message, and the engine reports cumulative token usage
// for the whole server-side context on request.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lectern-ai/lectern-core/core/llms"
)

// ErrClientClosed is returned by operations attempted after the engine
// connection was closed.
var ErrClientClosed = errors.New("engine connection closed")

// Client is one WebSocket connection to an engine process. It multiplexes
// any number of concurrent sessions and is safe for concurrent use.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	watchersMu sync.Mutex
	watchers   []chan Progress

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	// done is closed once the read loop has exited; readErr is written
	// before that and must only be read after done is observed closed.
	done    chan struct{}
	readErr error
}

type pendingRequest struct {
	frames chan envelope
	gone   chan struct{}
}

type dialOptions struct {
	dialer *websocket.Dialer
	header http.Header
}

// Option configures how the engine connection is established.
type Option func(*dialOptions)

// WithDialer replaces the WebSocket dialer, e.g. to set a handshake timeout.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(o *dialOptions) {
		o.dialer = dialer
	}
}

// WithHeader adds headers to the handshake request, e.g. an auth token for
// an engine exposed beyond localhost.
func WithHeader(header http.Header) Option {
	return func(o *dialOptions) {
		o.header = header
	}
}

// Dial connects to the engine at the given ws:// or wss:// URL. An engine
// that cannot be reached surfaces as a ProviderUnavailableError so callers
// can distinguish a missing engine from a protocol failure.
func Dial(ctx context.Context, engineURL string, opts ...Option) (*Client, error) {
	ctx, span := tracer.Start(ctx, "dial engine")
	defer span.End()
	span.SetAttributes(attribute.String("request.url", engineURL))

	options := dialOptions{dialer: websocket.DefaultDialer}
	for _, opt := range opts {
		opt(&options)
	}

	conn, _, err := options.dialer.DialContext(ctx, engineURL, options.header)
	if err != nil {
		unavailable := &llms.ProviderUnavailableError{Provider: "engine", Reason: err.Error()}
		span.RecordError(unavailable)
		return nil, unavailable
	}

	client := &Client{
		conn:    conn,
		pending: map[string]*pendingRequest{},
		done:    make(chan struct{}),
	}
	go client.readLoop()

	return client, nil
}

// OpenHandle seeds a new engine session and returns the handle for it. The
// call waits through model preparation; preparation updates arrive on the
// Progress iterator meanwhile.
func (c *Client) OpenHandle(ctx context.Context, seed llms.Seed) (llms.Handle, error) {
	ctx, span := tracer.Start(ctx, "open engine session")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", seed.Model))

	req, cancel, err := c.request(openMsg(uuid.NewString(), seed))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			err := c.closedErr()
			span.RecordError(err)
			return nil, err
		case msg := <-req.frames:
			switch msg.Type {
			case msgEngineStatus:
				// Model still being prepared, keep waiting.
				logger.DebugContext(ctx, "engine preparing model",
					"model", seed.Model, "state", msg.State)
			case msgSessionOpened:
				span.SetAttributes(attribute.String("session.id", msg.SessionID))
				return &sessionHandle{client: c, sessionID: msg.SessionID}, nil
			case msgError:
				err := &llms.ProviderUnavailableError{Provider: "engine", Reason: msg.Error}
				span.RecordError(err)
				return nil, err
			}
		}
	}
}

// Progress streams engine preparation updates until the engine reports the
// model ready or failed, the context is cancelled, or the connection drops.
// Only updates broadcast while iterating are observed.
func (c *Client) Progress(ctx context.Context) iter.Seq2[Progress, error] {
	return func(yield func(Progress, error) bool) {
		watcher := make(chan Progress, 16)
		c.watchersMu.Lock()
		select {
		case <-c.done:
			c.watchersMu.Unlock()
			yield(Progress{}, c.closedErr())
			return
		default:
		}
		c.watchers = append(c.watchers, watcher)
		c.watchersMu.Unlock()
		defer c.removeWatcher(watcher)

		for {
			select {
			case <-ctx.Done():
				yield(Progress{}, ctx.Err())
				return
			case <-c.done:
				yield(Progress{}, c.closedErr())
				return
			case update := <-watcher:
				if update.State == ProgressFailed {
					yield(update, &llms.ProviderUnavailableError{Provider: "engine", Reason: update.Detail})
					return
				}
				if !yield(update, nil) {
					return
				}
				if update.State == ProgressReady {
					return
				}
			}
		}
	}
}

// Alive reports whether the connection is still usable.
func (c *Client) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close shuts the connection down and waits for the read loop to exit. Any
// in-flight requests fail with ErrClientClosed. Closing twice is safe.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
		<-c.done
	})
	return c.closeErr
}

func (c *Client) readLoop() {
	defer c.finish()
	for {
		var msg envelope
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !c.closing.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.readErr = err
				logger.Warn("engine socket read failed", "error", err)
			}
			return
		}

		switch msg.Type {
		case msgEngineStatus:
			c.broadcastProgress(msg)
		default:
			c.dispatch(msg)
		}
	}
}

func (c *Client) finish() {
	close(c.done)

	c.watchersMu.Lock()
	c.watchers = nil
	c.watchersMu.Unlock()
}

func (c *Client) dispatch(msg envelope) {
	c.pendingMu.Lock()
	req, ok := c.pending[msg.ID]
	c.pendingMu.Unlock()
	if !ok {
		// Late frame for an abandoned request.
		return
	}

	select {
	case req.frames <- msg:
	case <-req.gone:
	}
}

func (c *Client) broadcastProgress(msg envelope) {
	update := Progress{State: msg.State, Detail: msg.Detail}
	if msg.Fraction != nil {
		update.Fraction = *msg.Fraction
	}

	c.watchersMu.Lock()
	defer c.watchersMu.Unlock()
	for _, watcher := range c.watchers {
		select {
		case watcher <- update:
		default:
			// A stalled watcher only misses intermediate updates.
		}
	}
}

// request registers a pending request and sends its frame. The returned
// cancel must be called once the caller stops consuming frames, otherwise
// the read loop could block delivering to it.
func (c *Client) request(msg envelope) (*pendingRequest, func(), error) {
	req := &pendingRequest{
		frames: make(chan envelope, 16),
		gone:   make(chan struct{}),
	}

	c.pendingMu.Lock()
	c.pending[msg.ID] = req
	c.pendingMu.Unlock()

	cancel := func() {
		c.pendingMu.Lock()
		defer c.pendingMu.Unlock()
		if _, ok := c.pending[msg.ID]; ok {
			delete(c.pending, msg.ID)
			close(req.gone)
		}
	}

	if err := c.send(msg); err != nil {
		cancel()
		return nil, nil, err
	}
	return req, cancel, nil
}

func (c *Client) send(msg envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to engine socket: %w", err)
	}
	return nil
}

func (c *Client) closedErr() error {
	if c.readErr != nil {
		return fmt.Errorf("engine connection lost: %w", c.readErr)
	}
	return ErrClientClosed
}

func (c *Client) removeWatcher(watcher chan Progress) {
	c.watchersMu.Lock()
	defer c.watchersMu.Unlock()
	for i, candidate := range c.watchers {
		if candidate == watcher {
			c.watchers = append(c.watchers[:i], c.watchers[i+1:]...)
			return
		}
	}
}
