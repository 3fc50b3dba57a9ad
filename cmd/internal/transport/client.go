// Package transport is the RPC client of the sync engine: JSON envelopes over one WebSocket, with
// reconnects, transient-error retries, a result cache and the server's push-update stream.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/metrics"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

// Options configures a Client. Zero values take defaults.
type Options struct {
	URL         string
	Subprotocol string
	ClientID    string
	HTTPHeader  http.Header

	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	SendQueueSize    int
	UpdatesBuffer    int

	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// RetryRate paces retried attempts across all calls (attempts per second).
	RetryRate    float64
	RetryBurst   int
	MaxAttempts  int
	MaxFloodWait time.Duration

	// OnConnect runs after every successful handshake, before calls are released.
	OnConnect func(ctx context.Context, ack v1.HelloAckPayload)
}

func (o Options) withDefaults() Options {
	if o.Subprotocol == "" {
		o.Subprotocol = v1.Subprotocol
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.HeartbeatEvery <= 0 {
		o.HeartbeatEvery = heartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = heartbeatTimeout
	}
	if o.SendQueueSize < minSendQueueSize {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.UpdatesBuffer <= 0 {
		o.UpdatesBuffer = defaultUpdatesBuffer
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = defaultReconnectMin
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = max(defaultReconnectMax, o.ReconnectMin)
	}
	if o.RetryRate <= 0 {
		o.RetryRate = defaultRetryRate
	}
	if o.RetryBurst <= 0 {
		o.RetryBurst = defaultRetryBurst
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.MaxFloodWait <= 0 {
		o.MaxFloodWait = defaultMaxFloodWait
	}
	return o
}

// Call is one RPC call. ID is the envelope id; it is generated when empty and stays the same across
// retries. AfterID asks the server to run the call after the one with that id.
type Call struct {
	Method  string
	Params  any
	ID      string
	AfterID string
}

type callResult struct {
	result json.RawMessage
	err    error
}

// session is one live connection.
type session struct {
	ws   *websocket.Conn
	send chan v1.Envelope

	mu    sync.Mutex
	calls map[string]chan callResult

	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) register(id string) chan callResult {
	ch := make(chan callResult, 1)
	s.mu.Lock()
	s.calls[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *session) unregister(id string) {
	s.mu.Lock()
	delete(s.calls, id)
	s.mu.Unlock()
}

func (s *session) resolve(id string, res callResult) bool {
	s.mu.Lock()
	ch, ok := s.calls[id]
	delete(s.calls, id)
	s.mu.Unlock()
	if ok {
		ch <- res
	}
	return ok
}

// shutdown fails every outstanding call with ErrDisconnected. It is idempotent.
func (s *session) shutdown(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.ws.Close(code, reason)

		s.mu.Lock()
		calls := s.calls
		s.calls = make(map[string]chan callResult)
		s.mu.Unlock()
		for _, ch := range calls {
			ch <- callResult{err: ErrDisconnected}
		}
	})
}

// Client is safe for concurrent use. Run owns the connection; every other method may be called from
// any goroutine.
type Client struct {
	log     *slog.Logger
	opts    Options
	met     *metrics.Metrics
	limiter *rate.Limiter
	cache   *resultCache
	now     func() time.Time

	mu        sync.Mutex
	cur       *session
	ready     chan struct{}
	selfID    int64
	sessionID string

	updates   chan v1.UpdatesPayload
	done      chan struct{}
	closeOnce sync.Once
}

// New constructs a Client. Nothing is dialed until Run.
func New(log *slog.Logger, opts Options, met *metrics.Metrics) *Client {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	opts = opts.withDefaults()
	return &Client{
		log:     log,
		opts:    opts,
		met:     met,
		limiter: rate.NewLimiter(rate.Limit(opts.RetryRate), opts.RetryBurst),
		cache:   newResultCache(time.Now),
		now:     time.Now,
		ready:   make(chan struct{}),
		updates: make(chan v1.UpdatesPayload, opts.UpdatesBuffer),
		done:    make(chan struct{}),
	}
}

// Updates is the push-update stream, in arrival order. It is never closed; select on Done.
func (c *Client) Updates() <-chan v1.UpdatesPayload { return c.updates }

// Done returns a channel that is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close stops the client (idempotent). Pending calls fail with ErrDisconnected, later ones with
// ErrClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		cur := c.cur
		c.mu.Unlock()
		if cur != nil {
			cur.shutdown(websocket.StatusNormalClosure, "bye")
		}
	})
}

// SelfID returns the account id announced in the last handshake.
func (c *Client) SelfID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// SessionID returns the id of the last established session.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Connected reports whether a session is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

// Run dials the server and keeps a session alive until ctx is done or Close is called. Lost
// sessions are redialed with exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.ReconnectMin
	for {
		established, err := c.serve(ctx)
		select {
		case <-c.done:
			return ErrClosed
		default:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if established {
			backoff = c.opts.ReconnectMin
		}
		c.log.Warn("transport.session.end", "err", err, "retry_in", backoff.String())

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-c.done:
			t.Stop()
			return ErrClosed
		case <-t.C:
		}
		backoff = min(backoff*2, c.opts.ReconnectMax)
	}
}

// serve runs one session and reports whether the handshake completed.
func (c *Client) serve(parent context.Context) (bool, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	ws, ack, err := c.dial(ctx)
	if err != nil {
		c.log.Info("transport.dial.fail", "url", c.opts.URL, "err", err)
		return false, err
	}

	s := &session{
		ws:    ws,
		send:  make(chan v1.Envelope, c.opts.SendQueueSize),
		calls: make(map[string]chan callResult),
		done:  make(chan struct{}),
	}
	defer s.shutdown(websocket.StatusNormalClosure, "bye")

	if c.opts.OnConnect != nil {
		c.opts.OnConnect(ctx, ack)
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return true, ErrClosed
	default:
	}
	c.cur = s
	c.selfID = ack.SelfID
	c.sessionID = ack.SessionID
	close(c.ready)
	c.mu.Unlock()

	c.log.Info("transport.session.start", "session_id", ack.SessionID, "self_id", ack.SelfID)

	defer func() {
		c.mu.Lock()
		if c.cur == s {
			c.cur = nil
			c.ready = make(chan struct{})
		}
		c.mu.Unlock()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case env := <-s.send:
				if err := writeEnvelope(ctx, ws, env, c.opts.WriteTimeout); err != nil {
					c.log.Info("transport.write.fail", "id", env.ID, "close_status", websocket.CloseStatus(err), "err", err)
					s.shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(c.opts.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, c.opts.HeartbeatTimeout)
				err := ws.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					c.log.Info("transport.ping.fail", "failures", failures, "err", err)
					if failures >= maxPingFailures {
						s.shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	err = c.readLoop(ctx, s)
	s.shutdown(websocket.StatusNormalClosure, "bye")
	cancel()
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	return true, err
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, v1.HelloAckPayload, error) {
	hsCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	ws, resp, err := websocket.Dial(hsCtx, c.opts.URL, &websocket.DialOptions{
		Subprotocols: []string{c.opts.Subprotocol},
		HTTPHeader:   c.opts.HTTPHeader,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, v1.HelloAckPayload{}, err
	}
	if sp := ws.Subprotocol(); sp != c.opts.Subprotocol {
		_ = ws.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, v1.HelloAckPayload{}, fmt.Errorf("subprotocol mismatch: got %q want %q", sp, c.opts.Subprotocol)
	}
	ws.SetReadLimit(maxFrameBytes)

	hello, _ := json.Marshal(v1.HelloPayload{ClientID: c.opts.ClientID})
	if err := writeEnvelope(hsCtx, ws, newEnvelope(v1.TypeHello, NewCallID(), hello, c.now().UTC()), c.opts.WriteTimeout); err != nil {
		_ = ws.Close(websocket.StatusAbnormalClosure, "hello failed")
		return nil, v1.HelloAckPayload{}, err
	}

	for {
		env, err := readEnvelope(hsCtx, ws)
		if err != nil {
			_ = ws.Close(websocket.StatusAbnormalClosure, "handshake failed")
			return nil, v1.HelloAckPayload{}, err
		}
		switch env.Type {
		case v1.TypeHelloAck:
			var ack v1.HelloAckPayload
			if err := json.Unmarshal(env.Payload, &ack); err != nil {
				_ = ws.Close(websocket.StatusProtocolError, "bad hello_ack")
				return nil, v1.HelloAckPayload{}, err
			}
			return ws, ack, nil
		case v1.TypeError:
			_ = ws.Close(websocket.StatusPolicyViolation, "hello rejected")
			return nil, v1.HelloAckPayload{}, decodeRPCError(env.Payload)
		}
		// anything before the ack is ignored
	}
}

func (c *Client) readLoop(ctx context.Context, s *session) error {
	for {
		env, err := readEnvelope(ctx, s.ws)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrBadJSON:
				c.log.Info("transport.read.bad_json", "err", err)
				continue
			case readErrClose, readErrCtxDone, readErrConnClosed:
				return err
			default:
				c.log.Info("transport.read.fail", "err", err)
				return err
			}
		}

		if err := env.Validate(); err != nil {
			c.log.Info("transport.read.bad_envelope", "type", env.Type, "err", err)
			continue
		}

		switch env.Type {
		case v1.TypeResult:
			var p v1.ResultPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				s.resolve(env.ID, callResult{err: fmt.Errorf("transport: bad result: %w", err)})
				continue
			}
			if !s.resolve(env.ID, callResult{result: p.Result}) {
				c.log.Debug("transport.result.orphan", "id", env.ID)
			}

		case v1.TypeError:
			s.resolve(env.ID, callResult{err: decodeRPCError(env.Payload)})

		case v1.TypeUpdates:
			var p v1.UpdatesPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				c.log.Info("transport.updates.bad_payload", "err", err)
				continue
			}
			select {
			case c.updates <- p:
			case <-ctx.Done():
				return ctx.Err()
			case <-c.done:
				return ErrClosed
			}
		}
	}
}

func decodeRPCError(payload json.RawMessage) error {
	var p v1.ErrorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return &RPCError{Code: 500, Type: "BAD_ERROR_PAYLOAD", Message: err.Error()}
	}
	return &RPCError{Code: p.Code, Type: p.Type, Message: p.Message}
}

// Invoke calls method with params and decodes the result into out (skipped when out is nil).
func (c *Client) Invoke(ctx context.Context, method string, params, out any) error {
	return c.InvokeCall(ctx, Call{Method: method, Params: params}, out)
}

// InvokeCall runs call, retrying transient failures with the same envelope id and params.
func (c *Client) InvokeCall(ctx context.Context, call Call, out any) error {
	raw, err := json.Marshal(call.Params)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", call.Method, err)
	}
	res, err := c.invokeRaw(ctx, call, raw)
	if err != nil {
		return err
	}
	return decodeResult(call.Method, res, out)
}

// InvokeCached is Invoke with a result cache keyed by method and encoded params.
func (c *Client) InvokeCached(ctx context.Context, method string, params, out any, ttl time.Duration) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", method, err)
	}
	if res, ok := c.cache.get(method, raw); ok {
		c.met.RPC(method, "cached")
		return decodeResult(method, res, out)
	}
	res, err := c.invokeRaw(ctx, Call{Method: method}, raw)
	if err != nil {
		return err
	}
	c.cache.put(method, raw, res, ttl)
	return decodeResult(method, res, out)
}

// ClearCache drops cached results of method whose encoded params match (all when match is nil).
func (c *Client) ClearCache(method string, match func(params json.RawMessage) bool) {
	if n := c.cache.clear(method, match); n > 0 {
		c.log.Debug("transport.cache.clear", "method", method, "entries", n)
	}
}

func decodeResult(method string, res json.RawMessage, out any) error {
	if out == nil || len(res) == 0 {
		return nil
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("transport: decode %s: %w", method, err)
	}
	return nil
}

func (c *Client) invokeRaw(ctx context.Context, call Call, params json.RawMessage) (json.RawMessage, error) {
	if call.ID == "" {
		call.ID = NewCallID()
	}
	payload, err := json.Marshal(v1.InvokePayload{Method: call.Method, Params: params, AfterID: call.AfterID})
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		res, err := c.attempt(ctx, call.ID, payload)
		if err == nil {
			c.met.RPC(call.Method, "ok")
			return res, nil
		}
		if !IsTransient(err) || attempt >= c.opts.MaxAttempts || ctx.Err() != nil {
			c.met.RPC(call.Method, "error")
			return nil, err
		}

		var wait time.Duration
		if e, ok := AsRPCError(err); ok {
			wait = e.FloodWait()
		}
		if wait > c.opts.MaxFloodWait {
			c.met.RPC(call.Method, "error")
			return nil, err
		}
		c.met.Retry()
		c.log.Info("transport.call.retry", "method", call.Method, "id", call.ID, "attempt", attempt, "wait", wait.String(), "err", err)

		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-c.done:
				t.Stop()
				return nil, ErrClosed
			case <-t.C:
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

// attempt sends one invoke envelope and waits for its answer. It waits for a session first.
func (c *Client) attempt(ctx context.Context, id string, payload json.RawMessage) (json.RawMessage, error) {
	s, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	ch := s.register(id)
	env := newEnvelope(v1.TypeInvoke, id, payload, c.now().UTC())
	select {
	case s.send <- env:
	case <-s.done:
		s.unregister(id)
		return nil, ErrDisconnected
	case <-ctx.Done():
		s.unregister(id)
		return nil, ctx.Err()
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		s.unregister(id)
		return nil, ctx.Err()
	}
}

func (c *Client) session(ctx context.Context) (*session, error) {
	for {
		c.mu.Lock()
		s, ready := c.cur, c.ready
		c.mu.Unlock()

		select {
		case <-c.done:
			return nil, ErrClosed
		default:
		}
		if s != nil {
			select {
			case <-s.done:
				// dropped; Run installs the next one
			default:
				return s, nil
			}
		}

		select {
		case <-ready:
		case <-c.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// ErrNotConnected is reported by Ready while no session is established.
var ErrNotConnected = errors.New("transport: not connected")

// Ready reports whether calls can currently go out.
func (c *Client) Ready() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if !c.Connected() {
		return ErrNotConnected
	}
	return nil
}
