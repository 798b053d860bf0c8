package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmgilman/periscope/internal/metrics"
	"github.com/jmgilman/periscope/internal/slogger"
)

// Channel correlates commands with responses and dispatches events over a
// single Conn. It is safe for concurrent use.
type Channel struct {
	conn    Conn
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	nextID    atomic.Int64
	anomalies atomic.Int64

	writeMu sync.Mutex

	mu      sync.Mutex
	state   State
	cause   error
	pending map[int64]chan response

	subMu      sync.RWMutex
	subs       map[*Subscription]struct{}
	subsClosed bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	loopDone  chan struct{}
}

// New wraps an established connection and starts the dispatch loop. The
// channel owns conn from here on.
func New(conn Conn, opts Options) *Channel {
	opts = opts.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = slogger.Discard()
	}

	c := &Channel{
		conn:     conn,
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
		state:    StateConnecting,
		pending:  make(map[int64]chan response),
		subs:     make(map[*Subscription]struct{}),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	c.mu.Lock()
	c.state = StateOpen
	c.mu.Unlock()

	go c.readLoop()
	return c
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the channel closes for any reason.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns why the channel closed: nil while open or after an explicit
// Close, otherwise the connection failure that closed it.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Anomalies returns the number of inbound messages dropped as protocol
// anomalies.
func (c *Channel) Anomalies() int64 {
	return c.anomalies.Load()
}

// Send issues a command and waits for its response. If ctx has no deadline
// the channel's command timeout applies. A timeout abandons only this
// command; the channel stays open.
func (c *Channel) Send(ctx context.Context, method string, params any) (Result, error) {
	return c.send(ctx, method, params, "", 0)
}

// SendSession issues a command to an attached target session.
func (c *Channel) SendSession(ctx context.Context, sessionID, method string, params any) (Result, error) {
	return c.send(ctx, method, params, sessionID, 0)
}

// SendTimeout issues a command with an explicit timeout.
func (c *Channel) SendTimeout(method string, params any, timeout time.Duration) (Result, error) {
	return c.send(context.Background(), method, params, "", timeout)
}

func (c *Channel) send(ctx context.Context, method string, params any, sessionID string, timeout time.Duration) (Result, error) {
	start := time.Now()

	if _, ok := ctx.Deadline(); !ok && timeout <= 0 {
		timeout = c.opts.CommandTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	data, err := json.Marshal(request{ID: id, Method: method, Params: params, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	slot := make(chan response, 1)
	if err := c.register(id, slot); err != nil {
		c.metrics.CommandCompleted(method, metrics.OutcomeClosed, time.Since(start))
		return nil, err
	}

	if err := c.write(data); err != nil {
		c.unregister(id)
		c.metrics.CommandCompleted(method, metrics.OutcomeClosed, time.Since(start))
		return nil, err
	}

	select {
	case resp := <-slot:
		return c.finish(method, start, resp)
	case <-ctx.Done():
		// The response may have been taken off the wire just before the deadline.
		if !c.unregister(id) {
			return c.finish(method, start, <-slot)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.metrics.CommandCompleted(method, metrics.OutcomeTimeout, time.Since(start))
			return nil, &TimeoutError{Method: method, ID: id, Timeout: timeout}
		}
		c.metrics.CommandCompleted(method, metrics.OutcomeError, time.Since(start))
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

func (c *Channel) finish(method string, start time.Time, resp response) (Result, error) {
	if resp.err == nil {
		c.metrics.CommandCompleted(method, metrics.OutcomeOK, time.Since(start))
		return resp.result, nil
	}

	var cmdErr *CommandError
	if errors.As(resp.err, &cmdErr) {
		cmdErr.Method = method
		c.metrics.CommandCompleted(method, metrics.OutcomeError, time.Since(start))
		return nil, cmdErr
	}
	outcome := metrics.OutcomeClosed
	if errors.Is(resp.err, ErrProtocolAnomaly) {
		outcome = metrics.OutcomeError
	}
	c.metrics.CommandCompleted(method, outcome, time.Since(start))
	return nil, fmt.Errorf("%s: %w", method, resp.err)
}

func (c *Channel) register(id int64, slot chan response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return c.closedError()
	}
	c.pending[id] = slot
	return nil
}

// unregister removes a pending slot and reports whether it was still there.
func (c *Channel) unregister(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// take removes and returns the slot for id, if any.
func (c *Channel) take(id int64) (chan response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return slot, ok
}

func (c *Channel) write(data []byte) error {
	c.writeMu.Lock()
	err := c.conn.WriteMessage(data)
	c.writeMu.Unlock()
	if err == nil {
		return nil
	}

	if c.State() == StateClosed {
		return c.closedError()
	}
	// A failed write leaves the connection unusable.
	c.shutdown(fmt.Errorf("write: %w", err))
	return c.closedError()
}

// closedError must be called with mu held or after the state is final.
func (c *Channel) closedError() error {
	if c.cause != nil {
		return fmt.Errorf("%w: %w", ErrChannelClosed, c.cause)
	}
	return ErrChannelClosed
}

// Close fails all pending commands with ErrChannelClosed, closes every
// subscription and the underlying connection, and waits for the dispatch
// loop to exit. Calling Close again is a no-op.
func (c *Channel) Close() error {
	err := c.shutdown(nil)
	<-c.loopDone
	return err
}

func (c *Channel) shutdown(cause error) error {
	first := false
	c.closeOnce.Do(func() {
		first = true

		c.mu.Lock()
		c.state = StateClosed
		c.cause = cause
		pending := c.pending
		c.pending = make(map[int64]chan response)
		closedErr := c.closedError()
		c.mu.Unlock()

		close(c.done)
		c.closeErr = c.conn.Close()

		for _, slot := range pending {
			slot <- response{err: closedErr}
		}

		c.subMu.Lock()
		for sub := range c.subs {
			sub.close()
		}
		c.subs = nil
		c.subsClosed = true
		c.subMu.Unlock()

		if cause != nil {
			c.logger.Warn("session channel closed", "error", cause, "pending", len(pending))
		} else {
			c.logger.Debug("session channel closed", "pending", len(pending))
		}
	})
	if !first {
		return nil
	}
	return c.closeErr
}

func (c *Channel) readLoop() {
	defer close(c.loopDone)
	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("read: %w", err)) //nolint:errcheck // cause recorded on the channel
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) dispatch(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.anomaly("malformed message", "error", err)
		c.failMalformed(data, err)
		return
	}

	if msg.ID != nil {
		if slot, ok := c.take(*msg.ID); ok {
			if msg.Error != nil {
				slot <- response{err: msg.Error}
			} else {
				slot <- response{result: Result(msg.Result)}
			}
			return
		}
		if msg.Method == "" {
			c.anomaly("response matches no pending command", "id", *msg.ID)
			return
		}
	}

	if msg.Method == "" {
		c.anomaly("message has neither id nor method")
		return
	}

	c.publish(Event{Method: msg.Method, Params: msg.Params, SessionID: msg.SessionID})
}

// failMalformed resolves the pending command a malformed response belongs
// to, if its id can still be read, so the caller does not wait out its
// timeout.
func (c *Channel) failMalformed(data []byte, cause error) {
	var head struct {
		ID *int64 `json:"id"`
	}
	if json.Unmarshal(data, &head) != nil || head.ID == nil {
		return
	}
	if slot, ok := c.take(*head.ID); ok {
		slot <- response{err: fmt.Errorf("%w: undecodable response: %w", ErrProtocolAnomaly, cause)}
	}
}

func (c *Channel) anomaly(msg string, args ...any) {
	c.anomalies.Add(1)
	c.metrics.ProtocolAnomaly()
	c.logger.Warn(msg, append(args, "kind", ErrProtocolAnomaly)...)
}

func (c *Channel) publish(ev Event) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for sub := range c.subs {
		if !sub.matches(ev) {
			continue
		}
		if dropped := sub.deliver(ev); dropped > 0 {
			c.metrics.EventDropped()
			c.logger.Debug("dropped event for slow subscriber", "method", ev.Method)
		}
	}
}

// Subscribe registers an event listener. Filters match either a full method
// name ("Page.loadEventFired") or a domain ("Page"); no filters receives
// every event. Subscribing to a closed channel returns an already closed
// subscription.
func (c *Channel) Subscribe(filters ...string) *Subscription {
	sub := newSubscription(c, c.opts.EventQueueSize, filters)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subsClosed {
		sub.close()
		return sub
	}
	c.subs[sub] = struct{}{}
	return sub
}

func (c *Channel) unsubscribe(sub *Subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.subs[sub]; ok {
		delete(c.subs, sub)
		sub.close()
	}
}
