// Package cdp implements a DevTools protocol session channel: JSON commands
// correlated to their responses by id, and unsolicited events fanned out to
// subscribers, over one duplex message connection.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jmgilman/periscope/internal/metrics"
)

// Sentinel errors for channel operations.
var (
	// ErrConnection is returned when the duplex connection cannot be opened.
	ErrConnection = errors.New("connection failed")

	// ErrChannelClosed is returned by operations on a closed channel and to
	// callers whose command was pending when the channel closed.
	ErrChannelClosed = errors.New("channel closed")

	// ErrTimeout is returned when a command receives no response in time.
	// The channel stays open.
	ErrTimeout = errors.New("command timed out")

	// ErrCommand is returned when the peer answers a command with an error.
	ErrCommand = errors.New("command failed")

	// ErrProtocolAnomaly classifies inbound messages that are malformed or
	// match no pending command. Anomalies are logged and counted, never
	// returned from Send.
	ErrProtocolAnomaly = errors.New("protocol anomaly")
)

const (
	// DefaultCommandTimeout applies to Send when ctx carries no deadline.
	DefaultCommandTimeout = 30 * time.Second

	// DefaultEventQueueSize is the per-subscription event buffer.
	DefaultEventQueueSize = 256

	// DefaultHandshakeTimeout bounds the WebSocket handshake in Dial.
	DefaultHandshakeTimeout = 10 * time.Second
)

// State is the connection state of a Channel.
type State int

// Channel states.
const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Conn is a duplex text-message connection. ReadMessage is only called from
// the channel's dispatch loop and WriteMessage is serialized by the channel.
// Close must unblock a pending ReadMessage.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Options configures a Channel. Zero values select the defaults.
type Options struct {
	// CommandTimeout applies to Send calls whose ctx has no deadline.
	CommandTimeout time.Duration

	// EventQueueSize bounds each subscription's queue.
	EventQueueSize int

	// HandshakeTimeout bounds the WebSocket handshake in Dial.
	HandshakeTimeout time.Duration

	// Logger receives anomaly and lifecycle logs. Nil uses the logger carried
	// by the ctx given to Dial.
	Logger *slog.Logger

	// Metrics records command outcomes, drops and anomalies. May be nil.
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.EventQueueSize <= 0 {
		o.EventQueueSize = DefaultEventQueueSize
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return o
}

// Result is the raw result payload of a successful command.
type Result json.RawMessage

// Get returns the value at a gjson path, e.g. "result.value".
func (r Result) Get(path string) gjson.Result {
	return gjson.GetBytes(r, path)
}

// Unmarshal decodes the payload into v.
func (r Result) Unmarshal(v any) error {
	return json.Unmarshal(r, v)
}

// String returns the payload as JSON text.
func (r Result) String() string {
	return string(r)
}

// Event is an unsolicited message from the peer.
type Event struct {
	Method    string
	Params    json.RawMessage
	SessionID string
}

// Domain returns the protocol domain of the event, e.g. "Page".
func (e Event) Domain() string {
	return metrics.Domain(e.Method)
}

// Get returns the params value at a gjson path.
func (e Event) Get(path string) gjson.Result {
	return gjson.GetBytes(e.Params, path)
}

// CommandError is an error response from the peer.
type CommandError struct {
	Method  string          `json:"-"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %s (code %d)", e.Method, e.Message, e.Code)
	if data := e.DataText(); data != "" {
		msg += ": " + data
	}
	return msg
}

// DataText renders the optional data member: strings unquoted, anything
// else as raw JSON.
func (e *CommandError) DataText() string {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	return string(e.Data)
}

func (e *CommandError) Unwrap() error {
	return ErrCommand
}

// TimeoutError is returned when a command's deadline expires before its
// response arrives.
type TimeoutError struct {
	Method  string
	ID      int64
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s (id %d): no response within %s", e.Method, e.ID, e.Timeout)
	}
	return fmt.Sprintf("%s (id %d): no response before deadline", e.Method, e.ID)
}

func (e *TimeoutError) Unwrap() []error {
	return []error{ErrTimeout, context.DeadlineExceeded}
}

// request is an outbound command.
type request struct {
	ID        int64  `json:"id"`
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// message is any inbound frame.
type message struct {
	ID        *int64          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result"`
	Error     *CommandError   `json:"error"`
	SessionID string          `json:"sessionId"`
}

// response resolves one pending command.
type response struct {
	result Result
	err    error
}
