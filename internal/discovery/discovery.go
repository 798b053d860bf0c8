// Package discovery queries a browser's DevTools HTTP endpoint for its
// debuggable targets and waits for the endpoint to come up.
package discovery

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for discovery operations.
var (
	// ErrNotReady is returned when the endpoint is unreachable or answered
	// with a non-success status.
	ErrNotReady = errors.New("devtools endpoint not ready")

	// ErrNoTarget is returned when no target exposes a WebSocket debugger URL.
	ErrNoTarget = errors.New("no debuggable target")

	// ErrMalformed is returned when the endpoint answers with a body that
	// cannot be decoded.
	ErrMalformed = errors.New("malformed discovery response")
)

// Target is one entry of the /json/list response.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Version is the /json/version response.
type Version struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	V8Version            string `json:"V8-Version"`
	WebKitVersion        string `json:"WebKit-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Config configures the discovery client.
type Config struct {
	// Host is the address the browser listens on. Defaults to 127.0.0.1.
	Host string

	// RequestTimeout bounds a single HTTP request. Defaults to 2s.
	RequestTimeout time.Duration
}

// Client talks to the DevTools HTTP endpoint.
type Client interface {
	// Targets returns the browser's current targets.
	Targets(ctx context.Context, port int) ([]Target, error)

	// Version returns browser and protocol version information.
	Version(ctx context.Context, port int) (*Version, error)

	// WaitReady polls Targets every interval until a debuggable target
	// appears or ctx is done, and returns the selected target.
	WaitReady(ctx context.Context, port int, interval time.Duration) (*Target, error)
}

// SelectTarget picks the session target: the first "page" with a debugger
// URL, otherwise the first target of any type with one.
func SelectTarget(targets []Target) (*Target, error) {
	var fallback *Target
	for i := range targets {
		t := &targets[i]
		if t.WebSocketDebuggerURL == "" {
			continue
		}
		if t.Type == "page" {
			return t, nil
		}
		if fallback == nil {
			fallback = t
		}
	}
	if fallback == nil {
		return nil, ErrNoTarget
	}
	return fallback, nil
}
