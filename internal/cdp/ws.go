package cdp

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmgilman/periscope/internal/slogger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsCloseTimeout = time.Second
)

// Dial opens a WebSocket control connection to url and returns an open
// Channel. It does not retry.
func Dial(ctx context.Context, url string, opts Options) (*Channel, error) {
	opts = opts.withDefaults()
	if opts.Logger == nil {
		opts.Logger = slogger.FromContext(ctx)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
		// The endpoint is always local; never route it through a proxy.
		Proxy: nil,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close() //nolint:errcheck // best-effort cleanup
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, url, err)
	}

	opts.Logger.Debug("session channel open", "url", url)
	return New(&wsConn{conn: conn}, opts), nil
}

// wsConn adapts a gorilla WebSocket to Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	for {
		typ, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *wsConn) WriteMessage(data []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	// The close frame is a courtesy; the peer may already be gone.
	_ = w.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // best-effort close handshake
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsCloseTimeout),
	)
	return w.conn.Close()
}
