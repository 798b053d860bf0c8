// Package cdptest provides an in-process fake DevTools endpoint: the
// discovery HTTP resources plus a WebSocket control channel whose replies
// are scripted by the test.
package cdptest

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// TargetID is the id of the single page target the server exposes.
const TargetID = "F00DFACE"

// Request is a command received by the server.
type Request struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// Handler scripts the reply to a command. It runs on the connection's read
// goroutine; it may reply immediately, later from another goroutine, or
// never.
type Handler func(r *Responder, req Request)

// Responder replies to one command.
type Responder struct {
	srv *Server
	id  int64
}

// Result replies with a success payload.
func (r *Responder) Result(v any) {
	r.srv.Respond(r.id, v)
}

// Error replies with an error payload.
func (r *Responder) Error(code int, message string) {
	r.srv.RespondError(r.id, code, message)
}

// ErrorData replies with an error payload carrying a data member.
func (r *Responder) ErrorData(code int, message string, data any) {
	r.srv.broadcast(map[string]any{"id": r.id, "error": map[string]any{"code": code, "message": message, "data": data}})
}

// Raw replies with a verbatim frame; %d in format is replaced by the
// command id.
func (r *Responder) Raw(format string) {
	r.srv.SendRaw(fmt.Appendf(nil, format, r.id))
}

// Server is a fake debugging endpoint.
type Server struct {
	http     *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	handlers map[string]Handler
	requests []Request
	conns    map[*conn]struct{}

	wg sync.WaitGroup
}

// NewServer starts a server on a kernel-assigned loopback port.
func NewServer() *Server {
	s, err := NewServerAt("127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("cdptest: %v", err))
	}
	return s
}

// NewServerAt starts a server listening on addr.
func NewServerAt(addr string) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	s := &Server{
		handlers: make(map[string]Handler),
		conns:    make(map[*conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", s.handleList)
	mux.HandleFunc("/json", s.handleList)
	mux.HandleFunc("/json/version", s.handleVersion)
	mux.HandleFunc("/devtools/", s.handleWebSocket)

	s.http = httptest.NewUnstartedServer(mux)
	_ = s.http.Listener.Close() //nolint:errcheck // replaced below
	s.http.Listener = l
	s.http.Start()
	return s, nil
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, p, _ := net.SplitHostPort(s.http.Listener.Addr().String())
	port, _ := strconv.Atoi(p)
	return port
}

// URL returns the HTTP base URL.
func (s *Server) URL() string {
	return s.http.URL
}

// WebSocketURL returns the control channel URL of the page target.
func (s *Server) WebSocketURL() string {
	return "ws://" + s.http.Listener.Addr().String() + "/devtools/page/" + TargetID
}

// Handle sets the handler for method, replacing any previous one.
// Commands without a handler get a "method not found" error.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Requests returns a copy of every command received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Respond sends a success response for id to every connection.
func (s *Server) Respond(id int64, result any) {
	if result == nil {
		result = struct{}{}
	}
	s.broadcast(map[string]any{"id": id, "result": result})
}

// RespondError sends an error response for id to every connection.
func (s *Server) RespondError(id int64, code int, message string) {
	s.broadcast(map[string]any{"id": id, "error": map[string]any{"code": code, "message": message}})
}

// Emit sends an event to every connection.
func (s *Server) Emit(method string, params any) {
	if params == nil {
		params = struct{}{}
	}
	s.broadcast(map[string]any{"method": method, "params": params})
}

// SendRaw writes data verbatim to every connection.
func (s *Server) SendRaw(data []byte) {
	for _, c := range s.snapshot() {
		c.write(data)
	}
}

// Connections returns the number of open control connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections abruptly closes every control connection.
func (s *Server) DropConnections() {
	for _, c := range s.snapshot() {
		_ = c.ws.Close() //nolint:errcheck // simulating a crash
	}
}

// Close shuts the server down and waits for connection goroutines.
func (s *Server) Close() {
	s.DropConnections()
	s.http.Close()
	s.wg.Wait()
}

func (s *Server) broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("cdptest: marshal: %v", err))
	}
	s.SendRaw(data)
}

func (s *Server) snapshot() []*conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	host := s.http.Listener.Addr().String()
	writeJSON(w, []map[string]string{{
		"id":                   TargetID,
		"type":                 "page",
		"title":                "about:blank",
		"url":                  "about:blank",
		"devtoolsFrontendUrl":  "/devtools/inspector.html?ws=" + host + "/devtools/page/" + TargetID,
		"webSocketDebuggerUrl": s.WebSocketURL(),
	}})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"Browser":              "HeadlessChrome/0.0.0.0",
		"Protocol-Version":     "1.3",
		"User-Agent":           "cdptest",
		"webSocketDebuggerUrl": "ws://" + s.http.Listener.Addr().String() + "/devtools/browser/cdptest",
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &conn{ws: ws}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
			_ = ws.Close() //nolint:errcheck // best-effort cleanup
		}()
		s.serve(c)
	}()
}

func (s *Server) serve(c *conn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		h := s.handlers[req.Method]
		s.mu.Unlock()

		r := &Responder{srv: s, id: req.ID}
		if h == nil {
			r.Error(-32601, fmt.Sprintf("'%s' wasn't found", req.Method))
			continue
		}
		h(r, req)
	}
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, data) //nolint:errcheck // peer may be gone
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client may disconnect
}
