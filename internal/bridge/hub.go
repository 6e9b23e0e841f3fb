// Package bridge relays pipeline events to external agents over WebSocket.
//
// A [Hub] accepts WebSocket clients on any path (a browser transcript view,
// a coding-agent terminal) and broadcasts transcripts, queries and reply
// audio to all of them. Agents answer with "response" frames whose text is
// handed to the [WithOnResponse] callback, which the gateway wires to the
// orchestrator so the reply is spoken in the room.
//
// Plain HTTP requests to the same listener serve a small status API:
//
//	GET /        service banner and client count
//	GET /status  running state and client count
//	GET /test    broadcast a test transcript (?message=...)
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/yalda00/nexhacks-aura2.0/internal/observe"
)

// Defaults for hub options.
const (
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	// DefaultReadLimit caps one inbound frame. A response frame carries a
	// whole agent reply and may be far larger than the library's 32 KiB.
	DefaultReadLimit int64 = 16 << 20

	defaultTestMessage = "Test transcript from server"
	serviceName        = "Aura Bridge WebSocket Server"
)

type peer struct {
	id     string
	remote string
	conn   *websocket.Conn
}

// Hub is the bridge WebSocket server. It implements [http.Handler] and is
// safe for concurrent use.
type Hub struct {
	pingInterval time.Duration
	writeTimeout time.Duration
	readLimit    int64
	origins      []string
	metrics      *observe.Metrics
	log          *slog.Logger
	mux          *http.ServeMux

	mu         sync.Mutex
	clients    map[*peer]struct{}
	onResponse func(text string)
	closed     bool
}

var _ http.Handler = (*Hub)(nil)

// Option configures a [Hub].
type Option func(*Hub)

// WithPingInterval sets the keep-alive ping period. Default 30s.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithWriteTimeout bounds each frame write. Default 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithReadLimit caps the size of one inbound frame in bytes. Default 16 MiB.
func WithReadLimit(n int64) Option {
	return func(h *Hub) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// WithAllowedOrigins restricts browser clients to the given origin host
// patterns, matched with path.Match. Requests without an Origin header are
// not affected. With no patterns every origin is accepted.
func WithAllowedOrigins(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// WithOnResponse sets the callback that receives agent reply text.
func WithOnResponse(fn func(text string)) Option {
	return func(h *Hub) { h.onResponse = fn }
}

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHub creates a Hub with no clients.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		pingInterval: DefaultPingInterval,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
		log:          slog.Default(),
		clients:      make(map[*peer]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	h.log = h.log.With("component", "bridge")

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("GET /{$}", h.handleRoot)
	h.mux.HandleFunc("GET /status", h.handleStatus)
	h.mux.HandleFunc("GET /test", h.handleTest)
	return h
}

// SetOnResponse replaces the reply callback.
func (h *Hub) SetOnResponse(fn func(text string)) {
	h.mu.Lock()
	h.onResponse = fn
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades WebSocket handshakes on any path and routes plain
// requests to the status API.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isUpgrade(r) {
		h.serveClient(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func (h *Hub) serveClient(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(h.readLimit)

	p := &peer{id: uuid.NewString(), remote: r.RemoteAddr, conn: conn}
	if !h.add(p) {
		conn.Close(websocket.StatusGoingAway, "server closing")
		return
	}
	defer h.drop(p)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.keepAlive(ctx, p)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			h.log.Debug("client read ended", "client", p.id, "status", websocket.CloseStatus(err), "err", err)
			return
		}
		h.handle(p, data)
	}
}

// acceptOptions skips the origin check only when no origins are configured,
// so local agents and ad-hoc browser views can connect out of the box.
func (h *Hub) acceptOptions() *websocket.AcceptOptions {
	if len(h.origins) == 0 {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: h.origins}
}

func (h *Hub) add(p *peer) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[p] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.BridgeClients.Add(context.Background(), 1)
	h.log.Info("client connected", "client", p.id, "remote", p.remote, "clients", n)
	return true
}

// drop removes p and closes its connection. Safe to call more than once.
func (h *Hub) drop(p *peer) {
	h.mu.Lock()
	_, ok := h.clients[p]
	delete(h.clients, p)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	p.conn.CloseNow()
	h.metrics.BridgeClients.Add(context.Background(), -1)
	h.log.Info("client disconnected", "client", p.id, "clients", n)
}

func (h *Hub) keepAlive(ctx context.Context, p *peer) {
	t := time.NewTicker(h.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := p.conn.Ping(pctx)
			cancel()
			if err != nil && ctx.Err() == nil {
				h.log.Debug("ping failed, dropping client", "client", p.id, "err", err)
				h.drop(p)
				return
			}
		}
	}
}

// handle processes one inbound frame. Malformed frames are logged and the
// connection stays open.
func (h *Hub) handle(p *peer, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Warn("malformed bridge message", "client", p.id, "err", err)
		return
	}

	switch msg.Type {
	case TypeQuery:
		h.log.Info("query received", "client", p.id, "text", msg.Text())
	case TypeAction, TypeConfirmation:
		h.log.Info(msg.Type+" received", "client", p.id, "content", string(msg.Content))
	case TypeResponse:
		text, ok := ReplyText(msg.Content)
		if !ok {
			h.log.Warn("response without text", "client", p.id)
			return
		}
		h.log.Info("response received", "client", p.id, "chars", len(text))
		h.mu.Lock()
		fn := h.onResponse
		h.mu.Unlock()
		if fn != nil {
			fn(text)
		}
	default:
		h.log.Warn("unknown message type", "client", p.id, "type", msg.Type)
	}
}

// Broadcast writes raw to every client and returns how many received it.
// Clients whose write fails are dropped.
func (h *Hub) Broadcast(raw []byte) int {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.clients))
	for p := range h.clients {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	sent := 0
	for _, p := range peers {
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		err := p.conn.Write(ctx, websocket.MessageText, raw)
		cancel()
		if err != nil {
			h.log.Warn("write failed, dropping client", "client", p.id, "err", err)
			h.drop(p)
			continue
		}
		sent++
	}
	h.log.Debug("broadcast", "sent", sent)
	return sent
}

// Send marshals m and broadcasts it.
func (h *Hub) Send(m Message) (int, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("bridge: marshal %s: %w", m.Type, err)
	}
	return h.Broadcast(raw), nil
}

// SendQuery broadcasts a query for coding agents.
func (h *Hub) SendQuery(text string) int {
	n, _ := h.Send(QueryMessage(text))
	return n
}

// SendTranscript broadcasts a display-only transcript.
func (h *Hub) SendTranscript(text string) int {
	n, _ := h.Send(TextMessage(TypeTranscript, text))
	return n
}

// SendAudio broadcasts reply audio as base64.
func (h *Hub) SendAudio(audio []byte) int {
	n, _ := h.Send(AudioMessage(audio))
	return n
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	peers := make([]*peer, 0, len(h.clients))
	for p := range h.clients {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		if err := p.conn.Close(websocket.StatusGoingAway, "server closing"); err != nil && !errors.Is(err, net.ErrClosed) {
			h.log.Debug("close handshake failed", "client", p.id, "err", err)
		}
		h.drop(p)
	}
	return nil
}

// ─── status API ───────────────────────────────────────────────────────────────

type rootResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Clients int    `json:"clients"`
}

type statusResponse struct {
	Status           string `json:"status"`
	ConnectedClients int    `json:"connectedClients"`
}

type testResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ClientCount int    `json:"clientCount"`
	Text        string `json:"text"`
}

func (h *Hub) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{Status: "ok", Service: serviceName, Clients: h.Clients()})
}

func (h *Hub) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "running", ConnectedClients: h.Clients()})
}

func (h *Hub) handleTest(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("message")
	if text == "" {
		text = defaultTestMessage
	}
	h.SendTranscript(text)
	writeJSON(w, http.StatusOK, testResponse{
		Success:     true,
		Message:     "Test transcript sent",
		ClientCount: h.Clients(),
		Text:        text,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
