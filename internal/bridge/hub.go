// Package bridge connects the game session to a presentation front end over
// WebSocket. Session events are broadcast to every client as JSON; clients
// send commands back.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/thyrook/chessrig/internal/session"
)

// CommandSink accepts commands for the running session.
type CommandSink interface {
	Submit(cmd session.Command) error
}

// Request is a client message.
type Request struct {
	Command string `json:"command"`
}

// Reply answers one Request.
type Reply struct {
	Kind    string `json:"kind"`
	Command string `json:"command"`
	Error   string `json:"error,omitempty"`
}

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan interface{}
}

// Hub fans session events out to WebSocket clients. It implements
// session.Notifier.
type Hub struct {
	sink   CommandSink
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	// replayed to new clients
	lastPhase *session.Event
	lastBoard *session.Event
}

// NewHub creates a hub forwarding commands to sink.
func NewHub(sink CommandSink, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sink:    sink,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Notify broadcasts ev. A client whose buffer is full misses the event.
func (h *Hub) Notify(ev session.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Kind {
	case session.EventPhase:
		h.lastPhase = &ev
	case session.EventBoard:
		h.lastBoard = &ev
	}

	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("Dropping event for slow client", zap.String("kind", string(ev.Kind)))
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handler serves the WebSocket endpoint at /ws and a health check at /healthz.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Serve listens on addr until ctx ends.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		h.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	h.logger.Info("Bridge listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range []*session.Event{h.lastPhase, h.lastBoard} {
		if ev != nil {
			c.send <- *ev
		}
	}
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket accept failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan interface{}, sendBuffer)}
	h.register(c)
	h.logger.Info("Bridge client connected", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.writeLoop(ctx, c)

	h.readLoop(ctx, c)
	h.unregister(c)
	conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("Bridge client disconnected", zap.String("remote", r.RemoteAddr))
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for msg := range c.send {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, c.conn, msg)
		cancel()
		if err != nil {
			c.conn.Close(websocket.StatusInternalError, "write failed")
			return
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		var req Request
		if err := wsjson.Read(ctx, c.conn, &req); err != nil {
			return
		}
		h.reply(c, h.handle(req))
	}
}

func (h *Hub) handle(req Request) Reply {
	cmd, err := session.ParseCommand(req.Command)
	if err == nil {
		err = h.sink.Submit(cmd)
	}
	if err != nil {
		h.logger.Warn("Bridge command rejected", zap.String("command", req.Command), zap.Error(err))
		return Reply{Kind: "rejected", Command: req.Command, Error: err.Error()}
	}
	h.logger.Info("Bridge command", zap.Stringer("command", cmd))
	return Reply{Kind: "accepted", Command: cmd.String()}
}

func (h *Hub) reply(c *client, r Reply) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- r:
	default:
	}
}
