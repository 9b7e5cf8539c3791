// Package server bridges websocket clients to the job orchestrator.
//
// Every message is a JSON array whose first element names it. A client sends
// ["compute", {...}] and receives ["output", line] for every decoded line,
// then either ["finish", fields] or ["error", {"kind", "message"}]. All
// connections share one orchestrator, so a compute sent while any job is
// running is answered with a ConcurrentRequestRejected error.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"atmoscope/internal/extract"
	"atmoscope/internal/logging"
	"atmoscope/internal/orchestrator"
	"atmoscope/internal/tactile"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	shutdownWait   = 5 * time.Second
)

// MetricsSource reports executor metrics for /healthz. *tactile.AuditLogger
// satisfies it.
type MetricsSource interface {
	GetMetrics() tactile.ExecutionMetricsSnapshot
}

// Config controls the bridge.
type Config struct {
	Listen string
	// MaxConnections caps concurrent TCP connections; zero means unlimited.
	MaxConnections int
	// AllowedOrigins restricts the websocket Origin header; empty allows any.
	AllowedOrigins []string
	// Defaults fill compute fields the client leaves empty.
	Defaults orchestrator.ComputeRequest
	Metrics  MetricsSource
}

// Server serves /ws and /healthz.
type Server struct {
	orch     *orchestrator.Orchestrator
	cfg      Config
	upgrader websocket.Upgrader

	defaultsMu sync.RWMutex
	defaults   orchestrator.ComputeRequest

	clientsMu sync.Mutex
	clients   map[*client]struct{}
	closed    bool
	wg        sync.WaitGroup
}

// New creates a server around orch.
func New(orch *orchestrator.Orchestrator, cfg Config) *Server {
	s := &Server{
		orch:     orch,
		cfg:      cfg,
		defaults: cfg.Defaults,
		clients:  make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	logging.ServerWarn("rejected websocket origin %q", origin)
	return false
}

// SetDefaults replaces the compute defaults for subsequent requests.
func (s *Server) SetDefaults(d orchestrator.ComputeRequest) {
	s.defaultsMu.Lock()
	s.defaults = d
	s.defaultsMu.Unlock()
}

func (s *Server) computeDefaults() orchestrator.ComputeRequest {
	s.defaultsMu.RLock()
	defer s.defaultsMu.RUnlock()
	return s.defaults
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ListenAndServe listens on cfg.Listen and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes every
// websocket client and waits for their jobs to drain.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logging.Server("websocket bridge listening on %s", ln.Addr())

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		if err := srv.Shutdown(sctx); err != nil {
			logging.ServerWarn("http shutdown: %v", err)
		}
		cancel()
		serveErr = <-errCh
	}

	// Hijacked websocket connections are not covered by http.Server.Shutdown.
	s.closeClients()
	s.wg.Wait()
	logging.Server("websocket bridge stopped")

	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return serveErr
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	s.closed = true
	list := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		list = append(list, c)
	}
	s.clientsMu.Unlock()

	for _, c := range list {
		c.close()
	}
}

// Health is the /healthz body.
type Health struct {
	Status     string                            `json:"status"`
	State      string                            `json:"state"`
	JobID      string                            `json:"job_id,omitempty"`
	Clients    int                               `json:"clients"`
	Executions *tactile.ExecutionMetricsSnapshot `json:"executions,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := Health{
		Status:  "ok",
		State:   orchestrator.StateIdle.String(),
		Clients: s.Clients(),
	}
	if job := s.orch.Current(); job != nil {
		h.State = orchestrator.StateRunning.String()
		h.JobID = job.ID
	}
	if s.cfg.Metrics != nil {
		snap := s.cfg.Metrics.GetMetrics()
		h.Executions = &snap
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h); err != nil {
		logging.ServerWarn("failed to write health: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logging.ServerDebug("websocket upgrade failed: %v", err)
		return
	}

	c := newClient(conn)
	s.clientsMu.Lock()
	if s.closed {
		s.clientsMu.Unlock()
		c.close()
		return
	}
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.wg.Add(1)
	s.clientsMu.Unlock()
	logging.ServerDebug("client %s connected (%d total)", conn.RemoteAddr(), count)

	go s.handleClient(c)
}

func (s *Server) removeClient(c *client) {
	c.close()
	c.wg.Wait()

	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
	logging.ServerDebug("client %s disconnected", c.conn.RemoteAddr())
}

// handleClient reads messages until the connection ends. Jobs started by this
// client are cancelled when it goes away.
func (s *Server) handleClient(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.wg.Add(1)
	go c.keepAlive()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.ServerDebug("client %s read: %v", c.conn.RemoteAddr(), err)
			}
			return
		}
		s.dispatch(c, data)
	}
}

func (s *Server) dispatch(c *client, data []byte) {
	kind, body, err := decodeMessage(data)
	if err != nil {
		c.sendError(KindBadMessage, err.Error())
		return
	}

	switch kind {
	case "compute":
		req, err := decodeCompute(body)
		if err != nil {
			c.sendError(KindBadMessage, err.Error())
			return
		}
		s.compute(c, req.WithDefaults(s.computeDefaults()))
	default:
		c.sendError(KindBadMessage, fmt.Sprintf("unknown message type %q", kind))
	}
}

func (s *Server) compute(c *client, req orchestrator.ComputeRequest) {
	job, err := s.orch.Submit(c.ctx, req)
	switch {
	case errors.Is(err, orchestrator.ErrConcurrentRequest):
		c.sendError(KindConcurrentRequest, err.Error())
		return
	case err != nil:
		c.sendError(KindInvalidRequest, err.Error())
		return
	}

	logging.Server("client %s started job %s", c.conn.RemoteAddr(), job.ID)
	c.wg.Add(1)
	go c.relay(job)
}

// ErrorKind names the failure in an ["error", ...] message.
type ErrorKind string

const (
	KindMalformedField    ErrorKind = "MalformedField"
	KindExternalFailure   ErrorKind = "ExternalComputationFailure"
	KindConcurrentRequest ErrorKind = "ConcurrentRequestRejected"
	KindInvalidRequest    ErrorKind = "InvalidRequest"
	KindBadMessage        ErrorKind = "BadMessage"
)

// ErrorPayload is the body of an ["error", ...] message.
type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func errorKind(err error) ErrorKind {
	switch {
	case errors.Is(err, extract.ErrMalformedField):
		return KindMalformedField
	case errors.Is(err, orchestrator.ErrConcurrentRequest):
		return KindConcurrentRequest
	default:
		return KindExternalFailure
	}
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

func newClient(conn *websocket.Conn) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{conn: conn, ctx: ctx, cancel: cancel}
}

func (c *client) close() {
	c.once.Do(func() {
		c.cancel()
		_ = c.conn.Close()
	})
}

// send writes one message. gorilla/websocket allows a single concurrent writer.
func (c *client) send(kind string, payload any) error {
	data, err := json.Marshal([]any{kind, payload})
	if err != nil {
		return fmt.Errorf("encode %s message: %w", kind, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) sendError(kind ErrorKind, message string) {
	if err := c.send("error", ErrorPayload{Kind: kind, Message: message}); err != nil {
		logging.ServerDebug("client %s: failed to send %s: %v", c.conn.RemoteAddr(), kind, err)
	}
}

// relay forwards a job's notifications. It drains the channel even after the
// connection fails so decoding never blocks on a gone client.
func (c *client) relay(job *orchestrator.Job) {
	defer c.wg.Done()

	var sendErr error
	for n := range job.Notifications() {
		if sendErr != nil {
			continue
		}
		switch n.Kind {
		case orchestrator.KindLine:
			sendErr = c.send("output", n.Line)
		case orchestrator.KindResult:
			if n.Err != nil {
				sendErr = c.send("error", ErrorPayload{Kind: errorKind(n.Err), Message: n.Err.Error()})
			} else {
				sendErr = c.send("finish", n.Result)
			}
		}
		if sendErr != nil {
			logging.ServerDebug("job %s: client %s gone: %v", job.ID, c.conn.RemoteAddr(), sendErr)
		}
	}
}

func (c *client) keepAlive() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
