package dashboard

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"gridbot/internal/bot"
	"gridbot/internal/core"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// PushInterval is how often the full state snapshot is broadcast
const PushInterval = 2 * time.Second

var (
	wsActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_dashboard_ws_connections",
		Help: "Current number of dashboard websocket connections",
	})
	wsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_dashboard_ws_rejected_total",
		Help: "Dashboard websocket connections rejected",
	}, []string{"reason"})
)

// BotController is the slice of the orchestrator the dashboard needs
type BotController interface {
	StateSnapshot() bot.Snapshot
	ResetHalt(ctx context.Context) error
	PausePair(ctx context.Context, symbol string) error
	ResumePair(ctx context.Context, symbol string) error
}

// Options tunes the server
type Options struct {
	Addr           string
	EnableControls bool
	MaxConnections int
	RateLimit      float64 // websocket upgrades per second per IP
	RateBurst      int
}

// Server pushes bot snapshots to websocket clients and exposes the
// health, metrics and control endpoints. Controls are rejected unless
// explicitly enabled in config.
type Server struct {
	opts       Options
	controller BotController
	hub        *Hub
	logger     core.ILogger

	mu  sync.Mutex
	srv *http.Server

	connSemaphore chan struct{}
	ipLimiters    sync.Map // ip -> *rate.Limiter
	upgrader      websocket.Upgrader
}

// NewServer creates a dashboard server over the controller
func NewServer(opts Options, controller BotController, logger core.ILogger) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 100
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	s := &Server{
		opts:          opts,
		controller:    controller,
		hub:           NewHub(logger),
		logger:        logger.WithField("component", "dashboard"),
		connSemaphore: make(chan struct{}, opts.MaxConnections),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// The dashboard binds to localhost by default; browsers on the
		// same host are welcome.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

// Run serves until ctx is cancelled. It owns the hub loop and the
// periodic snapshot push.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.srv = &http.Server{Addr: s.opts.Addr, Handler: s.Handler()}
	s.mu.Unlock()

	go s.hub.Run(ctx)
	go s.pushLoop(ctx)

	s.logger.Info("Dashboard listening", "addr", s.opts.Addr, "controls", s.opts.EnableControls)

	errChan := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}
			s.hub.Broadcast(Message{Type: TypeSnapshot, Data: s.controller.StateSnapshot()})
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !s.ipLimiter(ip).Allow() {
		s.logger.Warn("Websocket rate limit exceeded", "ip", ip)
		wsRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case s.connSemaphore <- struct{}{}:
		wsActiveConnections.Inc()
		defer func() {
			<-s.connSemaphore
			wsActiveConnections.Dec()
		}()
	default:
		s.logger.Warn("Websocket connection limit reached")
		wsRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(uuid.NewString())
	s.hub.Register(client)

	// Greet with the current state so the UI renders immediately
	client.Send(Message{Type: TypeSnapshot, Data: s.controller.StateSnapshot()})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.writePump(conn, client) }()
	go func() { defer wg.Done(); s.readPump(conn, client) }()
	wg.Wait()

	s.hub.Unregister(client)
	_ = conn.Close()
}

func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.SendChan():
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer s.hub.Unregister(client)

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	// Clients only listen; the read pump just notices disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"time":    time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.StateSnapshot())
}

// requireControls rejects mutating endpoints unless enabled in config
func (s *Server) requireControls(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.opts.EnableControls {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "controls disabled"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHaltReset(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.ResetHalt(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("Halt reset via dashboard", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handlePairAction(w, r, "pause", s.controller.PausePair)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.handlePairAction(w, r, "resume", s.controller.ResumePair)
}

func (s *Server) handlePairAction(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, string) error) {
	symbol := r.PathValue("symbol")
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing symbol"})
		return
	}
	if err := fn(r.Context(), symbol); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("Pair control via dashboard",
		"action", action, "symbol", symbol, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok", "symbol": symbol})
}

// Handler builds the route table. Run serves it; tests mount it on
// httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/halt/reset", s.requireControls(s.handleHaltReset))
	mux.HandleFunc("POST /api/pause/{symbol...}", s.requireControls(s.handlePause))
	mux.HandleFunc("POST /api/resume/{symbol...}", s.requireControls(s.handleResume))
	return mux
}

// Hub exposes the hub, mainly for tests
func (s *Server) Hub() *Hub {
	return s.hub
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) ipLimiter(ip string) *rate.Limiter {
	if v, ok := s.ipLimiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateBurst)
	actual, _ := s.ipLimiters.LoadOrStore(ip, limiter)
	return actual.(*rate.Limiter)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
