// Package dashboard is the admin server of `rr serve`.
//
// It pushes write and replay events to WebSocket clients, exposes health
// and Prometheus metrics, and accepts manual replay requests.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MessageType names the payload carried in Message.Data.
type MessageType string

const (
	// MessageTypeMutation reports a local write and whether the server
	// confirmed it.
	MessageTypeMutation MessageType = "mutation"

	// MessageTypeReplayComplete reports a finished replay pass.
	MessageTypeReplayComplete MessageType = "replay_complete"

	// MessageTypeStats carries the running totals. It is also the first
	// frame every client receives.
	MessageTypeStats MessageType = "stats"
)

// Message is one frame sent to dashboard clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	queueSize    = 64
	writeTimeout = 5 * time.Second
)

// subscriber is one WebSocket client with its own outbound queue, so a
// slow reader only loses its own frames.
type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte
	gone  chan struct{}
	once  sync.Once
}

func (c *subscriber) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.gone)
		_ = c.conn.Close(code, reason)
	})
}

// Server fans dashboard messages out to WebSocket subscribers.
type Server struct {
	addr     string
	registry *prometheus.Registry
	onSync   func()
	logger   *log.Logger

	mu    sync.RWMutex
	subs  map[*subscriber]struct{}
	stats func() *StatsData

	events chan Message

	listener net.Listener
	http     *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8081). Port 0 picks a free port.
	Addr string

	// Registry served on /metrics. Nil serves only the dashboard's own
	// collectors.
	Registry *prometheus.Registry

	// OnSync is called for POST /sync. Nil disables the endpoint.
	OnSync func()

	Logger *log.Logger
}

// DefaultConfig returns the configuration used for nil or zero fields.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:8081",
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer builds a server. Nothing listens until Start.
func NewServer(config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	addr, logger := config.Addr, config.Logger
	if addr == "" {
		addr = defaults.Addr
	}
	if logger == nil {
		logger = defaults.Logger
	}

	registry := config.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	for _, c := range Metrics() {
		// A second server on the same registry finds them already there.
		_ = registry.Register(c)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		registry: registry,
		onSync:   config.OnSync,
		logger:   logger,
		subs:     make(map[*subscriber]struct{}),
		events:   make(chan Message, 100),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handler returns the HTTP routes without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/health", s.serveHealth)
	mux.HandleFunc("/sync", s.serveSync)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", s.serveIndex)
	return mux
}

// Start listens on the configured address and starts the fan-out loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.fanout()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Serve failed: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every subscriber and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[*subscriber]struct{})
	s.mu.Unlock()
	for sub := range subs {
		sub.close(websocket.StatusGoingAway, "server shutting down")
	}
	ConnectedClients.Set(0)

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.http.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shut down dashboard: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return err
}

// Broadcast queues msg for every subscriber. It never blocks; when the
// queue is full the message is dropped and counted.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.events <- msg:
	case <-s.ctx.Done():
	default:
		DroppedMessages.Inc()
		s.logger.Printf("Event queue full, dropped %s message", msg.Type)
	}
}

// SetStatsSource sets the function whose result greets new subscribers.
func (s *Server) SetStatsSource(fn func() *StatsData) {
	s.mu.Lock()
	s.stats = fn
	s.mu.Unlock()
}

func (s *Server) fanout() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.events:
			frame, err := encode(msg)
			if err != nil {
				s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
				continue
			}
			s.mu.RLock()
			for sub := range s.subs {
				select {
				case sub.queue <- frame:
				default:
					DroppedMessages.Inc()
				}
			}
			s.mu.RUnlock()
			BroadcastMessages.WithLabelValues(string(msg.Type)).Inc()
		}
	}
}

func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	sub := &subscriber{
		conn:  conn,
		queue: make(chan []byte, queueSize),
		gone:  make(chan struct{}),
	}

	s.mu.Lock()
	welcome := Message{Type: MessageTypeStats}
	if s.stats != nil {
		if data, err := json.Marshal(s.stats()); err == nil {
			welcome.Data = data
		}
	}
	if frame, err := encode(welcome); err == nil {
		sub.queue <- frame
	}
	s.subs[sub] = struct{}{}
	n := len(s.subs)
	s.mu.Unlock()

	ConnectedClients.Set(float64(n))
	s.logger.Printf("Client connected (%d total)", n)

	go s.writeLoop(sub)
	s.readLoop(sub)
}

// writeLoop sends queued frames until the subscriber goes away.
func (s *Server) writeLoop(sub *subscriber) {
	for {
		select {
		case <-sub.gone:
			return
		case <-s.ctx.Done():
			return
		case frame := <-sub.queue:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := sub.conn.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				s.logger.Printf("Write to client failed: %v", err)
				s.drop(sub)
				return
			}
		}
	}
}

// readLoop discards client frames; it returns when the connection closes.
func (s *Server) readLoop(sub *subscriber) {
	defer s.drop(sub)
	for {
		if _, _, err := sub.conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) drop(sub *subscriber) {
	s.mu.Lock()
	_, ok := s.subs[sub]
	delete(s.subs, sub)
	n := len(s.subs)
	s.mu.Unlock()

	sub.close(websocket.StatusNormalClosure, "")
	if ok {
		ConnectedClients.Set(float64(n))
		s.logger.Printf("Client disconnected (%d total)", n)
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// serveSync starts a replay pass and answers without waiting for it. The
// outcome arrives as a replay_complete message.
func (s *Server) serveSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.onSync == nil {
		http.Error(w, "replay not available", http.StatusServiceUnavailable)
		return
	}
	s.onSync()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<title>Restaurant Reviews sync</title>
<h1>Restaurant Reviews sync</h1>
<ul>
  <li>Events: <code>ws://%s/ws</code></li>
  <li><a href="/health">/health</a></li>
  <li><a href="/metrics">/metrics</a></li>
  <li><code>POST /sync</code> replays queued writes</li>
</ul>
`, r.Host)
}

// GetAddr returns the bound address once started, else the configured one.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected subscribers.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
