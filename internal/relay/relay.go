package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// RoomPattern is the route pattern rooms must match.
const RoomPattern = `[A-Za-z0-9_-]+`

// Server relays messages between the clients of each room.
//
// Thread-safety: all methods are safe for concurrent use.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	rooms map[string]*room

	router   *mux.Router
	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	redis    *redis.Client
	instance string

	metrics  *Metrics
	registry *prometheus.Registry
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRedis fans rooms out across relay instances sharing client.
func WithRedis(client *redis.Client) Option {
	return func(s *Server) {
		s.redis = client
	}
}

// WithInstance names this relay instance in Redis envelopes.
// Default: a random UUID.
func WithInstance(id string) Option {
	return func(s *Server) {
		if id != "" {
			s.instance = id
		}
	}
}

// WithMetrics records Prometheus metrics and serves them on /metrics.
// A room named "metrics" is then unreachable.
func WithMetrics() Option {
	return func(s *Server) {
		s.registry = prometheus.NewRegistry()
	}
}

// New creates a relay. Call Close (or cancel the ListenAndServe context)
// to stop its room hubs.
func New(opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		ctx:      ctx,
		cancel:   cancel,
		rooms:    make(map[string]*room),
		instance: uuid.NewString(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.metrics = DiscardMetrics()
	s.router = mux.NewRouter()
	if s.registry != nil {
		s.metrics = NewMetrics(s.registry)
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/{room:"+RoomPattern+"}", s.serveRoom)
	return s
}

// Handler returns the HTTP handler serving rooms and metrics.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Rooms returns the names of rooms with a running hub, sorted. A room stops
// when its last client leaves.
func (s *Server) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Clients returns the number of clients currently in room.
func (s *Server) Clients(room string) int {
	s.mu.Lock()
	rm, ok := s.rooms[room]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return int(rm.size.Load())
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully and closes every room.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		s.Close()
		shutdownErr <- err
	}()

	s.logger.Info("relay listening", "addr", ln.Addr().String(), "instance", s.instance, "redis", s.redis != nil)
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return <-shutdownErr
}

// Close disconnects every client and stops all room hubs.
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Server) serveRoom(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["room"]
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("upgrade failed", "room", name, "error", err)
		return
	}

	c := &client{
		id:   s.nextID.Add(1),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	for {
		rm := s.room(name)
		if rm == nil {
			conn.Close()
			return
		}
		select {
		case rm.register <- c:
			go c.writePump()
			go c.readPump(s, rm)
			return
		case <-rm.done:
			// The room emptied and stopped while we were joining.
		}
	}
}

// room returns the named room, starting its hub on first use. It returns
// nil once the server is closed.
//
// The hub goroutine and the Redis subscription share a room context. When
// the last client leaves, the room is removed from the map before that
// context is cancelled, so a concurrent join either reaches the old hub or
// retries against a fresh room.
func (s *Server) room(name string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil
	}
	if rm, ok := s.rooms[name]; ok {
		return rm
	}
	ctx, cancel := context.WithCancel(s.ctx)
	rm := newRoom(name, ctx.Done(), s.metrics, s.logger)
	s.rooms[name] = rm
	s.metrics.Rooms.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if rm.run(ctx) {
			s.retire(rm)
		}
	}()
	if s.redis != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.subscribe(ctx, rm)
		}()
	}
	return rm
}

// retire forgets a room whose last client left.
func (s *Server) retire(rm *room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[rm.name] == rm {
		delete(s.rooms, rm.name)
		s.metrics.Rooms.Add(-1)
		s.logger.Debug("room closed", "room", rm.name)
	}
}
