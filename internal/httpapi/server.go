// Package httpapi exposes a peer's document over HTTP, so scripts and
// other tools can read and edit it without speaking the sync protocol.
//
//	GET  /health  liveness and replica id
//	GET  /state   the current document (404 while empty)
//	PUT  /state   replace the document; the change syncs to connected peers
//	GET  /model   the replica snapshot: pruned log and tombstones
//	GET  /digest  document digest ("" while empty)
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/transport"
	"github.com/roach88/jsoncrdt/internal/value"
)

// maxBodyBytes bounds PUT /state request bodies.
const maxBodyBytes = 16 << 20

type server struct {
	node   *transport.Node
	logger *slog.Logger
}

// Option configures the API.
type Option func(*server)

// WithLogger logs each request at debug level. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(s *server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer routes the API for node.
func NewServer(node *transport.Node, opts ...Option) http.Handler {
	s := &server{
		node:   node,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.health)
	r.Get("/state", s.getState)
	r.Put("/state", s.putState)
	r.Get("/model", s.getModel)
	r.Get("/digest", s.getDigest)
	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"replica": s.node.ID(),
		"conns":   s.node.Conns(),
	})
}

func (s *server) getState(w http.ResponseWriter, r *http.Request) {
	st := s.node.State()
	if st.Empty {
		writeError(w, http.StatusNotFound, "document is empty")
		return
	}
	data, err := value.Marshal(st.JSON)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *server) putState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	target, err := value.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.node.Update(target); err != nil {
		var inv *crdt.InvariantError
		if errors.As(err, &inv) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.getDigest(w, r)
}

func (s *server) getModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Snapshot())
}

func (s *server) getDigest(w http.ResponseWriter, r *http.Request) {
	digest, err := s.node.Digest()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"digest": digest})
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
