package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// envelope is one message travelling through a room. from is nil for
// messages that arrived from another relay instance.
type envelope struct {
	from *client
	data []byte
}

// room fans messages out to its clients. All membership changes and
// deliveries happen on the run goroutine. done closes once the room has
// stopped; senders select on it so they never block on a dead room.
type room struct {
	name       string
	done       <-chan struct{}
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan envelope
	size       atomic.Int64 // len(clients), readable off the run goroutine
	metrics    *Metrics
	logger     *slog.Logger
}

func newRoom(name string, done <-chan struct{}, m *Metrics, logger *slog.Logger) *room {
	return &room{
		name:       name,
		done:       done,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan envelope, 64),
		metrics:    m,
		logger:     logger.With("room", name),
	}
}

// run serves the room until ctx is done, then disconnects every client.
// It also returns, reporting true, as soon as its last client leaves.
func (r *room) run(ctx context.Context) (empty bool) {
	for {
		select {
		case c := <-r.register:
			r.clients[c] = true
			r.size.Store(int64(len(r.clients)))
			r.metrics.Connections.Add(1)
			r.logger.Debug("client joined", "client", c.id, "clients", len(r.clients))

		case c := <-r.unregister:
			if r.clients[c] {
				r.remove(c)
				r.logger.Debug("client left", "client", c.id, "clients", len(r.clients))
				if len(r.clients) == 0 {
					return true
				}
			}

		case env := <-r.broadcast:
			had := len(r.clients)
			for c := range r.clients {
				if c == env.from {
					continue
				}
				select {
				case c.send <- env.data:
					r.metrics.Forwarded.Add(1)
				default:
					r.remove(c)
					r.metrics.Dropped.Add(1)
					r.logger.Warn("dropped slow client", "client", c.id)
				}
			}
			if had > 0 && len(r.clients) == 0 {
				return true
			}

		case <-ctx.Done():
			for c := range r.clients {
				r.remove(c)
			}
			return false
		}
	}
}

// remove forgets c and closes its send channel, which ends its writer.
func (r *room) remove(c *client) {
	delete(r.clients, c)
	r.size.Store(int64(len(r.clients)))
	close(c.send)
	r.metrics.Connections.Add(-1)
}
