package relay

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// channelPrefix namespaces room channels in Redis.
const channelPrefix = "jsoncrdt:relay:"

// remoteMessage is what relays publish to each other.
type remoteMessage struct {
	Instance string `json:"instance"`
	Client   uint64 `json:"client"`
	Payload  string `json:"payload"`
}

func channelFor(room string) string {
	return channelPrefix + room
}

// publish shares a client's message with the other relay instances.
func (s *Server) publish(room string, clientID uint64, data []byte) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(remoteMessage{
		Instance: s.instance,
		Client:   clientID,
		Payload:  string(data),
	})
	if err != nil {
		s.logger.Warn("encode relay message", "room", room, "error", err)
		return
	}
	if err := s.redis.Publish(s.ctx, channelFor(room), payload).Err(); err != nil {
		s.logger.Warn("publish failed", "room", room, "error", err)
	}
}

// subscribe forwards messages other instances publish for rm until ctx,
// the room's context, is done.
func (s *Server) subscribe(ctx context.Context, rm *room) {
	pubsub := s.redis.Subscribe(ctx, channelFor(rm.name))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("subscribe failed", "room", rm.name, "error", err)
		}
		return
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.forwardRemote(rm, msg)
		}
	}
}

func (s *Server) forwardRemote(rm *room, msg *redis.Message) {
	var rem remoteMessage
	if err := json.Unmarshal([]byte(msg.Payload), &rem); err != nil {
		s.logger.Warn("dropped relay message", "room", rm.name, "error", err)
		return
	}
	if rem.Instance == s.instance {
		return
	}
	s.metrics.Messages.With("source", "redis").Add(1)
	select {
	case rm.broadcast <- envelope{data: []byte(rem.Payload)}:
	case <-rm.done:
	}
}
