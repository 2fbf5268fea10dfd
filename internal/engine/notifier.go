package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/voice"
)

const (
	EventState       = "state"
	EventRecognition = "recognition"

	publishTimeout = 2 * time.Second
	subscriberBuf  = 16
)

// Event is pushed to the UI shell whenever a session changes.
type Event struct {
	Type      string       `json:"type"`
	SessionID string       `json:"session_id"`
	Step      Step         `json:"step,omitempty"`
	Status    voice.Status `json:"status,omitempty"`
	Error     *PhaseError  `json:"error,omitempty"`
	View      *View        `json:"view,omitempty"`
}

// Notifier delivers session events. Publish must not block for long.
type Notifier interface {
	Publish(ctx context.Context, ev Event)
}

// Subscriber streams one session's events until cancel is called.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (events <-chan Event, cancel func(), err error)
}

func Channel(sessionID string) string { return "attendance:" + sessionID + ":events" }

// RedisNotifier fans events out over Redis pub/sub so any API replica can
// serve the websocket.
type RedisNotifier struct {
	rdb *redis.Client
	log *logrus.Logger
}

func NewRedisNotifier(rdb *redis.Client, log *logrus.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, log: logger.OrDiscard(log)}
}

func (n *RedisNotifier) Publish(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		n.log.WithError(err).Warn("event encode failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := n.rdb.Publish(ctx, Channel(ev.SessionID), b).Err(); err != nil {
		n.log.WithError(err).WithField("session_id", ev.SessionID).Warn("event publish failed")
	}
}

func (n *RedisNotifier) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	ps := n.rdb.Subscribe(ctx, Channel(sessionID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan Event, subscriberBuf)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ps.Channel():
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, cancel, nil
}

// Hub is the in-process Notifier used when Redis is not configured.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*hubSub]struct{}
}

type hubSub struct {
	ch     chan Event
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSub]struct{})}
}

// Publish drops the event for subscribers whose buffer is full.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[ev.SessionID] {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func (h *Hub) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	s := &hubSub{ch: make(chan Event, subscriberBuf)}

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*hubSub]struct{})
		h.subs[sessionID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s.closed {
			return
		}
		s.closed = true
		delete(h.subs[sessionID], s)
		if len(h.subs[sessionID]) == 0 {
			delete(h.subs, sessionID)
		}
		close(s.ch)
	}
	return s.ch, cancel, nil
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, Event) {}
