package status

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"zombidef.ai/internal/scheduler"
)

const (
	EventJoin = "join"
	EventTurn = "turn"

	recentTurns = 50
	clientQueue = 16

	defaultPongWait = 60 * time.Second
	writeWait       = 5 * time.Second
)

// Event is one message on the live feed.
type Event struct {
	Type string                `json:"type"`
	Join *scheduler.JoinRecord `json:"join,omitempty"`
	Turn *scheduler.TurnRecord `json:"turn,omitempty"`
}

// Hub fans joins and turns out to websocket viewers and keeps the most recent turns for
// late joiners. A slow viewer loses messages; the turn loop never waits on it.
type Hub struct {
	log *log.Logger

	upgrader websocket.Upgrader
	// A viewer that answers no ping within pongWait is dropped. Pings go out every 9/10 of it.
	pongWait time.Duration

	mu      sync.Mutex
	clients map[*viewer]struct{}
	recent  []scheduler.TurnRecord

	dropped atomic.Uint64
}

type viewer struct {
	out chan []byte
}

var _ scheduler.Recorder = (*Hub)(nil)

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		log:      logger,
		pongWait: defaultPongWait,
		clients:  map[*viewer]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) RecordJoin(r scheduler.JoinRecord) {
	h.broadcast(Event{Type: EventJoin, Join: &r})
}

func (h *Hub) RecordTurn(r scheduler.TurnRecord) {
	h.mu.Lock()
	h.recent = append(h.recent, r)
	if len(h.recent) > recentTurns {
		h.recent = append(h.recent[:0], h.recent[len(h.recent)-recentTurns:]...)
	}
	h.mu.Unlock()
	h.broadcast(Event{Type: EventTurn, Turn: &r})
}

// Recent returns up to the last 50 turns, oldest first.
func (h *Hub) Recent() []scheduler.TurnRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]scheduler.TurnRecord(nil), h.recent...)
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) broadcast(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.clients {
		select {
		case v.out <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) register() *viewer {
	v := &viewer{out: make(chan []byte, clientQueue)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[v] = struct{}{}
	// Replay the latest turn so a new viewer has something to draw.
	if n := len(h.recent); n > 0 {
		last := h.recent[n-1]
		if b, err := json.Marshal(Event{Type: EventTurn, Turn: &last}); err == nil {
			v.out <- b
		}
	}
	return v
}

func (h *Hub) unregister(v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, v)
}

// Handler upgrades to a websocket and streams events until the viewer goes away.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		v := h.register()
		defer h.unregister(v)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		pongWait := h.pongWait
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		// Writer goroutine: events and keepalive pings.
		go func() {
			ping := time.NewTicker(pongWait * 9 / 10)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-v.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Viewers send nothing; reading handles pongs and notices the close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
}
