package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/observe"
)

// Event types on the /v1/events stream.
const (
	EventCapture           = "capture"
	EventSnapshot          = "snapshot"
	EventEnded             = "ended"
	EventJoined            = "joined"
	EventLeft              = "left"
	EventSourceUnavailable = "source_unavailable"

	// EventCue and EventError are only sent by the server.
	EventCue   = "cue"
	EventError = "error"
)

// clientBuffer is the number of outbound events queued per client before
// further cues to it are dropped.
const clientBuffer = 32

const writeTimeout = 5 * time.Second

// Event is one message on the /v1/events stream. Capture fields are inlined.
type Event struct {
	Type string `json:"type"`

	UtterancePayload

	// Participants is the full set for "snapshot".
	Participants []uint32 `json:"participants,omitempty"`

	// ID is the participant for "joined" and "left".
	ID *uint32 `json:"id,omitempty"`

	// Reason accompanies "source_unavailable".
	Reason string `json:"reason,omitempty"`

	// Text carries the cue or error message.
	Text string `json:"text,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub tracks connected event stream clients and broadcasts cues to them.
// It implements the capture engine's notifier. All methods are safe for
// concurrent use.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Cue broadcasts text to every client without blocking. Clients whose queue
// is full miss the cue.
func (h *Hub) Cue(ctx context.Context, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- Event{Type: EventCue, Text: text}:
		default:
			observe.Logger(ctx).Debug("event stream client slow, cue dropped", "cue", text)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// reply queues an event for one client. It must not be called after remove.
func (h *Hub) reply(c *client, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case c.send <- ev:
	default:
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for ev := range c.send {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, c.conn, ev)
		cancel()
		if err != nil {
			return
		}
	}
}

// events upgrades the request and processes inbound events until the client
// disconnects.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("event stream upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxEventBytes)

	ctx := r.Context()
	c := &client{conn: conn, send: make(chan Event, clientBuffer)}
	s.hub.add(c)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()

	log := observe.Logger(ctx)
	log.Info("event stream client connected", "clients", s.hub.Clients())

	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Debug("event stream read ended", "err", err)
			}
			break
		}
		if err := s.apply(ctx, ev); err != nil {
			s.hub.reply(c, Event{Type: EventError, Text: err.Error()})
		}
	}

	s.hub.remove(c)
	wg.Wait()
	conn.Close(websocket.StatusNormalClosure, "")
	log.Info("event stream client disconnected", "clients", s.hub.Clients())
}

// apply routes one inbound stream event to the engine.
func (s *Server) apply(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventCapture:
		s.engine.CaptureUtterance(ctx, ev.utterance())
	case EventSnapshot:
		s.engine.NotifySessionSnapshot(ctx, toIDs(ev.Participants))
	case EventEnded:
		s.engine.NotifySessionEnded(ctx)
	case EventJoined, EventLeft:
		if ev.ID == nil {
			return fmt.Errorf("ingest: %q event without id", ev.Type)
		}
		if ev.Type == EventJoined {
			s.engine.NotifyParticipantJoined(ctx, toIDs([]uint32{*ev.ID})[0])
		} else {
			s.engine.NotifyParticipantLeft(ctx, toIDs([]uint32{*ev.ID})[0])
		}
	case EventSourceUnavailable:
		s.engine.ReportSourceUnavailable(ctx, reasonError(ev.Reason))
	default:
		return fmt.Errorf("ingest: unknown event type %q", ev.Type)
	}
	return nil
}
