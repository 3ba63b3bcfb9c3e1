package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/pardeema/bot-attack-simulator/pkg/event"
)

const heartbeatInterval = 30 * time.Second

// handleStream relays the event stream over SSE. Each event is written as
// a named SSE event whose name is the event kind. The subscription is torn
// down when the finished event has been delivered or the client drops.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, err := s.bus.Subscribe(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable: "+err.Error())
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.trackStreamClient(sub.ID(), +1)
	defer s.trackStreamClient(sub.ID(), -1)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case env, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSE(w, env); err != nil {
				return
			}
			flusher.Flush()
			if env.Kind == event.KindFinished {
				// The run is over; nothing further will arrive for it.
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, env event.Envelope) error {
	data, err := json.Marshal(env.Payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Kind, data)
	return err
}

// wsEnvelope is the wire shape for WebSocket delivery, mirroring the SSE
// named-event pairing of kind and payload.
type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handleWebSocket relays the same stream over a WebSocket for observers
// that cannot use SSE.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.bus.Subscribe(ctx)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "event stream unavailable")
		return
	}
	defer sub.Unsubscribe()

	s.trackStreamClient(sub.ID(), +1)
	defer s.trackStreamClient(sub.ID(), -1)

	// Reads only surface client disconnects; the stream is one-way.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(env.Payload)
			if err != nil {
				continue
			}
			if err := wsjson.Write(ctx, conn, wsEnvelope{Type: string(env.Kind), Data: data}); err != nil {
				return
			}
			if env.Kind == event.KindFinished {
				return
			}
		}
	}
}

func (s *Server) trackStreamClient(subID string, delta float64) {
	if s.metrics != nil {
		s.metrics.StreamClients.Add(delta)
	}
	eventType := "observer_attached"
	if delta < 0 {
		eventType = "observer_detached"
	}
	s.logStreamEvent(eventType, map[string]any{"subscription": subID})
}
