package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cwbudde/bctune/internal/progress"
)

// EventBroadcaster fans tracker events out to SSE clients.
type EventBroadcaster struct {
	mu        sync.RWMutex
	clients   map[chan progress.Event]bool
	lastEvent *progress.Event
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients: make(map[chan progress.Event]bool),
	}
}

// Subscribe adds a client. The last event, if any, is replayed to it.
func (eb *EventBroadcaster) Subscribe() chan progress.Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan progress.Event, 16) // Buffered to prevent blocking
	eb.clients[ch] = true

	if eb.lastEvent != nil {
		select {
		case ch <- *eb.lastEvent:
		default:
		}
	}

	slog.Debug("SSE client subscribed", "total_clients", len(eb.clients))
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (eb *EventBroadcaster) Unsubscribe(ch chan progress.Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.clients[ch] {
		delete(eb.clients, ch)
		close(ch)
	}
	slog.Debug("SSE client unsubscribed", "total_clients", len(eb.clients))
}

// Notify implements progress.Observer. Slow clients miss events rather than
// stall the search.
func (eb *EventBroadcaster) Notify(event progress.Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.lastEvent = &event
	for ch := range eb.clients {
		select {
		case ch <- event:
		default:
			slog.Warn("SSE channel full, skipping event", "kind", event.Kind)
		}
	}
}

// Close disconnects every client.
func (eb *EventBroadcaster) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for ch := range eb.clients {
		close(ch)
	}
	eb.clients = make(map[chan progress.Event]bool)
}

// handleStream handles GET /api/v1/stream
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventChan := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(eventChan)

	// Comment line so clients see the stream open before the first event.
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected")
			return

		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w http.ResponseWriter, event progress.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	return err
}
