// Package sse provides an in-process server-sent-events broker. Events are
// fanned out to every connected subscriber; the broker is single-process
// only, so running multiple server instances splits the audience.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
)

const (
	defaultBufferSize        = 16
	defaultHeartbeatInterval = 30 * time.Second
)

// Broker fans events out to connected SSE clients. It implements both
// speciesmedia.Notifier and http.Handler.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan speciesmedia.Event]struct{}

	heartbeatInterval time.Duration
	logger            *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeatInterval overrides the keepalive interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(b *Broker) { b.heartbeatInterval = d }
}

// NewBroker creates a broker with no subscribers.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		subscribers:       make(map[chan speciesmedia.Event]struct{}),
		heartbeatInterval: defaultHeartbeatInterval,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Broadcast delivers the event to every subscriber. Subscribers whose
// buffers are full are skipped rather than blocking the caller.
func (b *Broker) Broadcast(event speciesmedia.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping event for slow subscriber", "event_type", event.Type)
		}
	}
}

// SubscriberCount returns the number of connected clients.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) subscribe() chan speciesmedia.Event {
	ch := make(chan speciesmedia.Event, defaultBufferSize)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(ch chan speciesmedia.Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
}

// ServeHTTP upgrades the request to an SSE stream and relays broadcast
// events until the client disconnects.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := b.subscribe()
	defer b.unsubscribe(ch)

	// Welcome event so the client knows the stream is live.
	writeEvent(w, speciesmedia.Event{
		Type:      speciesmedia.EventConnection,
		Timestamp: time.Now(),
		Data:      map[string]any{"message": "connected"},
	})
	flusher.Flush()

	heartbeat := time.NewTicker(b.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-ch:
			if err := writeEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if err := writeEvent(w, speciesmedia.Event{
				Type:      speciesmedia.EventHeartbeat,
				Timestamp: time.Now(),
			}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event speciesmedia.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
