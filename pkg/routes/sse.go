package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/relay"
)

const recentRelays = 50

type sequencedRecord struct {
	seq uint64
	rec relay.Record
}

// RelayNotifier keeps the most recent relays and wakes SSE subscribers when a new
// one arrives. Notifications coalesce: a slow subscriber is woken once and catches
// up from the buffer.
type RelayNotifier struct {
	subscribers map[chan struct{}]struct{}
	mu          sync.RWMutex
	recent      []sequencedRecord
	seq         uint64
}

var _ relay.RelayObserver = (*RelayNotifier)(nil)

func NewRelayNotifier() *RelayNotifier {
	return &RelayNotifier{
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// Subscribe adds a new subscriber that will be notified of new relays
func (rn *RelayNotifier) Subscribe() chan struct{} {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	ch := make(chan struct{}, 1)
	rn.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber
func (rn *RelayNotifier) Unsubscribe(ch chan struct{}) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	delete(rn.subscribers, ch)
	close(ch)
}

// Relayed records rec and notifies every subscriber.
func (rn *RelayNotifier) Relayed(rec relay.Record) {
	rn.mu.Lock()
	rn.seq++
	rn.recent = append(rn.recent, sequencedRecord{seq: rn.seq, rec: rec})
	if len(rn.recent) > recentRelays {
		rn.recent = rn.recent[len(rn.recent)-recentRelays:]
	}
	for ch := range rn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// Channel already has a pending notification, skip
		}
	}
	rn.mu.Unlock()
}

// Since returns the buffered relays newer than seq and the latest sequence number.
func (rn *RelayNotifier) Since(seq uint64) ([]relay.Record, uint64) {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	var out []relay.Record
	for _, r := range rn.recent {
		if r.seq > seq {
			out = append(out, r.rec)
		}
	}
	return out, rn.seq
}

// SSE endpoint for relay activity
func (sr *StatusRouter) relaySSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	if sr.Notifier == nil {
		slog.Warn("SSE endpoint called but RelayNotifier is nil")
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	notifyCh := sr.Notifier.Subscribe()
	defer sr.Notifier.Unsubscribe(notifyCh)

	ctx := r.Context()
	ticker := time.NewTicker(sr.heartbeat())
	defer ticker.Stop()

	// new subscribers start with what is already buffered
	var last uint64
	sendUpdates := func() error {
		records, seq := sr.Notifier.Since(last)
		last = seq
		for _, rec := range records {
			var buf bytes.Buffer
			if err := json.NewEncoder(&buf).Encode(rec); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: relay\ndata: %s\n", buf.Bytes()); err != nil {
				return err
			}
		}
		flusher.Flush()
		return nil
	}

	if err := sendUpdates(); err != nil {
		slog.Error("error sending initial SSE data", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-notifyCh:
			if err := sendUpdates(); err != nil {
				slog.Error("error sending SSE update", "error", err)
				return
			}
		case <-ticker.C:
			// Send heartbeat comment to keep connection alive
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
