package routes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/relay"
)

// StatusRouter serves the relay's read-only status API.
type StatusRouter struct {
	Identity *relay.IdentityResolver
	Channels *relay.ChannelMap
	// Clients is nil unless the embedded broker is in use.
	Clients  models.RadioClientLister
	Notifier *RelayNotifier
	Gatherer prometheus.Gatherer
	// Heartbeat is the SSE keepalive interval; zero means 30s.
	Heartbeat time.Duration
}

type RoomResponse struct {
	RoomID  string `json:"room_id"`
	Channel int    `json:"channel"`
}

type HealthResponse struct {
	Status      string     `json:"status"`
	KnownNodes  int        `json:"known_nodes"`
	LastRefresh *time.Time `json:"last_identity_refresh,omitempty"`
}

func (sr *StatusRouter) heartbeat() time.Duration {
	if sr.Heartbeat <= 0 {
		return 30 * time.Second
	}
	return sr.Heartbeat
}

// Handler builds the router with its middleware.
func (sr *StatusRouter) Handler() http.Handler {
	myRouter := mux.NewRouter().StrictSlash(true)

	myRouter.HandleFunc("/healthz", sr.health).Methods("GET")
	myRouter.HandleFunc("/api/nodes", sr.getNodes).Methods("GET")
	myRouter.HandleFunc("/api/rooms", sr.getRooms).Methods("GET")
	myRouter.HandleFunc("/api/clients", sr.getClients).Methods("GET")
	myRouter.HandleFunc("/api/relays", sr.getRelays).Methods("GET")
	myRouter.HandleFunc("/api/relay-sse", sr.relaySSE).Methods("GET")

	gatherer := sr.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	myRouter.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	myRouter.Use(handlers.ProxyHeaders)
	myRouter.Use(RequestLogger)
	h := handlers.RecoveryHandler()
	return h(myRouter)
}

// ListenAndServe serves on listenAddr until ctx is cancelled.
func (sr *StatusRouter) ListenAndServe(ctx context.Context, listenAddr string) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           sr.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("status server listening", "addr", listenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func RequestLogger(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("endpoint hit", "method", r.Method, "path", r.URL.Path, "remote_host", r.RemoteAddr, "user_agent", r.UserAgent())
		// Call the next handler in the chain.
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("error encoding response", "error", err)
	}
}

func (sr *StatusRouter) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if sr.Identity != nil {
		resp.KnownNodes = len(sr.Identity.Snapshot())
		if last := sr.Identity.LastRefresh(); !last.IsZero() {
			resp.LastRefresh = &last
		}
	}
	writeJSON(w, resp)
}

func (sr *StatusRouter) getNodes(w http.ResponseWriter, r *http.Request) {
	nodes := []models.NodeInfo{}
	if sr.Identity != nil {
		nodes = append(nodes, sr.Identity.Snapshot()...)
	}
	writeJSON(w, nodes)
}

func (sr *StatusRouter) getRooms(w http.ResponseWriter, r *http.Request) {
	rooms := []RoomResponse{}
	if sr.Channels != nil {
		for _, ch := range sr.Channels.Channels() {
			for _, room := range sr.Channels.RoomsForChannel(ch) {
				rooms = append(rooms, RoomResponse{RoomID: room, Channel: ch})
			}
		}
	}
	writeJSON(w, rooms)
}

func (sr *StatusRouter) getClients(w http.ResponseWriter, r *http.Request) {
	clients := []*models.ClientDetails{}
	if sr.Clients != nil {
		clients = append(clients, sr.Clients.GetClients()...)
	}
	writeJSON(w, clients)
}

func (sr *StatusRouter) getRelays(w http.ResponseWriter, r *http.Request) {
	records := []relay.Record{}
	if sr.Notifier != nil {
		recent, _ := sr.Notifier.Since(0)
		records = append(records, recent...)
	}
	writeJSON(w, records)
}
