// Package rpc exposes the node's JSON-RPC 2.0 surface over HTTP, a
// websocket push stream of applied updates, and the prometheus
// exposition endpoint — all mounted on one gorilla/mux router the way
// the teacher's cmd/server/main.go mounts its entire REST surface.
package rpc

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/kindlyrobotics/voltnetwork/internal/gossip"
	"github.com/kindlyrobotics/voltnetwork/internal/ratelimit"
	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/store"
	"github.com/kindlyrobotics/voltnetwork/internal/txapply"
)

// Server is the node's RPC surface: the JSON-RPC dispatcher, the
// websocket push hub, and everything both need to reach the tree and
// the rest of the node.
type Server struct {
	Tree       *smt.Tree
	Applier    *txapply.Applier
	ProofStore *store.ProofStore
	Bus        *gossip.Bus
	Syncer     *gossip.Syncer
	RateLimit  *ratelimit.Limiter
	Hub        *Hub
	PeerID     string
}

// NewServer wires a Server from its already-constructed subsystems. A
// PeerID is minted with uuid.New() if the caller didn't configure one,
// matching the teacher's id-minting convention in storage.go.
func NewServer(tree *smt.Tree, applier *txapply.Applier) *Server {
	return &Server{
		Tree:    tree,
		Applier: applier,
		Hub:     NewHub(),
		PeerID:  uuid.New().String(),
	}
}

// Router builds the mux.Router exposing /rpc, /rpc/subscribe, and
// /metrics.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/rpc", s.handleRPC).Methods("POST")
	router.HandleFunc("/rpc/subscribe", s.handleSubscribe).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}

// HTTPServer wraps Router() in an http.Server tuned with the same
// 15s/15s/60s read/write/idle timeouts the teacher's monolith uses.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// clientIP extracts the caller's address for the rate limiter's
// per-IP fallback bucket, preferring the proxy header the teacher's
// deployment sits behind when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func logRejected(method string, err error) {
	log.Warn().Str("method", method).Err(err).Msg("[RPC] request rejected")
}
