package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/cuemby/claimd/pkg/types"
)

// Readiness is what the readiness check inspects, implemented by
// *manager.Manager
type Readiness interface {
	IsLeader() bool
	LeaderAddr() string
	ListResources() ([]*types.Resource, error)
}

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	source  Readiness
	version string
	mux     *http.ServeMux
}

// NewHealthServer creates a new health check HTTP server. source may be nil
// while the store is still starting.
func NewHealthServer(source Readiness, version string) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		source:  source,
		version: version,
		mux:     mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the health check HTTP server
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a liveness check: 200 while the process is alive
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   hs.version,
	})
}

// readyHandler reports 200 once a leader is known and the store answers
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.source == nil {
		checks["raft"] = "not initialized"
		checks["storage"] = "not initialized"
		ready = false
		message = "Store not initialized"
	} else {
		switch {
		case hs.source.IsLeader():
			checks["raft"] = "leader"
		case hs.source.LeaderAddr() != "":
			checks["raft"] = fmt.Sprintf("follower (leader: %s)", hs.source.LeaderAddr())
		default:
			checks["raft"] = "no leader elected"
			ready = false
			message = "Waiting for leader election"
		}

		if _, err := hs.source.ListResources(); err != nil {
			checks["storage"] = fmt.Sprintf("error: %v", err)
			ready = false
			if message == "" {
				message = "Storage not accessible"
			}
		} else {
			checks["storage"] = "ok"
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
