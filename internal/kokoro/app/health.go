package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bdobrica/kokoro/common/version"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
)

// conversationLister is what /status needs from the conversation manager.
type conversationLister interface {
	ListConversations(ctx context.Context) []*memory.Conversation
}

// HealthServer exposes /health and /status. It only runs when an address
// is configured.
type HealthServer struct {
	addr      string
	convs     conversationLister
	thoughts  func() []string
	startedAt time.Time
	mux       *http.ServeMux
	logger    *slog.Logger
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status         string    `json:"status"`
	Version        string    `json:"version"`
	Commit         string    `json:"commit"`
	BuildTime      string    `json:"build_time"`
	StartedAt      time.Time `json:"started_at"`
	UptimeSecs     float64   `json:"uptime_seconds"`
	Conversations  int       `json:"conversations"`
	RecentThoughts []string  `json:"recent_thoughts"`
}

// NewHealthServer configures the server without starting it. thoughts may
// be nil when the consciousness loop is disabled.
func NewHealthServer(addr string, convs conversationLister, thoughts func() []string, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	hs := &HealthServer{
		addr:      addr,
		convs:     convs,
		thoughts:  thoughts,
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
		logger:    logger,
	}
	hs.mux.HandleFunc("GET /health", hs.handleHealth)
	hs.mux.HandleFunc("GET /status", hs.handleStatus)
	return hs
}

func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (h *HealthServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}
	srv := &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("health server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		h.logger.Warn("health server shutdown", "err", err)
	}
	<-errCh
	return nil
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:         "ok",
		Version:        version.Version,
		Commit:         version.GitCommit,
		BuildTime:      version.BuildTime,
		StartedAt:      h.startedAt,
		UptimeSecs:     time.Since(h.startedAt).Seconds(),
		RecentThoughts: []string{},
	}
	if h.convs != nil {
		resp.Conversations = len(h.convs.ListConversations(r.Context()))
	}
	if h.thoughts != nil {
		resp.RecentThoughts = h.thoughts()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *HealthServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("health: encode response", "err", err)
	}
}
