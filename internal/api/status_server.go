package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"daymark/internal/config"
	"daymark/internal/domain"
	"daymark/internal/models"

	"github.com/rs/zerolog"
)

// StateReporter exposes the queue processor's current phase.
type StateReporter interface {
	State() string
}

// StatusServer is the local introspection API the UI polls: sync state,
// queue depth and the abandonment notification feed. It binds to localhost
// and serves only reads plus a feed clear.
type StatusServer struct {
	cfg       config.StatusAPIConfig
	queue     domain.SyncQueue
	store     domain.NotificationStore
	monitor   domain.ConnectivityMonitor
	processor StateReporter
	server    *http.Server
	logger    zerolog.Logger
}

func NewStatusServer(
	cfg config.StatusAPIConfig,
	queue domain.SyncQueue,
	store domain.NotificationStore,
	monitor domain.ConnectivityMonitor,
	processor StateReporter,
	logger *zerolog.Logger,
) *StatusServer {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "status_api").Logger()
	}

	srv := &StatusServer{
		cfg:       cfg,
		queue:     queue,
		store:     store,
		monitor:   monitor,
		processor: processor,
		logger:    log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/notifications", srv.handleNotifications)
	mux.HandleFunc("/api/v1/queue/pending", srv.handlePending)

	handler := srv.loggingMiddleware(newRateLimiter(cfg).wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *StatusServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("status server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("status API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue unavailable")
		return
	}

	state := s.monitor.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"processor_state": s.processor.State(),
		"queue_depth":     depth,
		"connectivity": map[string]any{
			"status":      state.Status,
			"kind":        state.Kind,
			"expensive":   state.Expensive,
			"constrained": state.Constrained,
		},
	})
}

func (s *StatusServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := models.NotificationFeedCap
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = parsed
		}

		notifications, err := s.store.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "notification store unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})

	case http.MethodDelete:
		if err := s.store.Clear(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "notification store unavailable")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *StatusServer) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := models.DefaultBatchSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	ops, err := s.queue.Pending(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue unavailable")
		return
	}

	// Summaries only; payload blobs stay private to the queue.
	type opSummary struct {
		ID            string    `json:"id"`
		EntityType    string    `json:"entity_type"`
		EntityID      string    `json:"entity_id"`
		OperationType string    `json:"operation_type"`
		AttemptCount  int       `json:"attempt_count"`
		LastError     string    `json:"last_error,omitempty"`
		EnqueuedAt    time.Time `json:"enqueued_at"`
	}
	summaries := make([]opSummary, 0, len(ops))
	for _, op := range ops {
		summary := opSummary{
			ID:            op.ID,
			EntityType:    op.EntityType,
			EntityID:      op.EntityID,
			OperationType: op.OperationType,
			AttemptCount:  op.AttemptCount,
			EnqueuedAt:    op.EnqueuedAt,
		}
		if op.LastError != nil {
			summary.LastError = *op.LastError
		}
		summaries = append(summaries, summary)
	}

	writeJSON(w, http.StatusOK, map[string]any{"operations": summaries})
}

func (s *StatusServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
			Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", recorder.status).Dur("dur", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
