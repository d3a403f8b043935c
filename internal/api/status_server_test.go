package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"daymark/internal/config"
	"daymark/internal/database"
	"daymark/internal/models"
	"daymark/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMonitor struct{ st models.ConnectivityState }

func (m stubMonitor) State() models.ConnectivityState { return m.st }
func (m stubMonitor) Subscribe() (<-chan models.ConnectivityState, func()) {
	return make(chan models.ConnectivityState), func() {}
}

type stubProcessor struct{ state string }

func (p stubProcessor) State() string { return p.state }

func newTestServer(t *testing.T, cfg config.StatusAPIConfig) (*StatusServer, *database.DB, *repository.MemoryNotificationStore) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "queue.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := repository.NewMemoryNotificationStore()
	monitor := stubMonitor{st: models.ConnectivityState{Status: models.ConnConnected, Kind: models.NetworkWifi}}
	srv := NewStatusServer(cfg, db, store, monitor, stubProcessor{state: "awaitingConnectivity"}, &logger)
	return srv, db, store
}

func TestStatusEndpoint(t *testing.T) {
	srv, db, _ := newTestServer(t, config.StatusAPIConfig{Enabled: true})

	require.NoError(t, db.Enqueue(context.Background(), &models.SyncOperation{
		EntityType: models.EntityListItem, EntityID: "i1", OperationType: models.OpCreate,
		Payload: []byte(`{}`),
	}))

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ProcessorState string `json:"processor_state"`
		QueueDepth     int    `json:"queue_depth"`
		Connectivity   struct {
			Status string `json:"status"`
			Kind   string `json:"kind"`
		} `json:"connectivity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "awaitingConnectivity", body.ProcessorState)
	assert.Equal(t, 1, body.QueueDepth)
	assert.Equal(t, "connected", body.Connectivity.Status)
	assert.Equal(t, "wifi", body.Connectivity.Kind)
}

func TestNotificationsEndpoint(t *testing.T) {
	srv, _, store := newTestServer(t, config.StatusAPIConfig{Enabled: true})
	ctx := context.Background()

	require.NoError(t, store.Push(ctx, &models.Notification{
		ID: "n1", Kind: models.NotifyOperationAbandoned,
		Message: "could not sync item", CreatedAt: time.Now(),
	}))

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Notifications []models.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Notifications, 1)
	assert.Equal(t, "n1", body.Notifications[0].ID)

	rec = httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/notifications", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestNotificationsBadLimit(t *testing.T) {
	srv, _, _ := newTestServer(t, config.StatusAPIConfig{Enabled: true})

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPendingEndpointOmitsPayload(t *testing.T) {
	srv, db, _ := newTestServer(t, config.StatusAPIConfig{Enabled: true})

	require.NoError(t, db.Enqueue(context.Background(), &models.SyncOperation{
		EntityType: models.EntityWinEntry, EntityID: "w1", OperationType: models.OpCreate,
		Payload: []byte(`{"text":"secret"}`),
	}))

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/queue/pending", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	var body struct {
		Operations []map[string]any `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Operations, 1)
	assert.Equal(t, "winEntry", body.Operations[0]["entity_type"])
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t, config.StatusAPIConfig{Enabled: true})

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimit(t *testing.T) {
	srv, _, _ := newTestServer(t, config.StatusAPIConfig{Enabled: true, RateLimitRPS: 1, RateLimitBurst: 2})

	var limited bool
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.RemoteAddr = "127.0.0.1:50000"
		srv.server.Handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited, "burst exhausted within the loop")
}
