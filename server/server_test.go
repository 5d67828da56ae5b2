package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/lembraai/lembra/ai/metrics"
	"github.com/lembraai/lembra/internal/profile"
	"github.com/lembraai/lembra/store"
	"github.com/lembraai/lembra/store/storetest"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	instanceProfile := &profile.Profile{
		Mode:                "demo",
		TemporalBoostMode:   "balanced",
		EmbeddingDimensions: 64,
	}
	exporter := metrics.New()
	s := store.New(storetest.NewFakeDriver(), instanceProfile, exporter)
	srv, err := NewServer(context.Background(), instanceProfile, s, exporter)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecordTurnValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/turns", `{"owner_id": "", "user_text": "oi"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/turns", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordTurnAndBuildContext(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/turns",
		`{"owner_id": "owner-1", "user_text": "Minha esposa se chama Ana", "agent_text": "Prazer em saber!"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var turn recordTurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turn))
	require.NotEmpty(t, turn.UID)
	require.Contains(t, turn.Topics, "familia")
	require.Contains(t, turn.Entities, "Ana")

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/context",
		`{"owner_id": "owner-1", "current_input": "como está minha família?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload buildContextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Contains(t, payload.Context, "Ana")
	require.Contains(t, payload.Context, "esposa")
}

func TestBuildContextRequiresOwner(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/context", `{"current_input": "oi"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEraseOwner(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/turns",
		`{"owner_id": "owner-1", "user_text": "Minha esposa se chama Ana", "agent_text": "Certo."}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/owners/owner-1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/context",
		`{"owner_id": "owner-1", "current_input": "como está minha família?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload buildContextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.NotContains(t, payload.Context, "Ana")
}

func TestListMemoriesWithFilter(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/turns",
		`{"owner_id": "owner-1", "user_text": "Briga feia no trabalho", "agent_text": "Sinto muito.", "meta": {"affective_charge": 0.9, "tension_level": 0.5}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/turns",
		`{"owner_id": "owner-1", "user_text": "Dia tranquilo de leitura", "agent_text": "Que bom."}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/owners/owner-1/memories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []memoryItemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/owners/owner-1/memories?filter=intensity+%3E+1.0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	require.Equal(t, "Briga feia no trabalho", items[0].UserInput)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/owners/owner-1/memories?filter=intensity+%2B", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// Shutdown must return even while the scheduler ticker is still armed
// and the caller's context is not yet cancelled: main cancels only after
// Shutdown comes back.
func TestShutdownStopsScheduler(t *testing.T) {
	instanceProfile := &profile.Profile{
		Mode:                       "demo",
		TemporalBoostMode:          "balanced",
		EmbeddingDimensions:        64,
		ConsolidationIntervalHours: 6,
	}
	exporter := metrics.New()
	s := store.New(storetest.NewFakeDriver(), instanceProfile, exporter)
	srv, err := NewServer(context.Background(), instanceProfile, s, exporter)
	require.NoError(t, err)

	ctx := context.Background()
	go srv.runConsolidationScheduler(ctx)

	done := make(chan struct{})
	go func() {
		srv.Shutdown(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not return while the scheduler was running")
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/turns",
		`{"owner_id": "owner-1", "user_text": "oi tudo bem", "agent_text": "Tudo!"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "lembra_turns_recorded_total")
}
