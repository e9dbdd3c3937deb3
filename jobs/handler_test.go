package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newJobsRouter(t *testing.T) (chi.Router, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := NewHandler(nil, client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	return r, client
}

func TestOverdueSummaryEmpty(t *testing.T) {
	router, _ := newJobsRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/overdue", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary OverdueSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Empty(t, summary.Companies)
	require.True(t, summary.ScannedAt.IsZero())
}

func TestOverdueSummaryServesCachedScan(t *testing.T) {
	router, client := newJobsRouter(t)

	cached := OverdueSummary{
		ScannedAt:     time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC),
		OlderThanDays: 30,
		Companies: []CompanyOverdueRow{
			{CompanyID: 1, Count: 2, Total: "240.00"},
		},
	}
	data, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, client.Set(context.Background(), OverdueSummaryKey, data, 0).Err())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/overdue", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary OverdueSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, 30, summary.OlderThanDays)
	require.Len(t, summary.Companies, 1)
	require.Equal(t, "240.00", summary.Companies[0].Total)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	router, _ := newJobsRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}
