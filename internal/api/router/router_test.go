package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/booking"
	httpmiddleware "github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/http/middleware"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/observability/metrics"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/reservations"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/schedule"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/pkg/logging"
)

const testSecret = "router-secret"

func newTestRouter(t *testing.T, checks map[string]HealthCheck) http.Handler {
	t.Helper()

	logger := logging.Default()
	reg := prometheus.NewRegistry()
	m := metrics.NewBookingMetrics(reg)
	store := schedule.NewMemoryRuleStore()
	require.NoError(t, store.UpsertWeeklyRule(context.Background(), schedule.WeeklyRule{
		DoctorID: "default", Weekday: time.Monday, Enabled: true,
		StartTime: "09:00", EndTime: "10:00", SlotMinutes: 30, Capacity: 2,
	}))
	resolver := schedule.NewResolver(store, schedule.Defaults{}, logger)
	svc := booking.NewService(reservations.NewInMemoryRepository(), resolver, nil, nil,
		booking.Config{DefaultDoctorID: "default"}, m, logger)

	return New(&Config{
		Logger:          logger,
		Booking:         booking.NewHandler(svc, logger),
		Schedules:       schedule.NewAdminHandler(store, resolver, logger),
		AdminAuthSecret: testSecret,
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Gatherer:        reg,
		HealthChecks:    checks,
	})
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := httpmiddleware.SignAdminToken(testSecret, "ops", httpmiddleware.RoleAdmin, time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Dependencies["postgres"])
}

func TestRouterHealthDegraded(t *testing.T) {
	router := newTestRouter(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "degraded")
}

func TestRouterBookingThenStats(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/booking",
		strings.NewReader(`{"type":"create","date":"2024-05-06","time":"09:00","patient_id":"p1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", adminToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Stats metrics.Snapshot `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, int64(1), resp.Stats.Requests["create"]["ok"])

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "clinic_booking_requests_total")
}

func TestRouterAdminRequiresToken(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/doctors/default/schedule?date=2024-05-06", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/doctors/default/schedule?date=2024-05-06", nil)
	req.Header.Set("Authorization", adminToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestRouterAdminMissingWithoutSecret(t *testing.T) {
	r := New(&Config{Logger: logging.Default()})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
