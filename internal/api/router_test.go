package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/identity"
	"github.com/hackgods/clinic-slot-scheduling/internal/lock"
	"github.com/hackgods/clinic-slot-scheduling/internal/messaging"
	"github.com/hackgods/clinic-slot-scheduling/internal/metrics"
	"github.com/hackgods/clinic-slot-scheduling/internal/saga"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

const (
	testSecret = "test-secret"
	testIssuer = "clinic-slot-scheduling"
)

var (
	drAna   = identity.Actor{UID: "doc-1", Name: "Dr. Ana", Capabilities: []identity.Capability{identity.CapabilityDoctor}}
	drBo    = identity.Actor{UID: "doc-2", Name: "Dr. Bo", Capabilities: []identity.Capability{identity.CapabilityDoctor}}
	patRui  = identity.Actor{UID: "pat-1", Name: "Rui", Capabilities: []identity.Capability{identity.CapabilityPatient}}
	patEva  = identity.Actor{UID: "pat-2", Name: "Eva", Capabilities: []identity.Capability{identity.CapabilityPatient}}
	baseDay = time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	bus     *messaging.MemoryBus
	issuer  *identity.JWTIssuer
}

func newTestServer(t *testing.T, checks ...Check) *testServer {
	t.Helper()

	log := zap.NewNop()
	bus := messaging.NewMemoryBus(log, messaging.WithBaseDelay(time.Millisecond))
	t.Cleanup(func() { _ = bus.Close() })

	slots := scheduling.NewService(scheduling.NewMemoryRepository(), lock.NewLocal(), log)
	appts := appointment.NewService(appointment.NewMemoryRepository(), slots, bus, log)
	slots.SetAppointmentCanceller(appts)
	require.NoError(t, saga.NewHandlers(appts, slots, bus, log).Register(bus, nil, 0))

	handler := NewRouter(RouterConfig{
		Slots:        slots,
		Appointments: appts,
		Resolver:     identity.NewJWTResolver(testSecret, testIssuer),
		Metrics:      metrics.NewCollector(prometheus.NewRegistry()),
		Logger:       log,
		Checks:       checks,
		Env:          "test",
		Version:      "test",
	})

	return &testServer{t: t, handler: handler, bus: bus, issuer: identity.NewJWTIssuer(testSecret, testIssuer)}
}

func (s *testServer) do(method, path string, as *identity.Actor, body any) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != nil {
		token, err := s.issuer.Issue(*as, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createSlot(as identity.Actor, startHour int) string {
	s.t.Helper()
	start := baseDay.Add(time.Duration(startHour) * time.Hour)
	rec := s.do(http.MethodPost, "/v1/slots", &as, SlotRequest{Start: start, End: start.Add(30 * time.Minute)})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp IDResponse
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func Test_Router_RequiresBearerToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/v1/slots", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_credential", decode[ErrorResponse](t, rec).Error)

	req := httptest.NewRequest(http.MethodGet, "/v1/slots", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credential", decode[ErrorResponse](t, rec).Error)
}

func Test_Router_CapabilityGuard(t *testing.T) {
	s := newTestServer(t)

	start := baseDay.Add(time.Hour)
	rec := s.do(http.MethodPost, "/v1/slots", &patRui, SlotRequest{Start: start, End: start.Add(time.Hour)})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/v1/appointments", &drAna, RequestAppointmentRequest{SlotID: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func Test_Router_SlotLifecycle(t *testing.T) {
	s := newTestServer(t)

	id := s.createSlot(drAna, 10)
	s.createSlot(drAna, 11)

	// default projection start,end and filter status=free
	rec := s.do(http.MethodGet, "/v1/slots", &patRui, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]map[string]any](t, rec)
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []string{"id", "start", "end"}, keys(list[0]))

	rec = s.do(http.MethodGet, "/v1/slots?take=1&fields=status,owner_id", &patRui, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[[]map[string]any](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "free", list[0]["status"])
	assert.Equal(t, "doc-1", list[0]["owner_id"])

	rec = s.do(http.MethodGet, "/v1/slots/"+id, &drAna, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"id", "start", "end", "status"}, keys(decode[map[string]any](t, rec)))

	start := baseDay.Add(10*time.Hour + 5*time.Minute)
	rec = s.do(http.MethodPatch, "/v1/slots/"+id, &drAna, SlotRequest{Start: start, End: start.Add(20 * time.Minute)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(20), decode[map[string]any](t, rec)["duration_minutes"])

	rec = s.do(http.MethodDelete, "/v1/slots/"+id, &drAna, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/v1/slots/"+id, &drAna, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_Router_SlotErrorsMapToStatus(t *testing.T) {
	s := newTestServer(t)
	id := s.createSlot(drAna, 10)

	start := baseDay.Add(10*time.Hour + 15*time.Minute)
	rec := s.do(http.MethodPost, "/v1/slots", &drAna, SlotRequest{Start: start, End: start.Add(30 * time.Minute)})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[ErrorResponse](t, rec).Error)

	past := time.Now().Add(-time.Hour)
	rec = s.do(http.MethodPost, "/v1/slots", &drAna, SlotRequest{Start: past, End: past.Add(30 * time.Minute)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodDelete, "/v1/slots/"+id, &drBo, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ownership", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodGet, "/v1/slots/not-a-uuid", &drAna, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/v1/slots?filters=start=now", &drAna, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/v1/slots?skip=-1", &drAna, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_Router_AppointmentFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.createSlot(drAna, 10)

	rec := s.do(http.MethodPost, "/v1/appointments", &patRui, RequestAppointmentRequest{SlotID: id})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "/v1/appointments/"+id, rec.Header().Get("Location"))
	ack := decode[map[string]any](t, rec)
	assert.Equal(t, "scheduled", ack["status"])
	s.bus.Wait()

	rec = s.do(http.MethodGet, "/v1/slots/"+id, &patRui, nil)
	assert.Equal(t, "reserved", decode[map[string]any](t, rec)["status"])

	rec = s.do(http.MethodPost, "/v1/appointments", &patEva, RequestAppointmentRequest{SlotID: id})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/v1/appointments/"+id, &patRui, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "scheduled", decode[map[string]any](t, rec)["status"])

	rec = s.do(http.MethodGet, "/v1/appointments/"+id, &patEva, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/v1/appointments", &drAna, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = s.do(http.MethodGet, "/v1/appointments", &patEva, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]map[string]any](t, rec))

	rec = s.do(http.MethodPatch, "/v1/appointments/"+id, &patRui, UpdateAppointmentRequest{Status: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodDelete, "/v1/appointments/"+id, &patRui, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	s.bus.Wait()

	rec = s.do(http.MethodGet, "/v1/slots/"+id, &patRui, nil)
	assert.Equal(t, "free", decode[map[string]any](t, rec)["status"])

	rec = s.do(http.MethodGet, "/v1/appointments/"+id, &patRui, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_Router_Health(t *testing.T) {
	down := errors.New("down")
	s := newTestServer(t,
		Check{Name: "postgres", Critical: true, Ping: func(context.Context) error { return nil }},
		Check{Name: "redis", Ping: func(context.Context) error { return down }},
	)

	rec := s.do(http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "down"}, ready.Dependencies)

	s = newTestServer(t, Check{Name: "postgres", Critical: true, Ping: func(context.Context) error { return down }})
	rec = s.do(http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func Test_Router_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/health/live", nil, nil)

	rec := s.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scheduling_http_requests_total")
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
