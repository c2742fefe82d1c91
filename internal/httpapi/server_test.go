package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/attendance"
	"geoattend/internal/audit"
	"geoattend/internal/auth"
	"geoattend/internal/classes"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/queue"
)

const (
	signingKey = "test-signing-key"
	issuer     = "geoattend-test"
)

type harness struct {
	t        *testing.T
	router   *gin.Engine
	attempts *audit.MemoryLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	q := queue.NewInMemory(64)
	attempts := audit.NewMemoryLog(100)
	go func() { _ = audit.Run(ctx, q, attempts) }()

	registry := classes.NewService(classes.NewMemoryRepository())
	store := attendance.NewMemoryStore()
	srv := NewServer(
		registry,
		attendance.NewLifecycle(store, registry, 6),
		attendance.NewEngine(store, registry, audit.NewQueueSink(q)),
		attempts,
		time.UTC,
	)
	router := NewRouter(RouterOptions{
		SigningKey: signingKey,
		Issuer:     issuer,
		Limiter:    httpmiddleware.NewTokenBucket(1000, 1000),
		Health:     map[string]HealthCheck{"store": func(context.Context) bool { return true }},
	}, srv)
	return &harness{t: t, router: router, attempts: attempts}
}

func (h *harness) token(subject string, role auth.Role) string {
	pair, err := auth.Issue(subject, role, issuer, signingKey, time.Hour, time.Hour)
	require.NoError(h.t, err)
	return pair.AccessToken
}

func (h *harness) do(method, path, token string, body any) (int, map[string]any) {
	h.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

type scene struct {
	*harness
	teacher, student string
	classID          string
}

// newScene creates a class for teacher-1 at Bengaluru with a 50m radius and
// enrolls student-1.
func newScene(t *testing.T) *scene {
	h := newHarness(t)
	s := &scene{harness: h, teacher: h.token("teacher-1", auth.RoleTeacher), student: h.token("student-1", auth.RoleStudent)}

	status, body := h.do(http.MethodPost, "/v1/classes", s.teacher, gin.H{
		"name": "Physics 101", "latitude": 12.9716, "longitude": 77.5946, "radius_meters": 50,
	})
	require.Equal(t, http.StatusCreated, status, body)
	s.classID = body["class_id"].(string)

	status, body = h.do(http.MethodPost, "/v1/classes/"+s.classID+"/enroll", s.student, nil)
	require.Equal(t, http.StatusCreated, status, body)
	return s
}

func (s *scene) start(code string) string {
	now := time.Now().UTC()
	status, body := s.do(http.MethodPost, "/v1/attendance/start", s.teacher, gin.H{
		"class_id":  s.classID,
		"code":      code,
		"starts_at": now.Add(-time.Minute).Format(time.RFC3339),
		"ends_at":   now.Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(s.t, http.StatusCreated, status, body)
	return body["session_id"].(string)
}

func (s *scene) submit(sessionID, code string, lat, lon float64) (int, map[string]any) {
	return s.do(http.MethodPost, "/v1/attendance/submit", s.student, gin.H{
		"session_id": sessionID,
		"latitude":   lat,
		"longitude":  lon,
		"code":       code,
		"device_info": gin.H{
			"user_agent": "Mozilla/5.0", "screen_size": "1920x1080", "timezone": "Asia/Kolkata", "language": "en-IN", "ip_subnet": "web",
		},
	})
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t)
	status, body := h.do(http.MethodGet, "/v1/classes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	status, body = h.do(http.MethodPost, "/v1/classes", h.token("student-1", auth.RoleStudent), gin.H{"name": "x"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["error"])
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	status, body := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["store"])
}

func TestCreateClassValidation(t *testing.T) {
	h := newHarness(t)
	teacher := h.token("teacher-1", auth.RoleTeacher)

	tests := []struct {
		name string
		body gin.H
		kind string
	}{
		{name: "missing coordinates", body: gin.H{"name": "x", "radius_meters": 10}, kind: "bad_request"},
		{name: "latitude out of range", body: gin.H{"name": "x", "latitude": 91, "longitude": 0, "radius_meters": 10}, kind: "invalid_coordinate"},
		{name: "zero radius", body: gin.H{"name": "x", "latitude": 1, "longitude": 1, "radius_meters": 0}, kind: "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := h.do(http.MethodPost, "/v1/classes", teacher, tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.kind, body["error"])
		})
	}
}

func TestEnrollTwice(t *testing.T) {
	s := newScene(t)
	status, body := s.do(http.MethodPost, "/v1/classes/"+s.classID+"/enroll", s.student, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["created"])

	status, body = s.do(http.MethodGet, "/v1/classes", s.student, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["classes"], 1)

	status, _ = s.do(http.MethodPost, "/v1/classes/missing/enroll", s.student, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSubmitFlow(t *testing.T) {
	s := newScene(t)
	sessionID := s.start("ABC123")

	status, body := s.submit(sessionID, "ABC123", 12.9716, 77.5946)
	require.Equal(t, http.StatusCreated, status, body)
	assert.NotEmpty(t, body["record_id"])
	assert.NotEmpty(t, body["marked_at"])

	status, body = s.submit(sessionID, "ABC123", 12.9716, 77.5946)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "duplicate_submission", body["error"])

	status, body = s.do(http.MethodGet, "/v1/attendance/sessions/"+sessionID+"/records", s.teacher, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["count"])
	records := body["records"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, "student-1", records[0].(map[string]any)["student_id"])
	assert.Equal(t, "present", records[0].(map[string]any)["status"])

	require.Eventually(t, func() bool {
		list, err := s.attempts.List(context.Background(), sessionID, 0)
		return err == nil && len(list) == 2
	}, time.Second, 5*time.Millisecond)

	status, body = s.do(http.MethodGet, "/v1/attendance/sessions/"+sessionID+"/attempts?limit=1", s.teacher, nil)
	require.Equal(t, http.StatusOK, status)
	attempts := body["attempts"].([]any)
	require.Len(t, attempts, 1)
	assert.Equal(t, "duplicate_submission", attempts[0].(map[string]any)["reason"])
}

func TestSubmitRejections(t *testing.T) {
	s := newScene(t)
	sessionID := s.start("ABC123")

	tests := []struct {
		name     string
		session  string
		code     string
		lat, lon float64
		status   int
		kind     string
	}{
		{name: "outside geofence", session: sessionID, code: "ABC123", lat: 12.9734, lon: 77.5946, status: http.StatusBadRequest, kind: "outside_geofence"},
		{name: "bad code", session: sessionID, code: "abc123", lat: 12.9716, lon: 77.5946, status: http.StatusBadRequest, kind: "bad_code"},
		{name: "invalid coordinate", session: sessionID, code: "ABC123", lat: 12.9716, lon: 181, status: http.StatusBadRequest, kind: "invalid_coordinate"},
		{name: "unknown session", session: "missing", code: "ABC123", lat: 12.9716, lon: 77.5946, status: http.StatusGone, kind: "session_closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.submit(tt.session, tt.code, tt.lat, tt.lon)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, body["error"])
		})
	}

	status, body := s.do(http.MethodGet, "/v1/attendance/sessions/"+sessionID+"/records", s.teacher, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["count"])
}

func TestSubmitNotEnrolled(t *testing.T) {
	s := newScene(t)
	sessionID := s.start("ABC123")
	stranger := s.token("student-2", auth.RoleStudent)

	status, body := s.do(http.MethodPost, "/v1/attendance/submit", stranger, gin.H{
		"session_id": sessionID, "latitude": 12.9716, "longitude": 77.5946, "code": "ABC123",
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_enrolled", body["error"])
}

func TestSessionLifecycle(t *testing.T) {
	s := newScene(t)

	status, body := s.do(http.MethodGet, "/v1/attendance/active?class_id="+s.classID, s.student, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, body["active"])

	sessionID := s.start("")

	now := time.Now().UTC()
	status, body = s.do(http.MethodPost, "/v1/attendance/start", s.teacher, gin.H{
		"class_id":  s.classID,
		"starts_at": now.Format(time.RFC3339),
		"ends_at":   now.Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "session_already_open", body["error"])

	status, body = s.do(http.MethodGet, "/v1/attendance/active?class_id="+s.classID, s.student, nil)
	require.Equal(t, http.StatusOK, status)
	active := body["active"].(map[string]any)
	assert.Equal(t, sessionID, active["session_id"])
	assert.NotContains(t, active, "code", "students never see the code")

	status, body = s.do(http.MethodGet, "/v1/attendance/active?class_id="+s.classID, s.teacher, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["active"].(map[string]any)["code"], 6)

	other := s.token("teacher-2", auth.RoleTeacher)
	status, body = s.do(http.MethodPost, "/v1/attendance/end", other, gin.H{"session_id": sessionID})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_owner", body["error"])

	status, _ = s.do(http.MethodPost, "/v1/attendance/end", s.teacher, gin.H{"session_id": sessionID})
	assert.Equal(t, http.StatusNoContent, status)

	status, body = s.do(http.MethodPost, "/v1/attendance/end", s.teacher, gin.H{"session_id": sessionID})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_closed", body["error"])

	status, body = s.submit(sessionID, "whatever", 12.9716, 77.5946)
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, "session_closed", body["error"])

	status, body = s.do(http.MethodGet, "/v1/classes/"+s.classID+"/sessions", s.teacher, nil)
	require.Equal(t, http.StatusOK, status)
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, "closed", sessions[0].(map[string]any)["status"])
}

func TestStartSessionBadInput(t *testing.T) {
	s := newScene(t)
	tests := []struct {
		name   string
		body   gin.H
		status int
		kind   string
	}{
		{name: "unparseable time", body: gin.H{"class_id": s.classID, "starts_at": "tomorrow", "ends_at": "2026-01-31T10:00:00"}, status: http.StatusBadRequest, kind: "bad_request"},
		{name: "inverted window", body: gin.H{"class_id": s.classID, "starts_at": "2026-01-31T10:00:00", "ends_at": "2026-01-31T09:00:00"}, status: http.StatusBadRequest, kind: "invalid_window"},
		{name: "unknown class", body: gin.H{"class_id": "missing", "starts_at": "2026-01-31T09:00:00", "ends_at": "2026-01-31T10:00:00"}, status: http.StatusNotFound, kind: "not_found"},
		{name: "code too long", body: gin.H{"class_id": s.classID, "code": "ABCDEFGHIJKLMNOPQRSTU", "starts_at": "2026-01-31T09:00:00", "ends_at": "2026-01-31T10:00:00"}, status: http.StatusBadRequest, kind: "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(http.MethodPost, "/v1/attendance/start", s.teacher, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, body["error"])
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "2026-01-31T09:00:00Z", want: time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)},
		{in: "2026-01-31T09:00:00+05:30", want: time.Date(2026, 1, 31, 9, 0, 0, 0, kolkata)},
		{in: "2026-01-31T09:00:00", want: time.Date(2026, 1, 31, 9, 0, 0, 0, kolkata)},
		{in: "2026-01-31T09:00", want: time.Date(2026, 1, 31, 9, 0, 0, 0, kolkata)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTimestamp("starts_at", tt.in, kolkata)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}

	_, err = parseTimestamp("starts_at", "31/01/2026", kolkata)
	assert.Error(t, err)
}

func TestRateLimitAppliesBeforeAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(RouterOptions{
		SigningKey: signingKey,
		Issuer:     issuer,
		Limiter:    httpmiddleware.NewTokenBucket(2, 2),
	}, NewServer(nil, nil, nil, nil, nil))

	codes := map[int]int{}
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/classes", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes[w.Code]++
	}
	assert.Equal(t, map[int]int{http.StatusUnauthorized: 2, http.StatusTooManyRequests: 3}, codes)
}

func TestSubmitStoresDeviceInfoVerbatim(t *testing.T) {
	s := newScene(t)
	sessionID := s.start("ABC123")

	device := attendance.DeviceSignature{ScreenSize: "390x844", Timezone: "Asia/Kolkata", Language: "en-IN"}
	raw, err := json.Marshal(gin.H{
		"session_id": sessionID, "latitude": 12.9716, "longitude": 77.5946, "code": "ABC123", "device_info": device,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/attendance/submit", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.student)
	req.Header.Set("User-Agent", "curl/8.5.0")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	status, body := s.do(http.MethodGet, "/v1/attendance/sessions/"+sessionID+"/records", s.teacher, nil)
	require.Equal(t, http.StatusOK, status)
	records := body["records"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, device.Digest(), records[0].(map[string]any)["device_hash"], "the request User-Agent must not leak into the signature")
}
