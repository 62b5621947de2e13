package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventdesk/internal/attendance"
	"eventdesk/internal/auth"
	"eventdesk/internal/metrics"
	"eventdesk/internal/notify"
	"eventdesk/internal/queue"
	"eventdesk/internal/store/sqlite"
)

type fixture struct {
	store  *sqlite.Store
	queue  *queue.InMemory
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithQueue(t, queue.NewInMemory(32))
}

func newFixtureWithQueue(t *testing.T, q *queue.InMemory) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	srv := New(st, rec, notify.NewPublisher(q, rec), auth.NewIssuer("test-key", "eventdesk", time.Hour),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Options{
			ActorCookie:    "actor",
			RequestTimeout: 2 * time.Second,
			CORSOrigins:    []string{"https://kiosk.example.com"},
			Health:         map[string]HealthCheck{"db": st.Healthy},
			Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		})
	return &fixture{store: st, queue: q, router: srv.Router()}
}

func (f *fixture) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCheckIn_Flow(t *testing.T) {
	f := newFixture(t)
	u, err := f.store.CreateUser(context.Background(), "ada@example.com", "Ada")
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/v1/checkin", gin.H{"token": u.QRCode})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[map[string]any](t, w)
	assert.Equal(t, "newly_checked_in", first["outcome"])
	assert.Equal(t, 1, f.queue.Len())

	var actor *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "actor" {
			actor = c
		}
	}
	require.NotNil(t, actor, "check-in sets the actor cookie")

	w = f.do(t, http.MethodPost, "/v1/checkin", gin.H{"token": u.QRCode})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already_checked_in", decode[map[string]any](t, w)["outcome"])
	assert.Equal(t, 1, f.queue.Len(), "duplicate scans publish nothing")

	w = f.do(t, http.MethodGet, "/v1/me", nil, actor)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[attendance.User](t, w)
	assert.Equal(t, u.ID, me.ID)
	assert.True(t, me.CheckedIn)

	w = f.do(t, http.MethodGet, "/v1/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckIn_NotFoundAndBadRequest(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/checkin", gin.H{"token": "EVENT_missing_1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "not_found", body["outcome"])
	assert.NotContains(t, body, "user")

	w = f.do(t, http.MethodPost, "/v1/checkin", gin.H{})
	assert.Equal(t, http.StatusNotFound, w.Code, "empty token is not found")

	req := httptest.NewRequest(http.MethodPost, "/v1/checkin", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.queue.Len())
}

func TestCheckInByEmailAndLookup(t *testing.T) {
	f := newFixture(t)
	u, err := f.store.CreateUser(context.Background(), "grace@example.com", "Grace")
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/v1/users/lookup?email=GRACE@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, u.ID, decode[attendance.User](t, w).ID)

	w = f.do(t, http.MethodGet, "/v1/users/lookup?token="+u.QRCode, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[attendance.User](t, w).CheckedIn)

	w = f.do(t, http.MethodGet, "/v1/users/lookup?token=nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodGet, "/v1/users/lookup", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/checkin/email", gin.H{"email": " Grace@Example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "newly_checked_in", decode[map[string]any](t, w)["outcome"])

	w = f.do(t, http.MethodPost, "/v1/checkin/email", gin.H{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegister_StatusCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	evt, err := f.store.CreateEvent(ctx, "DevFest")
	require.NoError(t, err)
	one := 1
	start := time.Now().Add(time.Hour)
	sess, err := f.store.CreateSession(ctx, attendance.Session{
		EventID: evt.ID, Title: "Fuzzing", StartTime: start, EndTime: start.Add(time.Hour), MaxAttendees: &one,
	})
	require.NoError(t, err)
	u1, err := f.store.CreateUser(ctx, "u1@example.com", "U1")
	require.NoError(t, err)
	u2, err := f.store.CreateUser(ctx, "u2@example.com", "U2")
	require.NoError(t, err)

	tests := []struct {
		name    string
		userID  string
		session string
		status  int
		outcome string
	}{
		{"first registration", u1.ID, sess.ID, http.StatusCreated, "registered"},
		{"repeat", u1.ID, sess.ID, http.StatusOK, "already_registered"},
		{"full", u2.ID, sess.ID, http.StatusConflict, "session_full"},
		{"unknown user", "nobody", sess.ID, http.StatusNotFound, "user_not_found"},
		{"unknown session", u2.ID, "nothing", http.StatusNotFound, "session_not_found"},
	}
	for _, tt := range tests {
		w := f.do(t, http.MethodPost, "/v1/register", gin.H{"user_id": tt.userID, "session_id": tt.session})
		assert.Equal(t, tt.status, w.Code, tt.name)
		assert.Equal(t, tt.outcome, decode[map[string]any](t, w)["outcome"], tt.name)
	}
	assert.Equal(t, 1, f.queue.Len(), "only the first registration is published")

	w := f.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode[attendance.SessionSummary](t, w)
	assert.Equal(t, 1, sum.Registered)
	require.NotNil(t, sum.Remaining)
	assert.Zero(t, *sum.Remaining)

	w = f.do(t, http.MethodGet, "/v1/sessions/"+sess.ID+"/registrations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Registrations []attendance.Registration `json:"registrations"`
	}](t, w)
	require.Len(t, list.Registrations, 1)
	assert.Equal(t, u1.ID, list.Registrations[0].UserID)

	w = f.do(t, http.MethodGet, "/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func fillQueue(t *testing.T, q *queue.InMemory, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, q.Publish(context.Background(), queue.Message{Type: "fill"}))
	}
}

func TestCheckIn_FullDroppingQueueDoesNotStall(t *testing.T) {
	f := newFixtureWithQueue(t, queue.NewDroppingInMemory(32))
	fillQueue(t, f.queue, 32)
	u, err := f.store.CreateUser(context.Background(), "ada@example.com", "Ada")
	require.NoError(t, err)

	start := time.Now()
	w := f.do(t, http.MethodPost, "/v1/checkin", gin.H{"token": u.QRCode})
	elapsed := time.Since(start)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "newly_checked_in", decode[map[string]any](t, w)["outcome"])
	assert.Less(t, elapsed, 250*time.Millisecond)
	assert.Equal(t, 32, f.queue.Len())

	w = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Contains(t, w.Body.String(), `eventdesk_notifications_published_total{kind="checked_in",result="dropped"} 1`)
}

func TestCheckIn_FullBlockingQueueIsBoundedByPublishTimeout(t *testing.T) {
	f := newFixture(t)
	fillQueue(t, f.queue, 32)
	u, err := f.store.CreateUser(context.Background(), "ada@example.com", "Ada")
	require.NoError(t, err)

	start := time.Now()
	w := f.do(t, http.MethodPost, "/v1/checkin", gin.H{"token": u.QRCode})
	elapsed := time.Since(start)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Less(t, elapsed, notify.DefaultPublishTimeout+time.Second, "well under the 2s request timeout")
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["db"])

	f.do(t, http.MethodPost, "/v1/checkin", gin.H{"token": "unknown"})
	w = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `eventdesk_checkin_outcomes_total{outcome="not_found"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/checkin", nil)
	req.Header.Set("Origin", "https://kiosk.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://kiosk.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

type brokenStore struct {
	*sqlite.Store
	err error
}

func (b brokenStore) MarkCheckedIn(context.Context, string, time.Time) (attendance.User, bool, error) {
	return attendance.User{}, false, b.err
}

func TestFail_HidesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "broken.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	for _, tt := range []struct {
		err    error
		status int
		body   string
	}{
		{errors.New("disk I/O error at page 42"), http.StatusInternalServerError, `{"error":"internal error"}`},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, `{"error":"timeout"}`},
	} {
		srv := New(brokenStore{Store: st, err: tt.err}, nil, nil, auth.NewIssuer("k", "", time.Hour),
			slog.New(slog.NewTextHandler(io.Discard, nil)), Options{})
		req := httptest.NewRequest(http.MethodPost, "/v1/checkin", strings.NewReader(`{"token":"EVENT_u1_1"}`))
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		assert.Equal(t, tt.status, w.Code)
		assert.JSONEq(t, tt.body, w.Body.String())
	}
}
