package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presencekit/presenced/internal/events"
	"github.com/presencekit/presenced/internal/models"
	"github.com/presencekit/presenced/internal/repositories"
	"github.com/presencekit/presenced/internal/services"
)

const testJWTSecret = "test-jwt-secret"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	router http.Handler
	clock  *fakeClock
	bus    *events.InProcessBus
	svc    *services.PresenceService
}

func newTestEnv(t *testing.T, throttle time.Duration) *testEnv {
	t.Helper()
	clock := newFakeClock()
	store := repositories.NewMemoryPresenceStoreWithClock(clock.Now)
	bus := events.NewInProcessBus()

	svc := services.NewPresenceService(
		store,
		services.NewKeyBuilder(nil, "web"),
		services.NewLocalNotifier(bus),
		clock,
		120*time.Second,
		90*time.Second,
		zerolog.Nop(),
	)
	handlers := NewHandlers(svc, throttle, clock, zerolog.Nop())
	return &testEnv{
		router: NewRouter(handlers, testJWTSecret),
		clock:  clock,
		bus:    bus,
		svc:    svc,
	}
}

func signToken(t *testing.T, subject, guard string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if guard != "" {
		claims["guard"] = guard
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func doRequest(env *testEnv, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.0.0.1:52000"
	req.Header.Set("User-Agent", "presenced-test/1.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestHeartbeat_RequiresAuth(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := doRequest(env, http.MethodPost, "/presence/heartbeat", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(env, http.MethodPost, "/presence/heartbeat", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHeartbeat_AcknowledgesAndMarksOnline(t *testing.T) {
	env := newTestEnv(t, 0)
	token := signToken(t, "alice", "")

	rec := doRequest(env, http.MethodPost, "/presence/heartbeat", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok": true}`, rec.Body.String())

	status, err := env.svc.Status(context.Background(), "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, status.Status)
	assert.Equal(t, "10.0.0.1", status.Meta["ip"])
	assert.Equal(t, "presenced-test/1.0", status.Meta["ua"])
}

func TestHeartbeat_ThrottleDropsRapidRepeats(t *testing.T) {
	env := newTestEnv(t, 30*time.Second)
	token := signToken(t, "alice", "")

	var published int
	var mu sync.Mutex
	env.bus.Subscribe(func(models.TransitionEvent) {
		mu.Lock()
		published++
		mu.Unlock()
	})

	rec := doRequest(env, http.MethodPost, "/presence/heartbeat", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Within the window: acknowledged but no fresh write or events.
	rec = doRequest(env, http.MethodPost, "/presence/heartbeat", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	mu.Lock()
	afterSecond := published
	mu.Unlock()
	assert.Equal(t, 2, afterSecond) // came_online + updated(heartbeat) from the first call only

	env.clock.Advance(31 * time.Second)
	rec = doRequest(env, http.MethodPost, "/presence/heartbeat", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	mu.Lock()
	afterThird := published
	mu.Unlock()
	assert.Greater(t, afterThird, afterSecond)
}

func TestStatus_Endpoint(t *testing.T) {
	env := newTestEnv(t, 0)
	token := signToken(t, "alice", "")

	rec := doRequest(env, http.MethodPost, "/presence/heartbeat", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(env, http.MethodGet, "/presence/status/alice", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.PresenceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.StatusOnline, status.Status)

	rec = doRequest(env, http.MethodGet, "/presence/status/nobody", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.StatusOffline, status.Status)
}

func TestStatus_ScopeFromQuery(t *testing.T) {
	env := newTestEnv(t, 0)
	token := signToken(t, "alice", "")

	rec := doRequest(env, http.MethodPost, "/presence/heartbeat?tenant=acme", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.PresenceStatus

	rec = doRequest(env, http.MethodGet, "/presence/status/alice?tenant=acme", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.StatusOnline, status.Status)

	rec = doRequest(env, http.MethodGet, "/presence/status/alice?tenant=globex", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.StatusOffline, status.Status)
}

func TestStatus_GuardClaimScopesKey(t *testing.T) {
	env := newTestEnv(t, 0)
	apiToken := signToken(t, "alice", "api")
	webToken := signToken(t, "alice", "")

	rec := doRequest(env, http.MethodPost, "/presence/heartbeat", apiToken, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.PresenceStatus

	// Same guard claim resolves to the same key.
	rec = doRequest(env, http.MethodGet, "/presence/status/alice", apiToken, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.StatusOnline, status.Status)

	// Default web guard is a different partition.
	rec = doRequest(env, http.MethodGet, "/presence/status/alice", webToken, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.StatusOffline, status.Status)
}

func TestBatchStatus_Endpoint(t *testing.T) {
	env := newTestEnv(t, 0)
	token := signToken(t, "alice", "")

	rec := doRequest(env, http.MethodPost, "/presence/heartbeat", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(env, http.MethodPost, "/presence/status", token, `{"ids":["alice","bob"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var statuses map[string]models.PresenceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, models.StatusOnline, statuses["alice"].Status)
	assert.Equal(t, models.StatusOffline, statuses["bob"].Status)
}

func TestBatchStatus_RejectsEmptyIDs(t *testing.T) {
	env := newTestEnv(t, 0)
	token := signToken(t, "alice", "")

	rec := doRequest(env, http.MethodPost, "/presence/status", token, `{"ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(env, http.MethodPost, "/presence/status", token, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
