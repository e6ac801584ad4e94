package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoshift/geoshift/internal/engine"
	"github.com/geoshift/geoshift/internal/geo"
	"github.com/geoshift/geoshift/internal/notify"
	"github.com/geoshift/geoshift/internal/position"
	"github.com/geoshift/geoshift/internal/store"
	"github.com/geoshift/geoshift/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var apiEpoch = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

// memDB is an in-memory Persistence for handler tests.
type memDB struct {
	mu       sync.Mutex
	fences   []geo.Fence
	sessions []engine.Session
	audit    []store.AuditRecord
}

func (m *memDB) CreateFence(_ context.Context, _ string, f geo.Fence) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = fmt.Sprintf("fence-%d", len(m.fences)+1)
	}
	if err := f.Validate(); err != nil {
		return "", err
	}
	for _, other := range m.fences {
		if geo.Overlaps(f, other) {
			return "", store.ErrFenceOverlap
		}
	}
	m.fences = append(m.fences, f)
	return f.ID, nil
}

func (m *memDB) DeleteFence(_ context.Context, _ string, fenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.fences {
		if f.ID == fenceID {
			m.fences = append(m.fences[:i], m.fences[i+1:]...)
			return nil
		}
	}
	return store.ErrFenceNotFound
}

func (m *memDB) ListActiveFences(context.Context, string) ([]geo.Fence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]geo.Fence(nil), m.fences...), nil
}

func (m *memDB) RecentSessions(context.Context, string, int) ([]engine.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.Session(nil), m.sessions...), nil
}

func (m *memDB) RecentAudit(context.Context, int) ([]store.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.AuditRecord(nil), m.audit...), nil
}

type apiFixture struct {
	t      *testing.T
	clock  *testutil.ManualClock
	db     *memDB
	bridge *position.Bridge
	eng    *engine.Engine
	hub    *notify.Hub
	router *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		t:     t,
		clock: testutil.NewManualClock(apiEpoch),
		db:    &memDB{},
	}
	f.db.fences = []geo.Fence{{
		ID: "site-a", Name: "Berlin Depot",
		Lat: 52.5200, Lng: 13.4050, RadiusMeters: 200, Active: true,
	}}
	f.bridge = position.New(f.clock.Now, 0)
	f.hub = notify.NewHub(f.clock.Now)
	f.eng = engine.New(engine.Deps{
		Clock:    f.clock,
		Sessions: testutil.NewMemSessionStore(f.clock.Now),
		Registry: f.db,
		Position: f.bridge,
		Notifier: f.hub,
		UserID:   "worker-1",
	})
	require.True(t, f.eng.SetReady())
	f.eng.Drain(context.Background())

	srv := New(f.eng, f.db, f.hub, f.bridge, "worker-1")
	f.router = srv.Router()
	return f
}

func (f *apiFixture) request(method, path, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	var rdr *bytes.Reader
	if body == "" {
		rdr = bytes.NewReader(nil)
	} else {
		rdr = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestPostSignal_QueuesAndProcesses(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(http.MethodPost, "/api/v1/signals",
		`{"kind":"enter","fenceId":"site-a"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	f.eng.Drain(context.Background())
	st := f.eng.Status()
	require.NotNil(t, st.Pending)
	assert.Equal(t, engine.PendingEnter, st.Pending.Kind)
}

func TestPostSignal_RejectsUnknownKind(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(http.MethodPost, "/api/v1/signals",
		`{"kind":"teleport","fenceId":"site-a"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown signal kind")
}

func TestPostSignal_GuardReturns429(t *testing.T) {
	f := newAPIFixture(t)

	first := f.request(http.MethodPost, "/api/v1/signals",
		`{"kind":"enter","fenceId":"site-a"}`)
	require.Equal(t, http.StatusAccepted, first.Code)

	// Still unprocessed: the guard is holding.
	second := f.request(http.MethodPost, "/api/v1/signals",
		`{"kind":"exit","fenceId":"site-a"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestPostDecision_Validation(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(http.MethodPost, "/api/v1/decisions", `{"decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.request(http.MethodPost, "/api/v1/decisions", `{"decision":"end_adjusted"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "adjustmentMinutes")

	w = f.request(http.MethodPost, "/api/v1/decisions", `{"decision":"start"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestDecisionFlow_StartViaAPI(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	f.request(http.MethodPost, "/api/v1/signals", `{"kind":"enter","fenceId":"site-a"}`)
	f.eng.Drain(ctx)
	f.request(http.MethodPost, "/api/v1/decisions", `{"decision":"start"}`)
	f.eng.Drain(ctx)

	st := f.eng.Status()
	assert.Nil(t, st.Pending)
	assert.Equal(t, "site-a", st.ActiveFenceID)
}

func TestGetStatus(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Engine engine.Status `json:"engine"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Engine.Ready)
	assert.Equal(t, "worker-1", resp.Engine.UserID)
	assert.Equal(t, 1, resp.Engine.FenceCount)
}

func TestPostPosition_FeedsBridge(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(http.MethodPost, "/api/v1/position",
		`{"lat":52.52,"lng":13.405,"accuracyMeters":8}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	pos, err := f.bridge.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 52.52, pos.Lat)
}

func TestFenceLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	w := f.request(http.MethodPost, "/api/v1/fences",
		`{"name":"North Yard","lat":52.5650,"lng":13.4050,"radiusMeters":200}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	// The create queued a registry refresh for the engine.
	f.eng.Drain(ctx)
	assert.Equal(t, 2, f.eng.Status().FenceCount)

	w = f.request(http.MethodDelete, "/api/v1/fences/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	f.eng.Drain(ctx)
	assert.Equal(t, 1, f.eng.Status().FenceCount)

	w = f.request(http.MethodDelete, "/api/v1/fences/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostFence_RejectsOverlap(t *testing.T) {
	f := newAPIFixture(t)

	// 100m from site-a's center: circles intersect.
	w := f.request(http.MethodPost, "/api/v1/fences",
		`{"name":"Too Close","lat":52.5209,"lng":13.4050,"radiusMeters":200}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "overlap")
}

func TestPutTimings(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	w := f.request(http.MethodPut, "/api/v1/timings", `{"heartbeatIntervalSeconds":300}`)
	require.Equal(t, http.StatusOK, w.Code)
	f.eng.Drain(ctx)
	assert.Equal(t, 5*time.Minute, f.eng.Status().HeartbeatInterval)

	w = f.request(http.MethodPut, "/api/v1/timings", `{"foreground":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	f.eng.Drain(ctx)
	assert.Equal(t, 30*time.Minute, f.eng.Status().HeartbeatInterval)

	w = f.request(http.MethodPut, "/api/v1/timings", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSessions(t *testing.T) {
	f := newAPIFixture(t)
	f.db.sessions = []engine.Session{{
		ID: "session-1", UserID: "worker-1", FenceID: "site-a",
		EntryTime: apiEpoch, Kind: engine.SessionManual,
	}}

	w := f.request(http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "session-1")
}

func TestWebsocket_StreamsNotifications(t *testing.T) {
	f := newAPIFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.hub.Run(ctx)

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/notifications"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 },
		time.Second, time.Millisecond)

	f.hub.EnterPrompt(engine.PendingView{Kind: engine.PendingEnter, FenceID: "site-a"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev notify.Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, notify.EventEnterPrompt, ev.Type)
	require.NotNil(t, ev.Pending)
	assert.Equal(t, "site-a", ev.Pending.FenceID)
}
