package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio1/edge-node-sub002/internal/database/postgres"
	"github.com/Ratio1/edge-node-sub002/internal/database/redis"
	"github.com/Ratio1/edge-node-sub002/internal/oracle"
	chainErrors "github.com/Ratio1/edge-node-sub002/pkg/errors"
)

type staticEpochs struct {
	epoch int64
	err   error
}

func (e staticEpochs) CurrentEpoch(context.Context) (int64, error) { return e.epoch, e.err }

type fakeAudit struct {
	records []*postgres.EventRecord
	counts  map[string]int64
	err     error

	kind   oracle.EventKind
	key    string
	limit  int
	window time.Duration
}

func (a *fakeAudit) History(_ context.Context, kind oracle.EventKind, key string) ([]*postgres.EventRecord, error) {
	a.kind, a.key = kind, key
	return a.records, a.err
}

func (a *fakeAudit) Recent(_ context.Context, limit int) ([]*postgres.EventRecord, error) {
	a.limit = limit
	return a.records, a.err
}

func (a *fakeAudit) Counts(_ context.Context, window time.Duration) (map[string]int64, error) {
	a.window = window
	return a.counts, a.err
}

func newTestDeps(t *testing.T) (Deps, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := redis.New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), false, nil)
	t.Cleanup(func() { _ = store.Close() })

	return Deps{
		Identity: oracle.Identity{NodeAddress: "0xai_self", ChainAddress: "0xSELF"},
		Store:    store,
		HKey:     "chain_dist_monitor",
		Epochs:   staticEpochs{epoch: 42},
		LastWrite: func() time.Time {
			return time.Unix(1_738_771_200, 0)
		},
		Checks: map[string]HealthCheck{"store": store.Health},
	}, mr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Liveness(t *testing.T) {
	deps, mr := newTestDeps(t)
	mr.HSet("chain_dist_monitor", "0xai_b", "1738771300.000000")
	mr.HSet("chain_dist_monitor", "0xai_a", "1738771200.500000")
	mr.HSet("chain_dist_monitor", "0xai_bad", "yesterday")

	rec := get(t, NewServer(":0", deps, nil).Handler(), "/liveness")
	require.Equal(t, http.StatusOK, rec.Code)

	var body livenessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "0xai_self", body.Oracle.NodeAddress)
	assert.Equal(t, "0xSELF", body.Oracle.ChainAddress)
	assert.Equal(t, int64(42), body.CurrentEpoch)
	require.NotNil(t, body.LastWrite)
	assert.True(t, body.LastWrite.Equal(time.Unix(1_738_771_200, 0)))
	require.Len(t, body.Records, 2)
	assert.Equal(t, "0xai_a", body.Records[0].NodeAddress)
	assert.Equal(t, "0xai_b", body.Records[1].NodeAddress)
}

func TestServer_LivenessEpochFailure(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Epochs = staticEpochs{err: errors.New("rpc down")}

	rec := get(t, NewServer(":0", deps, nil).Handler(), "/liveness")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServer_Health(t *testing.T) {
	deps, mr := newTestDeps(t)
	deps.Checks["ledger"] = func(context.Context) error { return nil }
	h := NewServer(":0", deps, nil).Handler()

	rec := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	var ok healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ok))
	assert.Equal(t, "ok", ok.Status)
	assert.Equal(t, map[string]string{"store": "ok", "ledger": "ok"}, ok.Checks)

	mr.Close()
	rec = get(t, h, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var degraded healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&degraded))
	assert.Equal(t, "degraded", degraded.Status)
	assert.NotEqual(t, "ok", degraded.Checks["store"])
	assert.Equal(t, "ok", degraded.Checks["ledger"])
}

func TestServer_MetricsAndMethods(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("chaindist_ticks_total 1\n"))
	})
	h := NewServer(":0", deps, nil).Handler()

	rec := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chaindist_ticks_total")

	post := httptest.NewRecorder()
	h.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/liveness", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, post.Code)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/nope").Code)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	deps, _ := newTestDeps(t)
	s := NewServer("127.0.0.1:0", deps, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServer_EventHistory(t *testing.T) {
	deps, _ := newTestDeps(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	audit := &fakeAudit{records: []*postgres.EventRecord{
		{ID: "e-1", Kind: "job_close_elected", Key: "17", Nodes: []string{}, Oracle: "0xSELF", OccurredAt: at, RecordedAt: at},
	}}
	deps.Audit = audit
	h := NewServer(":0", deps, nil).Handler()

	rec := get(t, h, "/events/job_close_elected/17")
	require.Equal(t, http.StatusOK, rec.Code)
	var body eventsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "e-1", body.Events[0].ID)
	assert.Equal(t, oracle.EventJobCloseElected, audit.kind)
	assert.Equal(t, "17", audit.key)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/events/bogus/17").Code)

	audit.records = nil
	rec = get(t, h, "/events/rewards_allocated/4")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[]}`, rec.Body.String())
}

func TestServer_RecentEvents(t *testing.T) {
	deps, _ := newTestDeps(t)
	audit := &fakeAudit{}
	deps.Audit = audit
	h := NewServer(":0", deps, nil).Handler()

	require.Equal(t, http.StatusOK, get(t, h, "/events/recent").Code)
	assert.Equal(t, defaultRecentLimit, audit.limit)

	require.Equal(t, http.StatusOK, get(t, h, "/events/recent?limit=5").Code)
	assert.Equal(t, 5, audit.limit)

	for _, bad := range []string{"0", "-1", "x", "501"} {
		assert.Equal(t, http.StatusBadRequest, get(t, h, "/events/recent?limit="+bad).Code, bad)
	}
}

func TestServer_EventCounts(t *testing.T) {
	deps, _ := newTestDeps(t)
	audit := &fakeAudit{counts: map[string]int64{"node_update": 7}}
	deps.Audit = audit
	h := NewServer(":0", deps, nil).Handler()

	rec := get(t, h, "/events/counts?window=1h")
	require.Equal(t, http.StatusOK, rec.Code)
	var body countsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "1h0m0s", body.Window)
	assert.Equal(t, int64(7), body.Counts["node_update"])
	assert.Equal(t, time.Hour, audit.window)

	require.Equal(t, http.StatusOK, get(t, h, "/events/counts").Code)
	assert.Equal(t, defaultCountWindow, audit.window)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/events/counts?window=-5m").Code)
}

func TestServer_EventErrors(t *testing.T) {
	deps, _ := newTestDeps(t)
	audit := &fakeAudit{}
	deps.Audit = audit
	h := NewServer(":0", deps, nil).Handler()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not configured", chainErrors.New(chainErrors.ErrorTypeInternal, "history", "audit database not configured"), http.StatusServiceUnavailable},
		{"query failed after retries", chainErrors.Wrap(
			chainErrors.New(chainErrors.ErrorTypeDatabase, "list_events_by_key", "failed to query coordination events"),
			chainErrors.ErrorTypeInternal, "retry", "max retries exceeded"), http.StatusBadGateway},
		{"invalid", chainErrors.New(chainErrors.ErrorTypeValidation, "recent_events", "limit must be positive"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit.err = tt.err
			assert.Equal(t, tt.want, get(t, h, "/events/node_update/9").Code)
		})
	}
}

func TestServer_EventsDisabledWithoutAudit(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := NewServer(":0", deps, nil).Handler()

	assert.Equal(t, http.StatusNotFound, get(t, h, "/events/recent").Code)
}
