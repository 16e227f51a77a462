package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio1/edge-node-sub002/internal/oracle"
)

func TestCollector_Record(t *testing.T) {
	c := NewCollector("chaindist")

	require.NoError(t, c.Record(context.Background(), oracle.Event{Kind: oracle.EventNodeUpdate}))
	require.NoError(t, c.Record(context.Background(), oracle.Event{Kind: oracle.EventNodeUpdate}))
	require.NoError(t, c.Record(context.Background(), oracle.Event{Kind: oracle.EventRewardsAllocated}))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsTotal.WithLabelValues("node_update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventsTotal.WithLabelValues("rewards_allocated")))
}

func TestCollector_ObserveTick(t *testing.T) {
	c := NewCollector("chaindist")

	c.ObserveTick(10*time.Millisecond, nil)
	c.ObserveTick(20*time.Millisecond, errors.New("ledger down"))
	c.ObserveTick(5*time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ticksTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ticksTotal.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.tickDuration))
}

func TestCollector_Gauges(t *testing.T) {
	c := NewCollector("chaindist")

	c.SetKnownNodes(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(c.knownNodes))

	c.SetLivenessWrite(time.Time{})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.livenessWrite))
	c.SetLivenessWrite(time.Unix(1_738_771_200, 500_000_000))
	assert.Equal(t, 1_738_771_200.5, testutil.ToFloat64(c.livenessWrite))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("chaindist")
	c.ObserveTick(time.Millisecond, nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "chaindist_ticks_total")
	assert.Contains(t, string(body), "go_goroutines")
}
