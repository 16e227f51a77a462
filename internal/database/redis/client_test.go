package redis

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio1/edge-node-sub002/internal/oracle"
	"github.com/Ratio1/edge-node-sub002/pkg/errors"
	"github.com/Ratio1/edge-node-sub002/pkg/log"
)

func setupStore(t *testing.T, debug bool, logger *log.Logger) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(context.Background(), &Config{URL: "redis://" + mr.Addr(), Debug: debug}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestClient_HashOperations(t *testing.T) {
	c, mr := setupStore(t, false, nil)
	ctx := context.Background()

	ok, err := c.HSet(ctx, "chain_dist_monitor", "0xai_a", "100.5")
	require.NoError(t, err)
	assert.True(t, ok)

	// overwriting an existing field is still a success
	ok, err = c.HSet(ctx, "chain_dist_monitor", "0xai_a", "200.5")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "200.5", mr.HGet("chain_dist_monitor", "0xai_a"))

	value, found, err := c.HGet(ctx, "chain_dist_monitor", "0xai_a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "200.5", value)

	_, found, err = c.HGet(ctx, "chain_dist_monitor", "0xai_missing")
	require.NoError(t, err)
	assert.False(t, found)

	mr.HSet("chain_dist_monitor", "0xai_b", "300")
	all, err := c.HGetAll(ctx, "chain_dist_monitor")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0xai_a": "200.5", "0xai_b": "300"}, all)

	empty, err := c.HGetAll(ctx, "nothing_here")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestClient_ErrorsAreStoreErrors(t *testing.T) {
	c, mr := setupStore(t, false, nil)
	mr.Close()

	_, err := c.HSet(context.Background(), "h", "k", "v")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStore))
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, "h", errors.GetContext(err)["hkey"])
}

func TestClient_DebugTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, "test", "test", "info", "json")
	c, _ := setupStore(t, true, logger)

	_, err := c.HSet(context.Background(), "h", "k", "v")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"op":"hset"`)
}

func TestNewClient_Failures(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{URL: "not a url"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = NewClient(context.Background(), &Config{URL: "redis://127.0.0.1:1", DialTimeout: 100 * time.Millisecond}, nil)
	assert.Error(t, err)
}

func TestClient_LivenessRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), false, nil)
	ctx := context.Background()

	at := time.Unix(1_738_771_200, 0)
	_, err := c.HSet(ctx, "chain_dist_monitor", "0xai_self", oracle.FormatTimestamp(at))
	require.NoError(t, err)

	records, err := oracle.ReadLiveness(ctx, c, "chain_dist_monitor")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].LastSeen.Equal(at))
}
