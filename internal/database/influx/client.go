// Package influx provides the InfluxDB time series of coordination ticks and
// submissions.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Ratio1/edge-node-sub002/internal/oracle"
	"github.com/Ratio1/edge-node-sub002/pkg/errors"
	"github.com/Ratio1/edge-node-sub002/pkg/log"
)

const (
	// MeasurementTicks holds one point per coordination tick
	MeasurementTicks = "oracle_ticks"
	// MeasurementEvents holds one point per coordination event
	MeasurementEvents = "oracle_events"
)

// PointWriter is the non-blocking write side of the InfluxDB API
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

var (
	_ oracle.Recorder     = (*Client)(nil)
	_ oracle.TickObserver = (*Client)(nil)
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI PointWriter
	queryAPI api.QueryAPI
	bucket   string
	oracle   string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	// Oracle tags every point with the writing oracle's node address
	Oracle string
}

// NewClient creates a new InfluxDB client. Asynchronous write failures are
// logged through logger.
func NewClient(ctx context.Context, cfg *Config, logger *log.Logger) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c := &Client{client: client, bucket: cfg.Bucket, oracle: cfg.Oracle}
	if err := c.Health(healthCtx); err != nil {
		client.Close()
		return nil, err
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	if logger != nil {
		logger = logger.WithComponent("influx")
		go func() {
			for err := range writeAPI.Errors() {
				logger.Warn("influx write failed", "error", err)
			}
		}()
	}

	c.writeAPI = writeAPI
	c.queryAPI = client.QueryAPI(cfg.Org)
	return c, nil
}

// NewWithWriter builds a write-only client around w
func NewWithWriter(w PointWriter, oracleAddr string) *Client {
	return &Client{writeAPI: w, oracle: oracleAddr}
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	if c.client != nil {
		c.client.Close()
	}
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	health, err := c.client.Health(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "influx_health", "failed to check InfluxDB health")
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return errors.New(errors.ErrorTypeDatabase, "influx_health", "InfluxDB health check failed").
			WithContext("message", msg)
	}

	return nil
}

// Record writes ev as a point. Writes are buffered, so failures surface
// through the client's error log rather than here.
func (c *Client) Record(_ context.Context, ev oracle.Event) error {
	c.writeAPI.WritePoint(EventPoint(ev, c.oracle))
	return nil
}

// ObserveTick writes the duration and outcome of one tick
func (c *Client) ObserveTick(d time.Duration, err error) {
	c.writeAPI.WritePoint(TickPoint(d, err, c.oracle, time.Now()))
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// EventPoint builds the point for a coordination event
func EventPoint(ev oracle.Event, oracleAddr string) *write.Point {
	tags := map[string]string{
		"kind":   string(ev.Kind),
		"key":    ev.Key,
		"oracle": oracleAddr,
	}
	fields := map[string]interface{}{
		"nodes": len(ev.Nodes),
		"count": 1,
	}
	return write.NewPoint(MeasurementEvents, tags, fields, ev.At)
}

// TickPoint builds the point for one coordination tick
func TickPoint(d time.Duration, err error, oracleAddr string, at time.Time) *write.Point {
	tags := map[string]string{
		"oracle": oracleAddr,
		"ok":     fmt.Sprintf("%t", err == nil),
	}
	fields := map[string]interface{}{
		"duration_ms": float64(d) / float64(time.Millisecond),
	}
	return write.NewPoint(MeasurementTicks, tags, fields, at)
}

// EventCounts sums events per kind over the trailing window
func (c *Client) EventCounts(ctx context.Context, window time.Duration) (map[string]int64, error) {
	if c.queryAPI == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "event_counts", "client has no query API")
	}

	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "%s")
		|> filter(fn: (r) => r._field == "count")
		|> group(columns: ["kind"])
		|> sum()
	`, c.bucket, window.String(), MeasurementEvents)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "event_counts", "failed to query event counts")
	}
	defer func() { _ = result.Close() }()

	counts := make(map[string]int64)
	for result.Next() {
		record := result.Record()
		kind, _ := record.ValueByKey("kind").(string)
		if n, ok := record.Value().(int64); ok {
			counts[kind] = n
		}
	}

	if result.Err() != nil {
		return nil, errors.Wrap(result.Err(), errors.ErrorTypeDatabase, "event_counts", "error reading query result")
	}
	return counts, nil
}
