package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/benmeehan/thinq-agent/internal/models"
)

const (
	measurement          = "device_state"
	defaultBatchSize     = 100
	defaultFlushInterval = 10
	connectTimeout       = 10 * time.Second
)

var (
	// ErrConnectionFailed means InfluxDB did not answer the initial ping.
	ErrConnectionFailed = errors.New("history: connection failed")

	// ErrDisabled means history recording is turned off.
	ErrDisabled = errors.New("history: disabled in configuration")
)

// Config selects the InfluxDB bucket snapshots are written to.
type Config struct {
	Enabled       bool
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int
	FlushInterval int // seconds
}

// Recorder writes the numeric values of device snapshots to InfluxDB.
// Writes are batched and non-blocking.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Connect pings InfluxDB and prepares a batching writer.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*1000))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	r := &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger,
		now:      time.Now,
	}
	go r.handleWriteErrors(r.writeAPI.Errors())

	logger.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("History recorder connected")
	return r, nil
}

func (r *Recorder) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		r.logger.Warn().Err(err).Msg("History write failed")
	}
}

// Record queues one point holding every numeric value of the snapshot.
// Its signature matches controllers.Listener.
func (r *Recorder) Record(device *models.Device) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	point := NewPoint(device, r.now())
	if point == nil {
		return
	}
	r.writeAPI.WritePoint(point)
}

// Flush sends every queued point.
func (r *Recorder) Flush() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.closed {
		r.writeAPI.Flush()
	}
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.writeAPI.Flush()
	r.client.Close()
	return nil
}

// NewPoint builds the point for a device, or nil when the snapshot carries
// no numeric value.
func NewPoint(device *models.Device, at time.Time) *write.Point {
	fields := Fields(device.Snapshot.Copy())
	if len(fields) == 0 {
		return nil
	}

	tags := map[string]string{"device_id": device.ID}
	if device.Name != "" {
		tags["device"] = device.Name
	}
	if device.Model != "" {
		tags["model"] = device.Model
	}
	return write.NewPoint(measurement, tags, fields, at)
}

// Fields flattens a snapshot into numeric fields keyed by property path.
// Booleans become 0 or 1; strings are kept only when they parse as numbers.
func Fields(snapshot map[string]any) map[string]any {
	fields := make(map[string]any)
	flatten("", snapshot, fields)
	return fields
}

func flatten(prefix string, data map[string]any, out map[string]any) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch v := data[k].(type) {
		case map[string]any:
			flatten(path, v, out)
		case string:
			if f, ok := models.ToFloat(strings.TrimSpace(v)); ok {
				out[path] = f
			}
		default:
			if f, ok := models.ToFloat(v); ok {
				out[path] = f
			}
		}
	}
}
