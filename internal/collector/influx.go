package collector

import (
	"fmt"
	"time"

	influxdb_client "github.com/influxdata/influxdb1-client/v2"

	"github.com/golang/glog"
)

// TraceStatsSink consumes periodic capture statistics samples. The
// CSV stream implementation feeds a Collector; the influx one pushes
// the same counters into a time-series database.
type TraceStatsSink interface {
	RecordTraceStats(unixTS int64, s TraceStats)
}

// CSVTraceStats renders samples as rows of the trace statistics
// stream.
type CSVTraceStats struct {
	C *Collector
}

func (c CSVTraceStats) RecordTraceStats(unixTS int64, s TraceStats) {
	c.C.Add(Record{UnixTS: unixTS, Line: TraceStatsRow(unixTS, s)})
}

const influxWriteTimeout = 5 * time.Second

// InfluxTraceStats writes samples as points in measurement
// "trace_stats". Write failures are logged and the sample dropped;
// telemetry egress never blocks the capture path.
type InfluxTraceStats struct {
	client influxdb_client.Client
	db     string
}

// NewInfluxTraceStats connects an HTTP influx client.
func NewInfluxTraceStats(addr, user, pass, db string) (*InfluxTraceStats, error) {
	c, err := influxdb_client.NewHTTPClient(influxdb_client.HTTPConfig{
		Addr:     addr,
		Username: user,
		Password: pass,
		Timeout:  influxWriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("collector: influx client: %w", err)
	}
	return &InfluxTraceStats{client: c, db: db}, nil
}

func (w *InfluxTraceStats) RecordTraceStats(unixTS int64, s TraceStats) {
	bp, err := influxdb_client.NewBatchPoints(influxdb_client.BatchPointsConfig{
		Database:  w.db,
		Precision: "s",
	})
	if err != nil {
		glog.Errorf("influx batch: %v", err)
		return
	}
	pt, err := influxdb_client.NewPoint(
		"trace_stats",
		nil,
		map[string]interface{}{
			"accepted": float64(s.Accepted),
			"filtered": float64(s.Filtered),
			"captured": float64(s.Captured),
			"errors":   float64(s.Errors),
			"dropped":  float64(s.Dropped),
			"missing":  float64(s.Missing),
		},
		time.Unix(unixTS, 0),
	)
	if err != nil {
		glog.Errorf("influx point: %v", err)
		return
	}
	bp.AddPoint(pt)
	if err := w.client.Write(bp); err != nil {
		glog.Errorf("influx write: %v", err)
	}
}

// Close releases the influx client.
func (w *InfluxTraceStats) Close() error {
	return w.client.Close()
}
