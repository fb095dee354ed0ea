// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// Observations are buffered in-memory and submitted on a ticker plus one
// final flush on Close. Buffers reset even when submission fails so a
// Datadog outage never backs pressure into the pipeline.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"collision/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Metric names the pipeline emits through this backend. Anything else is
// ignored.
const (
	MetricStageTotal    = "curate_stage_total"
	MetricRowsTotal     = "curate_rows_total"
	MetricDateMethod    = "curate_date_methods_total"
	MetricCoordQuality  = "curate_coord_quality_total"
	MetricStageDuration = "curate_stage_duration_seconds"
)

// Options controls backend construction.
type Options struct {
	// JobName becomes tag "job:<name>" on every series. Defaults to "curate".
	JobName string

	// Tags are extra Datadog tags, e.g. []string{"env:prod"}.
	Tags []string

	// FlushEvery controls the submission interval. Defaults to 60s.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets these; tests use
	// them to avoid real clocks, tickers and network submission.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the slice of the Datadog SDK the backend needs. The
// SDK only exposes the concrete *datadogV2.MetricsApi, which cannot be
// stubbed; this interface makes tests deterministic.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter

	ctx        context.Context
	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	stageCounts    map[string]float64
	rowCounts      map[string]float64
	methodCounts   map[string]float64
	qualityCounts  map[string]float64
	stageDurations map[string][]float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop. Network errors surface from Flush, not from here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "curate"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,

		stageCounts:    make(map[string]float64),
		rowCounts:      make(map[string]float64),
		methodCounts:   make(map[string]float64),
		qualityCounts:  make(map[string]float64),
		stageDurations: make(map[string][]float64),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)
	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Close once only.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case MetricStageTotal:
		b.stageCounts[joinKey(labels["stage"], labels["status"])] += delta
	case MetricRowsTotal:
		kind := labels["kind"]
		if kind == "" {
			return
		}
		b.rowCounts[kind] += delta
	case MetricDateMethod:
		m := labels["method"]
		if m == "" {
			return
		}
		b.methodCounts[m] += delta
	case MetricCoordQuality:
		q := labels["quality"]
		if q == "" {
			return
		}
		b.qualityCounts[q] += delta
	default:
		// Unknown metrics are dropped silently.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != MetricStageDuration {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	k := joinKey(labels["stage"], labels["status"])
	b.stageDurations[k] = append(b.stageDurations[k], value)
}

// snapshot is the detached buffered state a Flush submits. Collect+reset
// happens under the lock; payload building and submission happen outside it.
type snapshot struct {
	stageCounts    map[string]float64
	rowCounts      map[string]float64
	methodCounts   map[string]float64
	qualityCounts  map[string]float64
	stageDurations map[string][]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.stageCounts) == 0 &&
		len(s.rowCounts) == 0 &&
		len(s.methodCounts) == 0 &&
		len(s.qualityCounts) == 0 &&
		len(s.stageDurations) == 0
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		stageCounts:    b.stageCounts,
		rowCounts:      b.rowCounts,
		methodCounts:   b.methodCounts,
		qualityCounts:  b.qualityCounts,
		stageDurations: b.stageDurations,
	}
	b.stageCounts = make(map[string]float64)
	b.rowCounts = make(map[string]float64)
	b.methodCounts = make(map[string]float64)
	b.qualityCounts = make(map[string]float64)
	b.stageDurations = make(map[string][]float64)
	return s
}

// Flush submits buffered metrics and resets the buffers. Returns nil when
// there is nothing to submit.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure: no locks, clocks or network, which keeps it unit
// testable and centralizes the naming and tagging contract.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, 32)

	for k, v := range s.stageCounts {
		if v == 0 {
			continue
		}
		stage, status := splitKey(k)
		series = append(series, countSeries("curate.stage.total", v,
			withTags(b.baseTags, "stage:"+stage, "status:"+status), nowUnix))
	}
	for kind, v := range s.rowCounts {
		if v == 0 {
			continue
		}
		series = append(series, countSeries("curate.rows.total", v,
			withTags(b.baseTags, "kind:"+kind), nowUnix))
	}
	for m, v := range s.methodCounts {
		if v == 0 {
			continue
		}
		series = append(series, countSeries("curate.date_methods.total", v,
			withTags(b.baseTags, "method:"+m), nowUnix))
	}
	for q, v := range s.qualityCounts {
		if v == 0 {
			continue
		}
		series = append(series, countSeries("curate.coord_quality.total", v,
			withTags(b.baseTags, "quality:"+q), nowUnix))
	}
	for k, samples := range s.stageDurations {
		if len(samples) == 0 {
			continue
		}
		cp := append([]float64(nil), samples...)
		sort.Float64s(cp)
		stage, status := splitKey(k)
		tags := withTags(b.baseTags, "stage:"+stage, "status:"+status)
		series = append(series,
			gaugeSeries("curate.stage.duration_seconds.p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
			gaugeSeries("curate.stage.duration_seconds.p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
			gaugeSeries("curate.stage.duration_seconds.max", cp[len(cp)-1], tags, nowUnix),
			gaugeSeries("curate.stage.duration_seconds.samples", float64(len(cp)), tags, nowUnix),
		)
	}
	return series
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func joinKey(a, b string) string { return a + "\x00" + b }

func splitKey(k string) (string, string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:curate".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
