package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/couchcryptid/calsim-tables/internal/observability"
	"github.com/couchcryptid/calsim-tables/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawMessage
	errs    []error
	index   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawMessage, error) {
	i := int(m.index.Add(1) - 1)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockTransformer struct {
	failKeys map[string]bool
}

func (m *mockTransformer) Transform(_ context.Context, raw domain.RawMessage) (domain.Series, error) {
	if m.failKeys[string(raw.Key)] {
		return domain.Series{}, errors.New("bad series")
	}
	return domain.ParseSeriesMessage(raw)
}

type mockLoader struct {
	mu     sync.Mutex
	loaded []domain.Series
	calls  int
	err    error
}

func (m *mockLoader) LoadBatch(_ context.Context, series []domain.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, series...)
	return nil
}

func (m *mockLoader) snapshot() []domain.Series {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Series(nil), m.loaded...)
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	raws := []domain.RawMessage{
		makeRawMessage(t, "/CALSIM/S_SHSTA/STORAGE//1MON/L2020A/"),
		makeRawMessage(t, "/CALSIM/C_KSWCK/CHANNEL//1MON/L2020A/"),
	}

	ext := &mockExtractor{batches: [][]domain.RawMessage{raws}}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, &mockTransformer{}, ldr, slog.Default(), metrics, 50)
	runFor(t, p, 300*time.Millisecond)

	loaded := ldr.snapshot()
	require.Len(t, loaded, 2)
	assert.Equal(t, "/CALSIM/S_SHSTA/STORAGE//1MON/L2020A/", loaded[0].Pathname)
	assert.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.MessagesConsumed), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.MessagesProduced), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.PipelineRunning), 0)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{} // no messages, will block
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, slog.Default(), newTestMetrics(), 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.snapshot())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_TransformErrorSkipsAndCommits(t *testing.T) {
	var commits atomic.Int64
	bad := makeRawMessage(t, "/CALSIM/S_SHSTA/STORAGE//1MON/L2020A/")
	bad.Key = []byte("bad")
	bad.Commit = func(context.Context) error { commits.Add(1); return nil }
	good := makeRawMessage(t, "/CALSIM/S_OROVL/STORAGE//1MON/L2020A/")
	good.Commit = func(context.Context) error { commits.Add(1); return nil }

	ext := &mockExtractor{batches: [][]domain.RawMessage{{bad, good}}}
	tfm := &mockTransformer{failKeys: map[string]bool{"bad": true}}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, slog.Default(), metrics, 50)
	runFor(t, p, 300*time.Millisecond)

	loaded := ldr.snapshot()
	require.Len(t, loaded, 1)
	assert.Equal(t, "/CALSIM/S_OROVL/STORAGE//1MON/L2020A/", loaded[0].Pathname)
	assert.Equal(t, int64(2), commits.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.TransformErrors), 0)
}

func TestPipeline_Run_AllTransformsFail(t *testing.T) {
	raw := makeRawMessage(t, "/CALSIM/S_SHSTA/STORAGE//1MON/L2020A/")
	raw.Key = []byte("bad")

	ext := &mockExtractor{batches: [][]domain.RawMessage{{raw}}}
	tfm := &mockTransformer{failKeys: map[string]bool{"bad": true}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, tfm, ldr, slog.Default(), newTestMetrics(), 50)
	runFor(t, p, 300*time.Millisecond)

	assert.Empty(t, ldr.snapshot())
	assert.Zero(t, ldr.calls)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_CommitsAfterLoad(t *testing.T) {
	var commitCalled atomic.Bool
	raw := makeRawMessage(t, "/CALSIM/S_SHSTA/STORAGE//1MON/L2020A/")
	raw.Topic = "raw-series"
	raw.Commit = func(_ context.Context) error {
		commitCalled.Store(true)
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawMessage{{raw}}}
	p := pipeline.New(ext, &mockTransformer{}, &mockLoader{}, slog.Default(), newTestMetrics(), 50)
	runFor(t, p, 300*time.Millisecond)

	assert.True(t, commitCalled.Load())
}

func TestPipeline_Run_LoadFailureDoesNotCommit(t *testing.T) {
	var commitCalled atomic.Bool
	raw := makeRawMessage(t, "/CALSIM/S_SHSTA/STORAGE//1MON/L2020A/")
	raw.Commit = func(_ context.Context) error {
		commitCalled.Store(true)
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawMessage{{raw}}}
	ldr := &mockLoader{err: errors.New("sink unavailable")}

	p := pipeline.New(ext, &mockTransformer{}, ldr, slog.Default(), newTestMetrics(), 50)
	runFor(t, p, 100*time.Millisecond)

	assert.False(t, commitCalled.Load())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_RecoversFromExtractError(t *testing.T) {
	raw := makeRawMessage(t, "/CALSIM/S_SHSTA/STORAGE//1MON/L2020A/")

	// First call fails, second call returns the batch after the initial backoff.
	ext := &mockExtractor{
		errs:    []error{errors.New("broker unavailable")},
		batches: [][]domain.RawMessage{nil, {raw}},
	}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, slog.Default(), newTestMetrics(), 50)
	runFor(t, p, time.Second)

	assert.Len(t, ldr.snapshot(), 1)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

// --- helpers ---

func makeRawMessage(t *testing.T, pathname string) domain.RawMessage {
	t.Helper()
	s := domain.Series{
		Pathname: pathname,
		Units:    "TAF",
		DataType: "PER-AVER",
		Times: []time.Time{
			time.Date(2021, time.October, 31, 0, 0, 0, 0, time.UTC),
			time.Date(2021, time.November, 30, 0, 0, 0, 0, time.UTC),
		},
		Values: []domain.Value{domain.Float(10), domain.Float(20)},
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return domain.RawMessage{
		Key:   []byte(pathname),
		Value: data,
	}
}
