package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/recd/internal/catalog"
	"github.com/fyrsmithlabs/recd/internal/logging"
	"github.com/fyrsmithlabs/recd/internal/products"
	"github.com/fyrsmithlabs/recd/internal/progress"
	"github.com/fyrsmithlabs/recd/internal/provider"
	"github.com/fyrsmithlabs/recd/internal/telemetry"
)

const testBatchID = "2f3c8f4e-95a4-4c1e-9d8a-1c2b3d4e5f60"

type call struct {
	Model  string
	Prompt string
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls []call
	fail  func(n int, model string) error
}

func (f *fakeCompleter) Complete(_ context.Context, model, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Model: model, Prompt: prompt})
	if f.fail != nil {
		if err := f.fail(len(f.calls), model); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("rec #%d from %s", len(f.calls), model), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []progress.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func rowsOf(names ...string) []products.Row {
	rows := make([]products.Row, 0, len(names))
	for _, n := range names {
		rows = append(rows, products.NewRow([]products.Field{{Name: "name", Value: n}, {Name: "category", Value: "Home"}}))
	}
	return rows
}

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func newTestOrchestrator(t *testing.T, c Completer, pub Publisher, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock())}, opts...)
	o, err := New(c, catalog.Default(), pub, opts...)
	require.NoError(t, err)
	return o
}

func TestRun_NestedOrder(t *testing.T) {
	fc := &fakeCompleter{}
	pub := &recordingPublisher{}
	o := newTestOrchestrator(t, fc, pub)

	rows := rowsOf("Mug", "Lamp")
	models := []string{"gpt-4o", "claude-3-5-haiku"}
	results, err := o.Run(context.Background(), testBatchID, rows, models, 2)
	require.NoError(t, err)
	require.Len(t, results, 8)

	want := []struct {
		product   string
		model     string
		iteration int
	}{
		{"Mug, Home", "gpt-4o", 1},
		{"Mug, Home", "gpt-4o", 2},
		{"Mug, Home", "claude-3-5-haiku", 1},
		{"Mug, Home", "claude-3-5-haiku", 2},
		{"Lamp, Home", "gpt-4o", 1},
		{"Lamp, Home", "gpt-4o", 2},
		{"Lamp, Home", "claude-3-5-haiku", 1},
		{"Lamp, Home", "claude-3-5-haiku", 2},
	}
	for i, w := range want {
		assert.Equal(t, w.product, results[i].Product, "row %d", i)
		assert.Equal(t, w.model, results[i].Model, "row %d", i)
		assert.Equal(t, w.iteration, results[i].Iteration, "row %d", i)
		assert.Equal(t, fmt.Sprintf("rec #%d from %s", i+1, w.model), results[i].Recommendation)
		assert.Equal(t, fixedClock()(), results[i].Timestamp)
	}

	require.Len(t, fc.calls, 8)
	assert.Equal(t, Prompt("Mug, Home"), fc.calls[0].Prompt)
	assert.Equal(t, Prompt("Lamp, Home"), fc.calls[7].Prompt)
}

func TestRun_ProgressEvents(t *testing.T) {
	pub := &recordingPublisher{}
	o := newTestOrchestrator(t, &fakeCompleter{}, pub)

	_, err := o.Run(context.Background(), testBatchID, rowsOf("Mug", "Lamp"), []string{"gpt-4o", "gemini-1.5-pro"}, 2)
	require.NoError(t, err)

	// started + 8 processing + compiling
	require.Len(t, pub.events, 10)

	first := pub.events[0]
	assert.Equal(t, progress.StatusStarted, first.Status)
	assert.Equal(t, 0, first.Completed)
	assert.Equal(t, 8, first.Total)
	assert.Equal(t, 0, first.Percentage)

	for i, ev := range pub.events[1:9] {
		assert.Equal(t, progress.StatusProcessing, ev.Status)
		assert.Equal(t, testBatchID, ev.BatchID)
		assert.Equal(t, i, ev.Completed, "processing events carry pre-increment counters")
		assert.Equal(t, 8, ev.Total)
		assert.Equal(t, i*100/8, ev.Percentage)
		assert.NotEmpty(t, ev.CurrentProduct)
		assert.NotEmpty(t, ev.CurrentModel)
		assert.NotZero(t, ev.Iteration)
	}
	assert.Equal(t, "Lamp, Home", pub.events[8].CurrentProduct)
	assert.Equal(t, "gemini-1.5-pro", pub.events[8].CurrentModel)
	assert.Equal(t, 2, pub.events[8].Iteration)

	last := pub.events[9]
	assert.Equal(t, progress.StatusCompiling, last.Status)
	assert.Equal(t, 8, last.Completed)
	assert.Equal(t, 100, last.Percentage)
}

func TestRun_ZeroRows(t *testing.T) {
	fc := &fakeCompleter{}
	pub := &recordingPublisher{}
	o := newTestOrchestrator(t, fc, pub)

	results, err := o.Run(context.Background(), testBatchID, []products.Row{}, []string{"gpt-4o"}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, fc.calls)

	require.Len(t, pub.events, 2)
	for _, ev := range pub.events {
		assert.Equal(t, 0, ev.Total)
		assert.Equal(t, 0, ev.Completed)
		assert.Equal(t, 100, ev.Percentage)
	}
	assert.Equal(t, progress.StatusStarted, pub.events[0].Status)
	assert.Equal(t, progress.StatusCompiling, pub.events[1].Status)
}

func TestRun_FailingUnitDoesNotAbort(t *testing.T) {
	fc := &fakeCompleter{fail: func(n int, _ string) error {
		if n == 2 {
			return errors.New("gpt-4o failed after 3 attempt(s): connection reset")
		}
		return nil
	}}
	pub := &recordingPublisher{}
	o := newTestOrchestrator(t, fc, pub)

	results, err := o.Run(context.Background(), testBatchID, rowsOf("Mug", "Lamp", "Desk"), []string{"gpt-4o"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.False(t, results[0].Failed)
	assert.True(t, results[1].Failed)
	assert.Equal(t, "ERROR: gpt-4o failed after 3 attempt(s): connection reset", results[1].Recommendation)
	assert.False(t, results[2].Failed)
	assert.Len(t, fc.calls, 3)

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, 3, last.Completed)
	assert.Equal(t, 100, last.Percentage)
}

func TestRun_AdapterRetriesExhausted(t *testing.T) {
	var attempts int
	failing := clientFunc(func(context.Context, catalog.ModelSpec, string) (string, error) {
		attempts++
		return "", errors.New("503 service unavailable")
	})
	adapter, err := provider.New(provider.Config{MaxAttempts: 3, RetryDelay: time.Second}, catalog.Default(),
		provider.WithClient(catalog.OpenAI, failing),
		provider.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	require.NoError(t, err)

	o := newTestOrchestrator(t, adapter, &recordingPublisher{})
	results, err := o.Run(context.Background(), testBatchID, rowsOf("Mug", "Lamp"), []string{"gpt-4o-mini"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 6, attempts, "each unit gets 3 attempts")
	for _, r := range results {
		assert.True(t, r.Failed)
		assert.Contains(t, r.Recommendation, "503 service unavailable")
	}
}

type clientFunc func(context.Context, catalog.ModelSpec, string) (string, error)

func (f clientFunc) Generate(ctx context.Context, spec catalog.ModelSpec, prompt string) (string, error) {
	return f(ctx, spec, prompt)
}

func TestRun_DemoModeWithoutCredentials(t *testing.T) {
	adapter, err := provider.New(provider.Config{
		MaxAttempts:  3,
		RetryDelay:   time.Second,
		DemoDelayMin: time.Second,
		DemoDelayMax: 3 * time.Second,
	}, catalog.Default(),
		provider.WithSleep(func(context.Context, time.Duration) error { return nil }),
		provider.WithRand(rand.New(rand.NewPCG(7, 7))),
	)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	o := newTestOrchestrator(t, adapter, pub)

	results, err := o.Run(context.Background(), testBatchID, rowsOf("Mug", "Lamp", "Desk"), []string{"claude-3-5-sonnet"}, 2)
	require.NoError(t, err)
	require.Len(t, results, 6)
	for _, r := range results {
		assert.True(t, provider.IsDemo(r.Recommendation), r.Recommendation)
		assert.False(t, r.Failed)
	}

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, 100, last.Percentage)
	assert.Equal(t, 6, last.Completed)
	assert.Equal(t, 6, last.Total)
}

func TestRun_InputErrors(t *testing.T) {
	tests := []struct {
		name       string
		batchID    string
		models     []string
		iterations int
		unknown    bool
	}{
		{"no models", testBatchID, nil, 1, false},
		{"zero iterations", testBatchID, []string{"gpt-4o"}, 0, false},
		{"too many iterations", testBatchID, []string{"gpt-4o"}, 11, false},
		{"unknown model", testBatchID, []string{"gpt-4o", "llama"}, 1, true},
		{"missing batch id", "", []string{"gpt-4o"}, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeCompleter{}
			pub := &recordingPublisher{}
			o := newTestOrchestrator(t, fc, pub)

			_, err := o.Run(context.Background(), tt.batchID, rowsOf("Mug"), tt.models, tt.iterations)
			var ie *InputError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.unknown, errors.Is(err, catalog.ErrUnknownModel))
			assert.Empty(t, fc.calls)
			assert.Empty(t, pub.events)
		})
	}
}

type completerFunc func(ctx context.Context, model, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, model, prompt string) (string, error) {
	return f(ctx, model, prompt)
}

func TestRun_FailureComesFromCallError(t *testing.T) {
	tl := logging.NewTestLogger()
	lookalike := completerFunc(func(context.Context, string, string) (string, error) {
		return "ERROR: tags are case sensitive, so price them separately.", nil
	})
	o := newTestOrchestrator(t, lookalike, &recordingPublisher{}, WithLogger(tl.Logger))

	results, err := o.Run(context.Background(), testBatchID, rowsOf("Mug", "Lamp"), []string{"gpt-4o"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Failed)
		assert.True(t, HasErrorMarker(r.Recommendation))
	}
	tl.AssertField(t, "batch finished", "failed", int64(0))
}

func TestRun_LogsWithBatchID(t *testing.T) {
	tl := logging.NewTestLogger()
	fc := &fakeCompleter{fail: func(int, string) error { return errors.New("boom") }}
	o := newTestOrchestrator(t, fc, &recordingPublisher{}, WithLogger(tl.Logger))

	_, err := o.Run(context.Background(), testBatchID, rowsOf("Mug"), []string{"gpt-4o"}, 1)
	require.NoError(t, err)

	tl.AssertLogged(t, zapcore.InfoLevel, "batch started")
	tl.AssertLogged(t, zapcore.WarnLevel, "work unit failed")
	tl.AssertField(t, "batch finished", "batch.id", testBatchID)
	tl.AssertField(t, "batch finished", "failed", int64(1))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, catalog.Default(), &recordingPublisher{})
	assert.Error(t, err)
	_, err = New(&fakeCompleter{}, nil, &recordingPublisher{})
	assert.Error(t, err)
	_, err = New(&fakeCompleter{}, catalog.Default(), nil)
	assert.Error(t, err)
	_, err = New(&fakeCompleter{}, catalog.Default(), &recordingPublisher{}, WithMaxIterations(0))
	assert.Error(t, err)
}

func TestState_Percentage(t *testing.T) {
	tests := []struct {
		total, completed, want int
	}{
		{0, 0, 100},
		{3, 0, 0},
		{3, 1, 33},
		{3, 2, 66},
		{3, 3, 100},
		{8, 7, 87},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, State{Total: tt.total, Completed: tt.completed}.Percentage())
	}
}

func TestUnits(t *testing.T) {
	units := Units(rowsOf("A", "B", "C"), []string{"m1", "m2"}, 2)
	assert.Len(t, units, 12)
	assert.Nil(t, Units(rowsOf("A"), []string{"m1"}, 0))
}

func TestPrompt(t *testing.T) {
	p := Prompt("Mug, Kitchen, 12")
	assert.True(t, strings.Contains(p, "Mug, Kitchen, 12"))
}

func TestRun_RecordsSpansAndMetrics(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	tt.Install(t)

	fc := &fakeCompleter{fail: func(n int, _ string) error {
		if n == 1 {
			return errors.New("boom")
		}
		return nil
	}}
	o := newTestOrchestrator(t, fc, &recordingPublisher{})

	_, err := o.Run(context.Background(), testBatchID, rowsOf("Mug"), []string{"gpt-4o"}, 2)
	require.NoError(t, err)

	tt.AssertSpanExists(t, "batch.run")
	tt.AssertSpanAttribute(t, "batch.run", "batch.units", int64(2))
	tt.AssertSpanAttribute(t, "batch.run", "batch.failed_units", int64(1))

	units := 0
	for _, s := range tt.Spans() {
		if s.Name() == "batch.unit" {
			units++
		}
	}
	assert.Equal(t, 2, units)

	rm, err := tt.Collect(context.Background())
	require.NoError(t, err)
	m, ok := telemetry.FindMetric(rm, "recd.batch.units_total")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)
}
