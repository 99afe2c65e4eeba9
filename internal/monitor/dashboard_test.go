package monitor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recd/internal/progress"
)

const testBatch = "2f3c8f4e-95a4-4c1e-9d8a-1c2b3d4e5f60"

type sliceSource struct {
	mu     sync.Mutex
	events []progress.Event
	err    error
}

func (s *sliceSource) Next() (progress.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		if s.err != nil {
			return progress.Event{}, s.err
		}
		return progress.Event{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

// batchEvents builds the event sequence of a 2-unit batch whose units take
// 1.5s and 2s.
func batchEvents() []progress.Event {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []progress.Event{
		{BatchID: testBatch, Seq: 1, Status: progress.StatusStarted, Total: 2, Timestamp: t0},
		{BatchID: testBatch, Seq: 2, Status: progress.StatusProcessing, Total: 2, CurrentProduct: "Mug", CurrentModel: "gpt-4o", Iteration: 1, Timestamp: t0},
		{BatchID: testBatch, Seq: 3, Status: progress.StatusProcessing, Completed: 1, Total: 2, Percentage: 50, CurrentProduct: "Lamp", CurrentModel: "gpt-4o", Iteration: 1, Timestamp: t0.Add(1500 * time.Millisecond)},
		{BatchID: testBatch, Seq: 4, Status: progress.StatusCompiling, Completed: 2, Total: 2, Percentage: 100, Timestamp: t0.Add(3500 * time.Millisecond)},
		{BatchID: testBatch, Seq: 5, Status: progress.StatusCompleted, Completed: 2, Total: 2, Percentage: 100, Artifact: "r.xlsx", Timestamp: t0.Add(4 * time.Second)},
	}
}

func feed(t *testing.T, m Model, events []progress.Event) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, ev := range events {
		var next tea.Model
		next, cmd = m.Update(eventMsg(ev))
		m = next.(Model)
	}
	return m, cmd
}

func TestNewModel(t *testing.T) {
	src := &sliceSource{}
	m := NewModel(testBatch, src)
	assert.Equal(t, testBatch, m.batchID)
	assert.False(t, m.quitting)
	assert.NotNil(t, m.Init())
	assert.Contains(t, m.View(), "WAITING")
	assert.Contains(t, m.View(), "no data")
}

func TestModel_Update_QuitKey(t *testing.T) {
	m := NewModel("", &sliceSource{})

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	assert.True(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, updated.(Model).View())
}

func TestModel_Update_Events(t *testing.T) {
	events := batchEvents()
	m := NewModel(testBatch, &sliceSource{})

	m, cmd := feed(t, m, events[:3])
	assert.NotNil(t, cmd, "keeps reading while the batch runs")
	assert.False(t, m.done)
	assert.Equal(t, []float64{1.5}, m.latency)

	view := m.View()
	assert.Contains(t, view, "1/2 (50%)")
	assert.Contains(t, view, "Lamp · gpt-4o #1")
	assert.Contains(t, view, "PROCESSING")

	m, cmd = feed(t, m, events[3:])
	assert.True(t, m.done)
	assert.NotNil(t, cmd)
	assert.Equal(t, []float64{1.5, 2}, m.latency)
	assert.Equal(t, progress.StatusCompleted, m.Last().Status)

	view = m.View()
	assert.Contains(t, view, "COMPLETED")
	assert.Contains(t, view, "r.xlsx")
}

func TestModel_BroadcastKeepsReadingAfterTerminal(t *testing.T) {
	m := NewModel("", &sliceSource{})
	m, _ = feed(t, m, batchEvents())
	assert.False(t, m.done)
	assert.Contains(t, m.View(), testBatch)
}

func TestModel_LogTail(t *testing.T) {
	m := NewModel("", &sliceSource{})
	for i := 0; i < 20; i++ {
		m = m.apply(progress.Event{BatchID: "b", Status: progress.StatusProcessing, Completed: i, Total: 20})
	}
	require.Len(t, m.log, logTail)
	assert.Contains(t, m.log[logTail-1], "19/20")
}

func TestModel_StreamError(t *testing.T) {
	m := NewModel(testBatch, &sliceSource{})

	updated, cmd := m.Update(streamErrMsg{err: io.EOF})
	assert.True(t, updated.(Model).done)
	assert.NoError(t, updated.(Model).Err())
	assert.NotNil(t, cmd)

	updated, _ = m.Update(streamErrMsg{err: errors.New("connection reset")})
	assert.EqualError(t, updated.(Model).Err(), "connection reset")
	assert.Contains(t, updated.(Model).View(), "connection reset")
}

func TestAppendToHistory(t *testing.T) {
	var h []float64
	for i := 0; i < historySize+5; i++ {
		h = appendToHistory(h, float64(i))
	}
	require.Len(t, h, historySize)
	assert.Equal(t, 5.0, h[0])
}

func TestRun_Headless(t *testing.T) {
	src := &sliceSource{events: batchEvents()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	last, err := Run(ctx, testBatch, src,
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
		tea.WithoutRenderer(),
	)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCompleted, last.Status)
	assert.Equal(t, "r.xlsx", last.Artifact)
}

func TestRunPlain(t *testing.T) {
	t.Run("stops on terminal event for one batch", func(t *testing.T) {
		extra := progress.Event{BatchID: testBatch, Status: progress.StatusStarted}
		src := &sliceSource{events: append(batchEvents(), extra)}

		var out bytes.Buffer
		last, err := RunPlain(context.Background(), testBatch, src, &out)
		require.NoError(t, err)
		assert.Equal(t, progress.StatusCompleted, last.Status)

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 5)
		assert.Contains(t, lines[4], "r.xlsx")
	})

	t.Run("broadcast prefixes batch id and runs to EOF", func(t *testing.T) {
		src := &sliceSource{events: batchEvents()}
		var out bytes.Buffer
		_, err := RunPlain(context.Background(), "", src, &out)
		require.NoError(t, err)
		for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
			assert.True(t, strings.HasPrefix(line, testBatch+" "), line)
		}
	})

	t.Run("stream error", func(t *testing.T) {
		src := &sliceSource{err: errors.New("reset")}
		_, err := RunPlain(context.Background(), testBatch, src, io.Discard)
		assert.EqualError(t, err, "reset")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := RunPlain(ctx, testBatch, &sliceSource{events: batchEvents()}, io.Discard)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
