package progress

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATS(t *testing.T) (*natsserver.Server, *nats.Conn) {
	t.Helper()
	ns, err := StartEmbedded()
	require.NoError(t, err)
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return ns, nc
}

func nextEvent(t *testing.T, sub *nats.Subscription) (string, Event) {
	t.Helper()
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	return msg.Subject, ev
}

func TestPublisher_SubjectsAndSequence(t *testing.T) {
	_, nc := startTestNATS(t)

	p, err := NewPublisher(nc, "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPrefix, p.Prefix())

	sub, err := nc.SubscribeSync(Wildcard(p.Prefix()))
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	a, b := uuid.NewString(), uuid.NewString()
	ctx := context.Background()
	p.Publish(ctx, Event{BatchID: a, Status: StatusStarted, Total: 2})
	p.Publish(ctx, Event{BatchID: b, Status: StatusStarted})
	p.Publish(ctx, Event{BatchID: a, Status: StatusProcessing, Total: 2, CurrentModel: "gpt-4o"})
	p.Publish(ctx, Event{BatchID: a, Status: StatusCompleted, Total: 2, Completed: 2, Percentage: 100})
	p.Publish(ctx, Event{BatchID: a, Status: StatusStarted})

	want := []struct {
		subject string
		batch   string
		seq     uint64
		status  Status
	}{
		{"progress." + a, a, 1, StatusStarted},
		{"progress." + b, b, 1, StatusStarted},
		{"progress." + a, a, 2, StatusProcessing},
		{"progress." + a, a, 3, StatusCompleted},
		{"progress." + a, a, 1, StatusStarted},
	}
	for _, w := range want {
		subject, ev := nextEvent(t, sub)
		assert.Equal(t, w.subject, subject)
		assert.Equal(t, w.batch, ev.BatchID)
		assert.Equal(t, w.seq, ev.Seq)
		assert.Equal(t, w.status, ev.Status)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestPublisher_NoSubscribersDoesNotBlock(t *testing.T) {
	_, nc := startTestNATS(t)
	p, err := NewPublisher(nc, "progress", nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			p.Publish(context.Background(), Event{BatchID: "x", Status: StatusProcessing})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publishing without observers blocked")
	}
}

func TestPublisher_ClosedConnectionIsDropped(t *testing.T) {
	_, nc := startTestNATS(t)
	p, err := NewPublisher(nc, "progress", nil)
	require.NoError(t, err)

	nc.Close()
	assert.NotPanics(t, func() {
		p.Publish(context.Background(), Event{BatchID: "x", Status: StatusFailed})
	})
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(nil, "progress", nil)
	assert.Error(t, err)

	_, nc := startTestNATS(t)
	for _, prefix := range []string{"a b", "a.>", "a.*", ".a", "a.", "a..b"} {
		_, err := NewPublisher(nc, prefix, nil)
		assert.Error(t, err, prefix)
	}
	_, err = NewPublisher(nc, "recd.progress", nil)
	assert.NoError(t, err)
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusStarted.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusCompiling.Terminal())
}

type sseFrame struct {
	Event string
	Data  string
}

func parseFrames(t *testing.T, body string) ([]sseFrame, int) {
	t.Helper()
	var (
		frames     []sseFrame
		cur        sseFrame
		heartbeats int
	)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == ": heartbeat":
			heartbeats++
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.Event != "":
			frames = append(frames, cur)
			cur = sseFrame{}
		}
	}
	return frames, heartbeats
}

// serveSSE runs the handler in the background and waits until it has
// subscribed.
func serveSSE(t *testing.T, ns *natsserver.Server, h echo.HandlerFunc, target string) (*httptest.ResponseRecorder, context.CancelFunc, <-chan error) {
	t.Helper()
	e := echo.New()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	base := ns.NumSubscriptions()
	done := make(chan error, 1)
	go func() {
		done <- h(e.NewContext(req, rec))
	}()
	require.Eventually(t, func() bool { return ns.NumSubscriptions() > base }, 2*time.Second, 5*time.Millisecond)
	return rec, cancel, done
}

func TestHandler_FilteredStreamEndsOnCompletion(t *testing.T) {
	ns, nc := startTestNATS(t)
	p, err := NewPublisher(nc, "progress", nil)
	require.NoError(t, err)

	batch, other := uuid.NewString(), uuid.NewString()
	h := Handler(nc, HandlerConfig{Prefix: "progress", Heartbeat: time.Hour})
	rec, cancel, done := serveSSE(t, ns, h, "/api/v1/progress?batch="+batch)
	defer cancel()

	ctx := context.Background()
	p.Publish(ctx, Event{BatchID: batch, Status: StatusStarted, Total: 1})
	p.Publish(ctx, Event{BatchID: other, Status: StatusStarted, Total: 5})
	p.Publish(ctx, Event{BatchID: batch, Status: StatusProcessing, Total: 1, CurrentProduct: "Mug"})
	p.Publish(ctx, Event{BatchID: batch, Status: StatusCompiling, Total: 1, Completed: 1, Percentage: 100})
	p.Publish(ctx, Event{BatchID: batch, Status: StatusCompleted, Total: 1, Completed: 1, Percentage: 100, Artifact: "r.xlsx"})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not return after the completed event")
	}

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	frames, _ := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 4)
	statuses := make([]string, len(frames))
	for i, f := range frames {
		statuses[i] = f.Event
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(f.Data), &ev))
		assert.Equal(t, batch, ev.BatchID)
		assert.EqualValues(t, i+1, ev.Seq)
	}
	assert.Equal(t, []string{"started", "processing", "compiling", "completed"}, statuses)
}

func TestHandler_BroadcastStreamWithHeartbeat(t *testing.T) {
	ns, nc := startTestNATS(t)
	p, err := NewPublisher(nc, "progress", nil)
	require.NoError(t, err)

	h := Handler(nc, HandlerConfig{Prefix: "progress", Heartbeat: 10 * time.Millisecond})
	rec, cancel, done := serveSSE(t, ns, h, "/api/v1/progress")

	a, b := uuid.NewString(), uuid.NewString()
	p.Publish(context.Background(), Event{BatchID: a, Status: StatusCompleted})
	p.Publish(context.Background(), Event{BatchID: b, Status: StatusFailed, Message: "boom"})
	require.NoError(t, nc.Flush())

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after client disconnect")
	}

	frames, heartbeats := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 2, "broadcast stream stays open across terminal events")
	assert.Equal(t, "completed", frames[0].Event)
	assert.Equal(t, "failed", frames[1].Event)
	assert.Greater(t, heartbeats, 0)
}

func TestHandler_SkipsMalformedMessages(t *testing.T) {
	ns, nc := startTestNATS(t)
	batch := uuid.NewString()

	h := Handler(nc, HandlerConfig{})
	rec, cancel, done := serveSSE(t, ns, h, "/api/v1/progress?batch="+batch)
	defer cancel()

	require.NoError(t, nc.Publish(Subject(DefaultPrefix, batch), []byte("not json")))
	require.NoError(t, nc.Publish(Subject(DefaultPrefix, batch), []byte(`{"batch_id":"x"}`)))
	require.NoError(t, nc.Publish(Subject(DefaultPrefix, batch), []byte(`{"batch_id":"`+batch+`","status":"failed"}`)))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not return")
	}
	frames, _ := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "failed", frames[0].Event)
}

func TestHandler_RejectsInvalidBatch(t *testing.T) {
	_, nc := startTestNATS(t)
	h := Handler(nc, HandlerConfig{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress?batch=not-a-uuid", nil)
	rec := httptest.NewRecorder()
	err := h(e.NewContext(req, rec))

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}
