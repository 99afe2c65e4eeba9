package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	// DefaultPrefix is the subject root for progress events.
	DefaultPrefix = "progress"

	instrumentationName = "github.com/fyrsmithlabs/recd/internal/progress"
)

// Publisher sends events to <prefix>.<batch_id>. It never waits for
// observers; publish failures are logged and dropped.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq map[string]uint64

	published metric.Int64Counter
}

// NewPublisher creates a publisher on an established connection.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) (*Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := validToken(prefix); err != nil {
		return nil, fmt.Errorf("invalid subject prefix: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Publisher{
		nc:     nc,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
		seq:    map[string]uint64{},
	}

	var err error
	p.published, err = otel.Meter(instrumentationName).Int64Counter(
		"recd.progress.published_total",
		metric.WithDescription("Progress events handed to NATS, by status."),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		logger.Warn("failed to create progress counter", zap.Error(err))
	}
	return p, nil
}

// Prefix returns the subject root.
func (p *Publisher) Prefix() string { return p.prefix }

// Subject returns the subject for one batch.
func (p *Publisher) Subject(batchID string) string {
	return Subject(p.prefix, batchID)
}

// Publish stamps ev with the next per-batch sequence number and the current
// time, then broadcasts it.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	ev.Seq = p.nextSeq(ev.BatchID, ev.Status.Terminal())
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal progress event", zap.String("batch_id", ev.BatchID), zap.Error(err))
		return
	}

	if err := p.nc.Publish(p.Subject(ev.BatchID), data); err != nil {
		p.logger.Warn("publish progress event",
			zap.String("batch_id", ev.BatchID),
			zap.String("status", string(ev.Status)),
			zap.Error(err),
		)
		return
	}

	if p.published != nil {
		p.published.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(ev.Status))))
	}
}

// nextSeq returns the next number for batchID. Terminal events release the
// counter.
func (p *Publisher) nextSeq(batchID string, terminal bool) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.seq[batchID] + 1
	if terminal {
		delete(p.seq, batchID)
	} else {
		p.seq[batchID] = n
	}
	return n
}

// Subject returns <prefix>.<batchID>.
func Subject(prefix, batchID string) string {
	return prefix + "." + batchID
}

// Wildcard returns the subject matching every batch under prefix.
func Wildcard(prefix string) string {
	return prefix + ".>"
}

func validToken(s string) error {
	if strings.ContainsAny(s, " \t\r\n*>") {
		return fmt.Errorf("%q contains whitespace or wildcards", s)
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") || strings.Contains(s, "..") {
		return fmt.Errorf("%q has an empty token", s)
	}
	return nil
}
