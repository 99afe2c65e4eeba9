package progress

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultHeartbeat is the interval between keep-alive comments.
const DefaultHeartbeat = 30 * time.Second

// HandlerConfig configures the SSE endpoint.
type HandlerConfig struct {
	Prefix    string
	Heartbeat time.Duration
	Logger    *zap.Logger
}

// Handler streams progress events as Server-Sent Events.
//
// Without a query the stream carries every batch. With ?batch=<id> it carries
// one batch and ends after that batch's completed or failed event.
//
//	GET /api/v1/progress?batch=6f1c...
//
//	event: processing
//	data: {"batch_id":"6f1c...","seq":2,"completed":0,"total":8,...}
func Handler(nc *nats.Conn, cfg HandlerConfig) echo.HandlerFunc {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c echo.Context) error {
		batchID := c.QueryParam("batch")
		subject := Wildcard(cfg.Prefix)
		if batchID != "" {
			if _, err := uuid.Parse(batchID); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "batch must be a UUID")
			}
			subject = Subject(cfg.Prefix, batchID)
		}

		msgs := make(chan *nats.Msg, 64)
		sub, err := nc.ChanSubscribe(subject, msgs)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		defer func() {
			_ = sub.Unsubscribe()
		}()
		// Make sure the server has the subscription before the first frame.
		if err := nc.Flush(); err != nil {
			return fmt.Errorf("flush subscription: %w", err)
		}

		w := c.Response()
		w.Header().Set(echo.HeaderContentType, "text/event-stream")
		w.Header().Set(echo.HeaderCacheControl, "no-cache")
		w.Header().Set(echo.HeaderConnection, "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, ": connected\n\n")
		w.Flush()

		ticker := time.NewTicker(cfg.Heartbeat)
		defer ticker.Stop()

		ctx := c.Request().Context()
		for {
			select {
			case msg := <-msgs:
				var head struct {
					Status Status `json:"status"`
				}
				if err := json.Unmarshal(msg.Data, &head); err != nil || head.Status == "" {
					logger.Debug("skipping malformed progress message", zap.String("subject", msg.Subject))
					continue
				}

				_, _ = fmt.Fprintf(w, "event: %s\n", head.Status)
				_, _ = fmt.Fprintf(w, "data: %s\n\n", msg.Data)
				w.Flush()

				if batchID != "" && head.Status.Terminal() {
					return nil
				}

			case <-ticker.C:
				_, _ = fmt.Fprint(w, ": heartbeat\n\n")
				w.Flush()

			case <-ctx.Done():
				return nil
			}
		}
	}
}
