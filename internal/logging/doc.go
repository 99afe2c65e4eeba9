// Package logging provides structured logging for recd.
//
// The package wraps zap with:
//   - a Trace level (-2, below Debug)
//   - stdout output plus an optional OpenTelemetry log bridge
//   - context field injection (trace_id, span_id, request.id, batch.id)
//   - key and pattern based secret redaction
//   - sampling below error level
//
// # Usage
//
//	cfg, err := logging.NewConfig("debug", "console")
//	logger, err := logging.NewLogger(cfg, nil)
//	defer logger.Sync()
//
//	ctx = logging.WithBatchID(ctx, batchID)
//	logger.Info(ctx, "batch started", zap.Int("units", total))
//
// Output:
//
//	{"level":"info","ts":"2025-11-24T10:15:30Z","msg":"batch started","batch.id":"4b1f...","units":12}
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	svc := NewService(tl.Logger)
//	tl.AssertLogged(t, zapcore.InfoLevel, "batch started")
//	tl.AssertNoSecrets(t, apiKey)
package logging
