package logging

import (
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug for per-attempt provider chatter.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, including "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
