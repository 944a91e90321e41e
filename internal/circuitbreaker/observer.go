package circuitbreaker

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives breaker events as a side effect; implementations
// must not block and have no bearing on control flow.
type Observer interface {
	OnStateChange(name string, from, to State)
	OnOutcome(name string, success bool, duration time.Duration)
	OnRejection(name string)
}

// LogObserver emits breaker events as structured log records.
type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) OnStateChange(name string, from, to State) {
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}

	l.logger.Log(context.Background(), level, "Circuit breaker state changed",
		slog.String("breaker", name),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
}

func (l *LogObserver) OnOutcome(name string, success bool, duration time.Duration) {
	l.logger.Debug("Circuit breaker outcome",
		slog.String("breaker", name),
		slog.Bool("success", success),
		slog.Duration("duration", duration))
}

func (l *LogObserver) OnRejection(name string) {
	l.logger.Debug("Circuit breaker rejected request",
		slog.String("breaker", name))
}
