// Package events implements the observability surface (spec.md §4.J): one
// structured RequestEvent per proxied request, emitted through an
// EventSink regardless of outcome.
package events

import (
	"context"
	"log/slog"
	"time"
)

// RequestEvent is the fixed set of fields emitted for every proxied
// request, independent of success or failure.
type RequestEvent struct {
	RequestID  string
	Timestamp  time.Time
	Level      slog.Level
	Message    string
	ClientIP   string
	MirrorHost string
	OriginURL  string
	StatusCode int
	LatencyMs  int64
	UserAgent  string
}

// Sink consumes RequestEvents. Implementations must not block the request
// they're reporting on for longer than a logging call would.
type Sink interface {
	Emit(evt RequestEvent)
}

// SlogSink writes each RequestEvent as one structured log line, the
// line-delimited encoding spec.md §4.J asks for.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink wraps a *slog.Logger tagged with logger="proxy" so its
// lines are distinguishable from the rest of the service's logging.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger.With("logger", "proxy")}
}

// Emit logs evt at its configured level with a fixed key set.
func (s *SlogSink) Emit(evt RequestEvent) {
	s.logger.Log(context.Background(), evt.Level, evt.Message,
		"request_id", evt.RequestID,
		"timestamp", evt.Timestamp,
		"client_ip", evt.ClientIP,
		"mirror_host", evt.MirrorHost,
		"origin_url", evt.OriginURL,
		"status_code", evt.StatusCode,
		"latency_ms", evt.LatencyMs,
		"user_agent", evt.UserAgent,
	)
}
