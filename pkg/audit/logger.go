package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openclave/gatehouse/pkg/observability"
)

// Logger records audit events. Implementations must be safe for concurrent
// use.
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

type contextKey string

const loggerKey contextKey = "audit_logger"

// WithLogger attaches an audit logger to the context.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the audit logger from the context, or a no-op logger
// when none is attached, so call sites never need a nil check.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return Nop{}
}

// Nop is a Logger that discards every event.
type Nop struct{}

func (Nop) Log(ctx context.Context, event *Event) error { return nil }
func (Nop) Close() error                                { return nil }

// NewEvent builds an event stamped with the current time and whatever request
// context is available: client address, user agent, and the request ID and
// account carried in the context. The caller fills the domain fields.
func NewEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *Event {
	event := &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: observability.GetRequestID(ctx),
		AccountID: observability.GetAccountID(ctx),
	}
	if r != nil {
		event.IPAddress = ClientIP(r)
		event.UserAgent = r.UserAgent()
	}
	return event
}

// ClientIP extracts the originating client address, preferring the first hop
// recorded by proxies over the socket peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// Multi fans every event out to several loggers, for deployments that keep
// the trail in Postgres and mirror it to the application log. Logging is
// synchronous; the first failure is returned after all loggers ran.
type Multi struct {
	loggers []Logger
}

// NewMulti combines loggers into one.
func NewMulti(loggers ...Logger) *Multi {
	return &Multi{loggers: loggers}
}

// Log sends the event to every logger.
func (m *Multi) Log(ctx context.Context, event *Event) error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every logger.
func (m *Multi) Close() error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogMirror copies audit events into the structured application log so they
// show up in log pipelines without a database query.
type LogMirror struct {
	logger *observability.Logger
}

// NewLogMirror builds a mirror writing through the given logger.
func NewLogMirror(logger *observability.Logger) *LogMirror {
	return &LogMirror{logger: logger}
}

// Log writes one event at info level.
func (m *LogMirror) Log(ctx context.Context, event *Event) error {
	entry := m.logger.
		WithField("audit_event", string(event.EventType)).
		WithField("status", string(event.Status))
	if event.Provider != "" {
		entry = entry.WithField("provider", event.Provider)
	}
	if event.AccountID != "" {
		entry = entry.WithField("account_id", event.AccountID)
	}
	if event.IPAddress != "" {
		entry = entry.WithField("ip_address", event.IPAddress)
	}
	if event.ErrorMessage != "" {
		entry = entry.WithField("error", event.ErrorMessage)
	}
	entry.Info(event.Message)
	return nil
}

// Close is a no-op; the underlying logger is shared.
func (m *LogMirror) Close() error { return nil }
