package igauth

import (
	"context"
	"time"
)

// ActivityEventType enumerates credential lifecycle events.
type ActivityEventType string

const (
	ActivityEventAccountConnected    ActivityEventType = "account.connected"
	ActivityEventConnectFailed       ActivityEventType = "account.connect.failed"
	ActivityEventTokenRefreshed      ActivityEventType = "token.refreshed"
	ActivityEventTokenRefreshFailed  ActivityEventType = "token.refresh.failed"
	ActivityEventAccountDisconnected ActivityEventType = "account.disconnected"
)

// ActivityEvent captures an audit record. Metadata never holds token material.
type ActivityEvent struct {
	EventType         ActivityEventType
	Provider          string
	ExternalAccountID string
	Metadata          map[string]any
	OccurredAt        time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity emits best effort; sink failures are logged and dropped.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now()
	}
	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink error", "event", string(event.EventType), "error", err)
	}
}
