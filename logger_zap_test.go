package igauth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Warn("profile fetch failed", "provider", "instagram", "status", 500)
	logger.Debug("debug line")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "profile fetch failed", entries[0].Message)
	assert.Equal(t, map[string]any{"provider": "instagram", "status": int64(500)}, entries[0].ContextMap())
}

func TestBuildZap(t *testing.T) {
	l, err := BuildZap("debug", "console")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = BuildZap("warn", "json")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = BuildZap("loud", "json")
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = BuildZap("info", "xml")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestFlowNeverLogsTokens(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	states := newMemoryStates()
	flow := NewFlow(&stubProvider{
		upgrade: func(string) (*TokenResponse, error) {
			return nil, errors.New("upgrade down")
		},
	}, states, newMemoryStore(nil),
		WithFlowLogger(logger),
		WithStateGenerator(func() (string, error) { return "s", nil }),
	)

	redirect, err := flow.Begin(context.Background())
	require.NoError(t, err)
	_, err = flow.Complete(context.Background(), Callback{Code: "c", State: redirect.State, Carrier: redirect.Carrier})
	require.NoError(t, err)

	require.NotEmpty(t, logs.FilterMessage("long-lived upgrade failed, using short-lived token").All())
	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, "short-token")
		for _, field := range entry.Context {
			assert.NotContains(t, field.String, "short-token")
			if field.Interface != nil {
				assert.NotContains(t, fmt.Sprint(field.Interface), "short-token")
			}
		}
	}
}

func TestRecordActivityLogsSinkFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := ActivitySinkFunc(func(context.Context, ActivityEvent) error { return errors.New("queue full") })

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recordActivity(context.Background(), sink, NewZapLogger(zap.New(core)), fixedClock(now), ActivityEvent{
		EventType: ActivityEventTokenRefreshed,
	})

	assert.Equal(t, 1, logs.FilterMessage("activity sink error").Len())
}
