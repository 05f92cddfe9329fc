package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/usagegate/pkg/logger"
)

func TestGroup(t *testing.T) {
	t.Parallel()

	attr := logger.Group("req", slog.String("id", "1"), slog.Int("n", 2))
	require.Equal(t, "req", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "id", g[0].Key)
	assert.Equal(t, "n", g[1].Key)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, err1, g[0].Value.Any())
	assert.Equal(t, err2, g[1].Value.Any())

	assert.True(t, logger.Errors(nil).Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	t.Parallel()

	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestDomainAttrs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		attr  slog.Attr
		key   string
		value any
	}{
		{"user id", logger.UserID("u1"), "user_id", "u1"},
		{"request id", logger.RequestID("abc"), "request_id", "abc"},
		{"feature", logger.Feature("detection"), "feature", "detection"},
		{"plan type", logger.PlanType("monthly"), "plan_type", "monthly"},
		{"subscription ref", logger.SubscriptionRef("sub_1"), "subscription_ref", "sub_1"},
		{"event id", logger.EventID("evt_1"), "event_id", "evt_1"},
		{"event type", logger.EventType("subscription_updated"), "event_type", "subscription_updated"},
		{"outcome", logger.Outcome("applied"), "outcome", "applied"},
		{"affected", logger.Affected(3), "affected", int64(3)},
		{"component", logger.Component("gate"), "component", "gate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.value, tt.attr.Value.Any())
		})
	}
}

func TestEmptyRefsProduceEmptyAttr(t *testing.T) {
	t.Parallel()

	assert.True(t, logger.SubscriptionRef("").Equal(slog.Attr{}))
	assert.True(t, logger.EventID("").Equal(slog.Attr{}))
	assert.True(t, logger.UserID(nil).Equal(slog.Attr{}))
}
