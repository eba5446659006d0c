package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, int64(0), GetUserID(ctx))
	assert.False(t, IsAdmin(ctx))

	ctx = WithUser(ctx, &UserContext{UserID: 42, Roles: []string{RoleCashier}})
	assert.Equal(t, int64(42), GetUserID(ctx))
	assert.True(t, HasRole(ctx, RoleCashier))
	assert.False(t, IsAdmin(ctx))
}

func TestTraceContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))

	tc := NewTraceContext()
	ctx = WithTrace(ctx, tc)
	assert.Equal(t, tc.RequestID, GetRequestID(ctx))
	assert.Len(t, tc.SpanID, 16)
}

func TestNewTraceContextFrom_KeepsGivenIDs(t *testing.T) {
	tc := NewTraceContextFrom("trace-1", "", "req-1")
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "req-1", tc.RequestID)
	assert.Len(t, tc.SpanID, 16)

	other := NewTraceContext()
	assert.NotEqual(t, tc.SpanID, other.SpanID)
	assert.NotEqual(t, other.TraceID, other.RequestID)
}
