package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orseries/internal/core/id"
	"orseries/internal/domain/ornumber"
	"orseries/internal/domain/series"
	"orseries/internal/infrastructure/storage/postgres"
	"orseries/pkg/logger"
)

type published struct {
	channel string
	body    []byte
}

type fakeClient struct {
	sent []published
	err  error
}

func (c *fakeClient) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if c.err != nil {
		cmd.SetErr(c.err)
		return cmd
	}
	c.sent = append(c.sent, published{channel: channel, body: message.([]byte)})
	cmd.SetVal(1)
	return cmd
}

func TestEventPublisher_Handle(t *testing.T) {
	client := &fakeClient{}
	p := NewEventPublisher(client, "orseries.events", logger.Nop())

	msg := &postgres.OutboxMessage{
		ID:            id.New(),
		AggregateType: "or_number_generation",
		AggregateID:   "42",
		EventType:     ornumber.EventGenerated,
		Payload:       []byte(`{"or_number":"OR000001"}`),
		CreatedAt:     time.Date(2025, 10, 14, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Handle(context.Background(), msg))
	require.Len(t, client.sent, 1)
	assert.Equal(t, "orseries.events", client.sent[0].channel)

	var env Envelope
	require.NoError(t, json.Unmarshal(client.sent[0].body, &env))
	assert.Equal(t, msg.ID.String(), env.ID)
	assert.Equal(t, ornumber.EventGenerated, env.EventType)
	assert.Equal(t, "42", env.AggregateID)
	assert.JSONEq(t, `{"or_number":"OR000001"}`, string(env.Payload))
	assert.True(t, msg.CreatedAt.Equal(env.CreatedAt))
}

func TestEventPublisher_EmptyPayload(t *testing.T) {
	env := NewEnvelope(&postgres.OutboxMessage{ID: id.New(), EventType: "x"})
	body, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"payload":null`)
}

func TestEventPublisher_ReturnsPublishError(t *testing.T) {
	client := &fakeClient{err: errors.New("connection reset")}
	p := NewEventPublisher(client, "orseries.events", logger.Nop())

	err := p.Handle(context.Background(), &postgres.OutboxMessage{ID: id.New(), EventType: ornumber.EventUsed})
	assert.ErrorContains(t, err, "connection reset")
}

func TestAlertPublisher_Notify(t *testing.T) {
	client := &fakeClient{}
	p := NewAlertPublisher(client, "orseries.alerts")

	w := ornumber.NewNearLimitWarning(series.Statistics{
		SeriesID:         3,
		SeriesName:       "FY2025",
		EndNumber:        lo.ToPtr(int64(100)),
		UsagePercentage:  100,
		RemainingNumbers: lo.ToPtr(int64(0)),
		IsNearLimit:      true,
		HasReachedLimit:  true,
	})
	require.NoError(t, p.Notify(context.Background(), w))
	require.Len(t, client.sent, 1)

	var got map[string]any
	require.NoError(t, json.Unmarshal(client.sent[0].body, &got))
	assert.Equal(t, ornumber.LevelCritical, got["level"])
	assert.Equal(t, float64(3), got["series_id"])
	assert.Equal(t, true, got["has_reached_limit"])
}
