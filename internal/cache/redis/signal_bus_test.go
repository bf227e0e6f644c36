package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalBus_StreamAppendTrims(t *testing.T) {
	c, mock := newMockClient()
	bus := NewSignalBusWithMaxLen(c, 500)
	payload := []byte(`{"status":"filled"}`)

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "swaps",
		MaxLen: 500,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).SetVal("1700000000000-0")

	require.NoError(t, bus.StreamAppend(context.Background(), "swaps", payload))
	expectationsMet(t, mock)
}

func TestSignalBus_DefaultMaxLen(t *testing.T) {
	c, mock := newMockClient()
	bus := NewSignalBusWithMaxLen(c, 0)
	assert.Equal(t, defaultStreamMaxLen, bus.maxLen)

	payload := []byte("x")
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "swaps",
		MaxLen: defaultStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).SetErr(errors.New("OOM"))

	err := bus.StreamAppend(context.Background(), "swaps", payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream append swaps")
	expectationsMet(t, mock)
}

func TestSignalBus_Publish(t *testing.T) {
	c, mock := newMockClient()
	bus := NewSignalBus(c)

	mock.ExpectPublish("plans:updates", []byte("p")).SetVal(1)

	require.NoError(t, bus.Publish(context.Background(), "plans:updates", []byte("p")))
	expectationsMet(t, mock)
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("swaps:*"))
	assert.False(t, hasPattern("swaps:results"))
}
