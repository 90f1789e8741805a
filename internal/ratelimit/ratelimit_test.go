package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRejectsFifthAttemptInWindow(t *testing.T) {
	l := NewLocal(DefaultRule)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}
	ok, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok, "other origins are independent")

	now = now.Add(DefaultRule.Window)
	ok, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok, "window elapsed")
}

func TestLocalEvictsIdleBuckets(t *testing.T) {
	l := NewLocal(DefaultRule)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	_, _ = l.Allow(context.Background(), "a")
	now = now.Add(time.Hour)
	_, _ = l.Allow(context.Background(), "b")
	assert.Len(t, l.buckets, 1)
}

type failing struct{}

func (failing) Allow(context.Context, string) (bool, error) { return false, errors.New("down") }

type always bool

func (a always) Allow(context.Context, string) (bool, error) { return bool(a), nil }

func TestFallbackUsesSecondaryOnError(t *testing.T) {
	f := NewFallback(failing{}, always(true), nil)
	ok, err := f.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)

	f = NewFallback(always(false), always(true), nil)
	ok, err = f.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewWithoutRedisIsLocal(t *testing.T) {
	_, ok := New(nil, DefaultRule, nil).(*Local)
	assert.True(t, ok)
}
