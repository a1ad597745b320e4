package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterMarkAndExpire(t *testing.T) {
	l := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	limited, _ := l.Limited("openai", now)
	assert.False(t, limited)

	l.Mark("openai", 300*time.Second, now)

	limited, until := l.Limited("openai", now.Add(100*time.Second))
	require.True(t, limited)
	assert.Equal(t, now.Add(300*time.Second), until)

	limited, _ = l.Limited("openai", now.Add(301*time.Second))
	assert.False(t, limited, "limiter must clear once retryAfter has elapsed")
}

func TestLimiterIsPerProvider(t *testing.T) {
	l := New()
	now := time.Now()
	l.Mark("openai", time.Hour, now)

	limitedA, _ := l.Limited("openai", now)
	limitedB, _ := l.Limited("anthropic", now)
	assert.True(t, limitedA)
	assert.False(t, limitedB)
}

func TestLimiterClear(t *testing.T) {
	l := New()
	now := time.Now()
	l.Mark("openai", time.Hour, now)
	l.Clear("openai")
	limited, _ := l.Limited("openai", now)
	assert.False(t, limited)
}
