package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_DisabledWhenNoRates(t *testing.T) {
	l := New(nil)
	for i := 0; i < 1000; i++ {
		assert.True(t, l.Allow("10.0.0.1"))
	}
}

func TestLimiter_EnforcesRate(t *testing.T) {
	l := New(map[time.Duration]int{time.Minute: 2})

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestLimiter_PerClientIPIndependent(t *testing.T) {
	l := New(map[time.Duration]int{time.Minute: 1})

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestLimiter_NilLimiterAlwaysAllows(t *testing.T) {
	var l *Limiter
	assert.True(t, l.Allow("10.0.0.1"))
}
