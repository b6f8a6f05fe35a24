package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_DefaultLadder(t *testing.T) {
	s := DefaultSchedule()

	d, ok := s.Next(0)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, d)

	d, ok = s.Next(1)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, d)

	d, ok = s.Next(2)
	assert.True(t, ok)
	assert.Equal(t, 15*time.Minute, d)

	_, ok = s.Next(3)
	assert.False(t, ok)
	assert.Equal(t, 4, s.MaxAttempts())
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule([]string{"1m", "5m", "15m"})
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule(), s)

	_, err = ParseSchedule([]string{"soon"})
	assert.Error(t, err)

	_, err = ParseSchedule(nil)
	assert.Error(t, err)

	_, err = ParseSchedule([]string{"5m", "1m"})
	assert.Error(t, err)

	_, err = ParseSchedule([]string{"0s"})
	assert.Error(t, err)
}
