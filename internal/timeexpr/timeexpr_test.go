package timeexpr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"7 days", 7 * 24 * time.Hour},
		{"1 day", 24 * time.Hour},
		{"3 hours", 3 * time.Hour},
		{"1 day, 3 hours", 27 * time.Hour},
		{"2w 4h", 14*24*time.Hour + 4*time.Hour},
		{"1 hour and 30 minutes", 90 * time.Minute},
		{"1.5 hours", 90 * time.Minute},
		{"45 Seconds", 45 * time.Second},
		{"10days", 10 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	for _, in := range []string{"", "days", "7 fortnights", "7 days garbage", "-3 days"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseDuration(in)
			require.Error(t, err)
			var pe *appErrors.ParseError
			assert.True(t, errors.As(err, &pe))
		})
	}
}

func TestResolve(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	v, err := Resolve("now-7 days", now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -7), v)

	v, err = Resolve("now+3 hours", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(3*time.Hour), v)

	v, err = Resolve("True", now)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Resolve("False", now)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = Resolve("18", now)
	require.NoError(t, err)
	assert.Equal(t, "18", v)

	v, err = Resolve("true", now)
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}

func TestResolve_MalformedDuration(t *testing.T) {
	_, err := Resolve("now-soon", time.Now())
	var pe *appErrors.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "now-soon", pe.Raw)
}
