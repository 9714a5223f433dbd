package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDelay(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 0},
		{"0", 0},
		{" 2d ", 48 * time.Hour},
		{"1d", 24 * time.Hour},
		{"30m", 30 * time.Minute},
		{"1h30m", 90 * time.Minute},
		{"45s", 45 * time.Second},
	}
	for _, tc := range tests {
		got, err := ParseDelay(tc.raw)
		require.NoError(t, err, "delay %q", tc.raw)
		require.Equal(t, tc.want, got, "delay %q", tc.raw)
	}
}

func TestParseDelayRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"xd", "-1d", "-30m", "2 days", "later"} {
		_, err := ParseDelay(raw)
		require.Error(t, err, "delay %q", raw)
	}
}
