package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDaily(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	next := NextDaily(now, 23, 0)
	assert.Equal(t, time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC), next)

	// target already passed today rolls to tomorrow
	next = NextDaily(now, 9, 30)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC), next)

	// exactly at the target also rolls forward
	at := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	next = NextDaily(at, 23, 0)
	assert.Equal(t, time.Date(2026, 3, 11, 23, 0, 0, 0, time.UTC), next)
}

func TestCutoff(t *testing.T) {
	cutoff := Cutoff(3)
	expected := time.Now().UTC().Add(-3 * 24 * time.Hour)
	assert.WithinDuration(t, expected, cutoff, time.Second)
}
