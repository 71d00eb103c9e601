package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLines(t *testing.T) {
	got := Lines([]byte("first\r\n\r\n  \nsecond\nthird"))
	assert.Equal(t, []string{"first", "second", "third"}, got)
	assert.Empty(t, Lines(nil))
}

func TestCountContaining(t *testing.T) {
	lines := []string{
		"The system cannot find the file specified.",
		"Access is denied.",
		"the system CANNOT FIND THE FILE specified.",
	}
	assert.Equal(t, 2, CountContaining(lines, "cannot find the file"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00:00", FormatDuration(-time.Second))
	assert.Equal(t, "0:01:05", FormatDuration(65*time.Second))
	assert.Equal(t, "2:03:04", FormatDuration(2*time.Hour+3*time.Minute+4*time.Second+200*time.Millisecond))
}

func TestRunStamp(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC)
	assert.Equal(t, "20240309_070501", RunStamp(ts))
}
