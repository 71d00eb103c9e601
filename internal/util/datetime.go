package util

import (
	"fmt"
	"time"
)

// RunStampLayout names per-run artifacts (log files, reports) so they sort
// chronologically.
const RunStampLayout = "20060102_150405"

// RunStamp formats t for artifact names.
func RunStamp(t time.Time) string {
	return t.Format(RunStampLayout)
}

// FormatDuration renders d as H:MM:SS for run summaries.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
