package model

import "time"

// epoch anchors every Timestamp to the monotonic clock reading captured at
// process start. time.Time retains a monotonic component alongside the wall
// clock; subtracting two time.Time values (or calling time.Since) uses that
// component when both were produced by time.Now(), which is what makes this
// safe against wall-clock steps (NTP adjustments, manual clock changes).
var epoch = time.Now()

func monotonicNow() int64 {
	return int64(time.Since(epoch))
}
