// Package timeutil provides UTC window alignment and bucket helpers for
// the aggregation and rollup pipelines. All math is on integer epoch
// milliseconds; week alignment is ISO (Monday 00:00 UTC).
package timeutil

import "time"

// Durations in milliseconds.
const (
	MinuteMS = int64(time.Minute / time.Millisecond)
	HourMS   = int64(time.Hour / time.Millisecond)
	DayMS    = 24 * HourMS
	WeekMS   = 7 * DayMS

	// LatenessWindowMS is how long after window close a late reading
	// still triggers a rebuild.
	LatenessWindowMS = DayMS

	// ClockSkewThresholdMS is the event-vs-ingest gap above which a
	// clock-skew warning is emitted.
	ClockSkewThresholdMS = 5 * MinuteMS
)

// AlignMinute truncates a timestamp to its minute boundary.
func AlignMinute(tsMS int64) int64 {
	return tsMS - mod(tsMS, MinuteMS)
}

// AlignHour truncates a timestamp to its hour boundary.
func AlignHour(tsMS int64) int64 {
	return tsMS - mod(tsMS, HourMS)
}

// AlignDay truncates a timestamp to its UTC day boundary.
func AlignDay(tsMS int64) int64 {
	return tsMS - mod(tsMS, DayMS)
}

// AlignWeek truncates a timestamp to the preceding ISO Monday 00:00 UTC.
func AlignWeek(tsMS int64) int64 {
	t := time.UnixMilli(AlignDay(tsMS)).UTC()

	// time.Weekday counts Sunday as 0; ISO weeks start on Monday.
	back := (int(t.Weekday()) + 6) % 7

	return t.UnixMilli() - int64(back)*DayMS
}

// HourWindow returns the half-open hour window [start, end) containing t.
func HourWindow(tsMS int64) (startMS, endMS int64) {
	start := AlignHour(tsMS)

	return start, start + HourMS
}

// DayWindow returns the half-open UTC day window containing t.
func DayWindow(tsMS int64) (startMS, endMS int64) {
	start := AlignDay(tsMS)

	return start, start + DayMS
}

// WeekWindow returns the half-open ISO week window containing t.
func WeekWindow(tsMS int64) (startMS, endMS int64) {
	start := AlignWeek(tsMS)

	return start, start + WeekMS
}

// IsWithinLatenessWindow reports whether a late arrival for a window
// ending at windowEndMS may still trigger a rebuild at nowMS.
func IsWithinLatenessWindow(windowEndMS, nowMS int64) bool {
	return nowMS <= windowEndMS+LatenessWindowMS
}

// CheckClockSkew reports whether the device clock appears to run ahead
// of ingestion by more than the threshold, and by how much.
func CheckClockSkew(eventTimeMS, ingestTimeMS int64) (skew time.Duration, warn bool) {
	deltaMS := eventTimeMS - ingestTimeMS

	return time.Duration(deltaMS) * time.Millisecond, deltaMS > ClockSkewThresholdMS
}

// mod is a floored modulo so pre-epoch timestamps align backwards.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}

	return m
}
