// Package timewindow computes the rolling and calendar-aligned time ranges that usage
// reports are built over.
//
// # Overview
//
// Every function takes "now" as an argument and never reads the clock itself, so the
// same input always yields the same window. Windows are half-open: [Start, End).
//
// Rolling windows:
//
//	timewindow.RoundedHour(now)      // 14:10 -> 15:00, 15:00 -> 15:00
//	timewindow.HourlyWindow(now, 24) // [yesterday 15:00, today 15:00)
//
// Calendar-aligned windows (all in now's location):
//
//	timewindow.TodayWindow(now)     // [today 00:00, tomorrow 00:00)
//	timewindow.YesterdayWindow(now) // [yesterday 00:00, today 00:00)
//	timewindow.WeeklyWindow(now)    // previous Monday-to-Monday week
//	timewindow.MonthlyWindow(now)   // previous calendar month
//	timewindow.YearlyWindow(now)    // previous calendar year
//
// Month and year arithmetic goes through time.Date/AddDate so that months of
// different lengths and DST transitions never shift a boundary.
package timewindow
