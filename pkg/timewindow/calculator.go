package timewindow

import "time"

// RoundedHour rounds now up to the next full hour. A value already on the hour is
// returned unchanged.
func RoundedHour(now time.Time) time.Time {
	hour := truncateToHour(now)
	if hour.Equal(now) {
		return hour
	}
	return hour.Add(time.Hour)
}

// HourlyWindow returns the rolling window of the given length ending at the rounded
// hour. The end is never before now: a request at 14:10 covers up to 15:00 and a
// request at 23:30 covers up to 00:00 of the next day.
func HourlyWindow(now time.Time, hours int) Window {
	end := RoundedHour(now)
	return Window{
		Start: end.Add(-time.Duration(hours) * time.Hour),
		End:   end,
	}
}

// TodayWindow covers the calendar day containing now
func TodayWindow(now time.Time) Window {
	start := Midnight(now)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// YesterdayWindow covers the calendar day before now
func YesterdayWindow(now time.Time) Window {
	end := Midnight(now)
	return Window{Start: end.AddDate(0, 0, -1), End: end}
}

// WeeklyWindow covers the last completed Monday-to-Monday week. The week containing
// now is never included, even on a Sunday evening.
func WeeklyWindow(now time.Time) Window {
	end := MondayOf(now)
	return Window{Start: end.AddDate(0, 0, -7), End: end}
}

// MonthlyWindow covers the previous calendar month
func MonthlyWindow(now time.Time) Window {
	end := FirstOfMonth(now)
	return Window{Start: end.AddDate(0, -1, 0), End: end}
}

// YearlyWindow covers the previous calendar year
func YearlyWindow(now time.Time) Window {
	end := FirstOfYear(now)
	return Window{Start: end.AddDate(-1, 0, 0), End: end}
}

// Midnight returns 00:00 of now's calendar day in now's location
func Midnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// MondayOf returns 00:00 on the Monday of now's ISO week
func MondayOf(now time.Time) time.Time {
	// time.Weekday starts on Sunday; shift so Monday is 0
	offset := (int(now.Weekday()) + 6) % 7
	return Midnight(now).AddDate(0, 0, -offset)
}

// FirstOfMonth returns 00:00 on the first day of now's month
func FirstOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}

// FirstOfYear returns 00:00 on January 1st of now's year
func FirstOfYear(now time.Time) time.Time {
	return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
}

// truncateToHour steps back to the start of t's wall-clock hour in absolute time,
// so a repeated hour at a daylight saving fall-back keeps t's offset.
func truncateToHour(t time.Time) time.Time {
	into := time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
	return t.Add(-into)
}
