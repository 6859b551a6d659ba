package overview

import "time"

// parseISODate parses YYYY-MM-DD, returning the zero time for empty or
// malformed input.
func parseISODate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func monthFloor(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// shiftMonths moves a date by whole calendar months, clamping the day to the
// target month's length (Jan 31 - 1 month = Dec 31, Mar 31 - 1 = Feb 28/29).
func shiftMonths(d time.Time, months int) time.Time {
	monthIndex := int(d.Month()) - 1 + months
	year := d.Year() + monthIndex/12
	monthIndex %= 12
	if monthIndex < 0 {
		monthIndex += 12
		year--
	}
	month := time.Month(monthIndex + 1)
	day := d.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// monthsBetween counts calendar months from start to end inclusive; both are
// expected to be month floors. end before start yields 0.
func monthsBetween(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month()) + 1
}

// daysBetween returns whole days from a to b. Dates parsed by parseISODate
// are UTC midnights, so the division is exact.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
