package calendar

import (
	"time"

	"github.com/animus-labs/swapval/internal/domain"
)

// usdHolidays follows the Federal Reserve schedule. A holiday on Sunday is
// observed the following Monday; on Saturday the preceding Friday, except
// New Year's Day which is then not observed.
func usdHolidays(year int) []time.Time {
	out := []time.Time{
		nthWeekday(year, time.January, time.Monday, 3),
		nthWeekday(year, time.February, time.Monday, 3),
		lastWeekday(year, time.May, time.Monday),
		nthWeekday(year, time.September, time.Monday, 1),
		nthWeekday(year, time.October, time.Monday, 2),
		nthWeekday(year, time.November, time.Thursday, 4),
		observed(domain.Day(year, time.July, 4)),
		observed(domain.Day(year, time.November, 11)),
		observed(domain.Day(year, time.December, 25)),
	}
	if year >= 2022 {
		out = append(out, observed(domain.Day(year, time.June, 19)))
	}
	if ny := domain.Day(year, time.January, 1); ny.Weekday() != time.Saturday {
		out = append(out, observed(ny))
	}
	return out
}

func targetHolidays(year int) []time.Time {
	easter := easterSunday(year)
	return []time.Time{
		domain.Day(year, time.January, 1),
		easter.AddDate(0, 0, -2),
		easter.AddDate(0, 0, 1),
		domain.Day(year, time.May, 1),
		domain.Day(year, time.December, 25),
		domain.Day(year, time.December, 26),
	}
}

// gbpHolidays covers the England and Wales bank holidays that follow a
// fixed rule. One-off proclamations are added through configuration.
func gbpHolidays(year int) []time.Time {
	easter := easterSunday(year)
	out := []time.Time{
		substitute(domain.Day(year, time.January, 1)),
		easter.AddDate(0, 0, -2),
		easter.AddDate(0, 0, 1),
		nthWeekday(year, time.May, time.Monday, 1),
		lastWeekday(year, time.May, time.Monday),
		lastWeekday(year, time.August, time.Monday),
	}
	christmas := domain.Day(year, time.December, 25)
	boxing := domain.Day(year, time.December, 26)
	switch christmas.Weekday() {
	case time.Friday:
		out = append(out, christmas, boxing.AddDate(0, 0, 2))
	case time.Saturday:
		out = append(out, christmas.AddDate(0, 0, 2), boxing.AddDate(0, 0, 2))
	case time.Sunday:
		out = append(out, christmas.AddDate(0, 0, 2), boxing)
	default:
		out = append(out, christmas, boxing)
	}
	return out
}

func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// substitute moves a weekend holiday to the next Monday.
func substitute(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, 2)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	first := domain.Day(year, month, 1)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+7*(n-1))
}

func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	last := domain.Day(year, month+1, 0)
	offset := (int(last.Weekday()) - int(weekday) + 7) % 7
	return last.AddDate(0, 0, -offset)
}

// easterSunday uses the anonymous Gregorian algorithm.
func easterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return domain.Day(year, time.Month(month), day)
}
