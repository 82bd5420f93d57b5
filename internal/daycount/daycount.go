// Package daycount converts date intervals into accrual year fractions.
package daycount

import (
	"fmt"
	"time"

	"github.com/animus-labs/swapval/internal/domain"
)

// YearFraction computes the accrual fraction between start and end under
// convention. Supported: ACT/360, ACT/365F, ACT/ACT (ISDA), 30/360 (bond
// basis) and 30E/360.
func YearFraction(start, end time.Time, convention domain.DayCount) (float64, error) {
	switch domain.NormalizeDayCount(convention) {
	case domain.DayCountACT360:
		return Days(start, end) / 360.0, nil
	case domain.DayCountACT365F:
		return Days(start, end) / 365.0, nil
	case domain.DayCountACTACT:
		return actActISDA(start, end), nil
	case domain.DayCount30360:
		return thirty360(start, end), nil
	case domain.DayCount30E360:
		return thirtyE360(start, end), nil
	default:
		return 0, fmt.Errorf("unsupported day count convention %q", convention)
	}
}

// Days returns the actual number of calendar days from start to end.
func Days(start, end time.Time) float64 {
	return domain.DateOf(end).Sub(domain.DateOf(start)).Hours() / 24
}

// thirty360 is the US bond basis: D1=31 becomes 30; D2=31 becomes 30 only
// when D1 is already 30 or 31.
func thirty360(start, end time.Time) float64 {
	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.Date()
	if d1 == 31 {
		d1 = 30
	}
	if d2 == 31 && d1 == 30 {
		d2 = 30
	}
	return float64(360*(y2-y1)+30*(int(m2)-int(m1))+(d2-d1)) / 360.0
}

func thirtyE360(start, end time.Time) float64 {
	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.Date()
	if d1 > 30 {
		d1 = 30
	}
	if d2 > 30 {
		d2 = 30
	}
	return float64(360*(y2-y1)+30*(int(m2)-int(m1))+(d2-d1)) / 360.0
}

// actActISDA splits the interval at year boundaries and divides each piece by
// the length of its year.
func actActISDA(start, end time.Time) float64 {
	start, end = domain.DateOf(start), domain.DateOf(end)
	if !end.After(start) {
		return -actActISDAOrdered(end, start)
	}
	return actActISDAOrdered(start, end)
}

func actActISDAOrdered(start, end time.Time) float64 {
	if start.Equal(end) {
		return 0
	}
	total := 0.0
	cur := start
	for cur.Year() < end.Year() {
		next := domain.Day(cur.Year()+1, time.January, 1)
		total += Days(cur, next) / daysInYear(cur.Year())
		cur = next
	}
	total += Days(cur, end) / daysInYear(end.Year())
	return total
}

func daysInYear(year int) float64 {
	if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
		return 366
	}
	return 365
}
