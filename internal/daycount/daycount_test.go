package daycount

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/animus-labs/swapval/internal/domain"
)

func TestYearFraction(t *testing.T) {
	cases := []struct {
		name       string
		start, end [3]int
		convention domain.DayCount
		want       float64
	}{
		{"act360 quarter", [3]int{2025, 1, 6}, [3]int{2025, 4, 7}, domain.DayCountACT360, 91.0 / 360.0},
		{"act365f alias", [3]int{2025, 1, 6}, [3]int{2026, 1, 6}, "ACT/365", 1.0},
		{"30/360 end of month", [3]int{2025, 1, 31}, [3]int{2025, 3, 31}, domain.DayCount30360, 60.0 / 360.0},
		{"30/360 d2 kept when d1 < 30", [3]int{2025, 1, 15}, [3]int{2025, 3, 31}, domain.DayCount30360, 76.0 / 360.0},
		{"30E/360 caps both ends", [3]int{2025, 1, 15}, [3]int{2025, 3, 31}, domain.DayCount30E360, 75.0 / 360.0},
		{"act/act across leap year", [3]int{2023, 7, 1}, [3]int{2024, 7, 1}, domain.DayCountACTACT, 184.0/365.0 + 182.0/366.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start := domain.Day(tc.start[0], time.Month(tc.start[1]), tc.start[2])
			end := domain.Day(tc.end[0], time.Month(tc.end[1]), tc.end[2])
			got, err := YearFraction(start, end, tc.convention)
			require.NoError(t, err)
			require.InDelta(t, tc.want, got, 1e-12)
		})
	}
}

func TestYearFractionUnknownConvention(t *testing.T) {
	_, err := YearFraction(domain.Day(2025, 1, 1), domain.Day(2025, 2, 1), "BUS/252")
	require.Error(t, err)
}
