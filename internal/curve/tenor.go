package curve

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/swapval/internal/domain"
)

// PillarDate returns the unadjusted date valuationDate + tenor. Accepted
// tenors are ON, TN and <n>D, <n>W, <n>M, <n>Y with n > 0.
func PillarDate(valuationDate time.Time, tenor string) (time.Time, error) {
	valuationDate = domain.DateOf(valuationDate)
	t := strings.ToUpper(strings.TrimSpace(tenor))
	switch t {
	case "ON":
		return valuationDate.AddDate(0, 0, 1), nil
	case "TN":
		return valuationDate.AddDate(0, 0, 2), nil
	}
	if len(t) < 2 {
		return time.Time{}, fmt.Errorf("invalid tenor %q", tenor)
	}
	n, err := strconv.Atoi(t[:len(t)-1])
	if err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("invalid tenor %q", tenor)
	}
	switch t[len(t)-1] {
	case 'D':
		return valuationDate.AddDate(0, 0, n), nil
	case 'W':
		return valuationDate.AddDate(0, 0, 7*n), nil
	case 'M':
		return domain.AddMonths(valuationDate, n), nil
	case 'Y':
		return domain.AddMonths(valuationDate, 12*n), nil
	default:
		return time.Time{}, fmt.Errorf("invalid tenor unit in %q", tenor)
	}
}
