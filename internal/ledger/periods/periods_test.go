package periods

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPeriodContainsInclusiveBoundaries(t *testing.T) {
	p := Period{StartDate: date("2023-01-01"), EndDate: date("2023-12-31")}

	require.True(t, p.Contains(date("2023-01-01")), "start boundary is inclusive")
	require.True(t, p.Contains(date("2023-12-31")), "end boundary is inclusive")
	require.True(t, p.Contains(date("2023-06-15")))
	require.False(t, p.Contains(date("2022-12-31")))
	require.False(t, p.Contains(date("2024-01-01")))
}

func TestAdjacentPeriodsDoNotShareBoundaryDates(t *testing.T) {
	// Non-overlapping periods meet at midnight: a date on the exact
	// boundary belongs to exactly one period's inclusive range.
	jan := Period{StartDate: date("2023-01-01"), EndDate: date("2023-01-31")}
	feb := Period{StartDate: date("2023-02-01"), EndDate: date("2023-02-28")}

	boundary := date("2023-02-01")
	require.False(t, jan.Contains(boundary))
	require.True(t, feb.Contains(boundary))
}

type staticCounter int64

func (c staticCounter) CountUnlockedPostedInPeriod(ctx context.Context, periodID int64) (int64, error) {
	return int64(c), nil
}

func TestValidatePeriodLockCompliance(t *testing.T) {
	report, err := ValidatePeriodLockCompliance(context.Background(), staticCounter(0), 5)
	require.NoError(t, err)
	require.True(t, report.Compliant)
	require.Equal(t, int64(5), report.PeriodID)

	report, err = ValidatePeriodLockCompliance(context.Background(), staticCounter(3), 5)
	require.NoError(t, err)
	require.False(t, report.Compliant)
	require.Equal(t, int64(3), report.UnlockedCount)
}
