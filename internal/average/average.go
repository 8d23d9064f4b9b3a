package average

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"fx-rate-alerts/internal/rates"
)

// Window is the derived trailing average over [Start, End]. Not persisted;
// recomputed on demand from stored observations.
type Window struct {
	Mean  decimal.Decimal
	Start time.Time
	End   time.Time
	Count int
}

// Compute returns the arithmetic mean of all observation rates whose date
// lies within the trailing window of the given number of calendar years
// ending at the latest observation date. Summation runs in ascending date
// order so identical input sets always produce identical results.
func Compute(observations []rates.Observation, windowYears int) (Window, error) {
	if windowYears <= 0 {
		return Window{}, fmt.Errorf("window years must be positive, got %d", windowYears)
	}
	if len(observations) == 0 {
		return Window{}, fmt.Errorf("%w: no observations", rates.ErrInsufficientHistory)
	}

	sorted := make([]rates.Observation, len(observations))
	copy(sorted, observations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	end := sorted[len(sorted)-1].Date
	start := end.AddDate(-windowYears, 0, 0)

	sum := decimal.Zero
	count := 0
	for _, obs := range sorted {
		if obs.Date.Before(start) {
			continue
		}
		sum = sum.Add(obs.Rate)
		count++
	}

	if count == 0 {
		return Window{}, fmt.Errorf("%w: no observations within window", rates.ErrInsufficientHistory)
	}

	return Window{
		Mean:  sum.Div(decimal.NewFromInt(int64(count))),
		Start: start,
		End:   end,
		Count: count,
	}, nil
}
