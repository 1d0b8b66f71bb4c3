package capture

import (
	"errors"

	"github.com/cassiomorais/payments-capture/internal/workerpool"
)

// DrainSummary condenses the in-flight results returned by a pool shutdown.
type DrainSummary struct {
	Cancelled int
	Finished  int
	ByResult  map[Result]int
	Failed    int
	Err       error
}

// SummarizeDrain folds per-task errors into one joined error so shutdown
// reports once instead of per task.
func SummarizeDrain(cancelled int, results []workerpool.Result[Attempt]) DrainSummary {
	s := DrainSummary{
		Cancelled: cancelled,
		Finished:  len(results),
		ByResult:  make(map[Result]int),
	}
	var errs []error
	for _, r := range results {
		s.ByResult[r.Value.Result]++
		if r.Err != nil {
			s.Failed++
			errs = append(errs, r.Err)
		}
	}
	s.Err = errors.Join(errs...)
	return s
}
