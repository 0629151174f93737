package orchestrator

// concurrent.go: worker pool para evaluar lotes de oportunidades en paralelo.

import (
	"context"
	"runtime"
	"sync"

	"github.com/alejandrodnm/revcore/internal/domain"
)

// BatchResult pairs a recommendation with the index of its opportunity in
// the input slice.
type BatchResult struct {
	Index          int
	Recommendation domain.Recommendation
	Err            error
}

// EvaluateBatch evaluates opps concurrently with a bounded worker pool and
// returns the results in input order. If workers <= 0 the configured pool
// size is used, falling back to runtime.NumCPU() × 2.
//
// Opportunities not yet started when ctx is cancelled get ctx.Err().
func (o *Orchestrator) EvaluateBatch(ctx context.Context, opps []domain.Opportunity, workers int) []BatchResult {
	if workers <= 0 {
		workers = o.cfg.Workers
	}
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}

	workCh := make(chan int, len(opps))
	resultCh := make(chan BatchResult, len(opps))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workCh {
				if err := ctx.Err(); err != nil {
					resultCh <- BatchResult{Index: idx, Err: err}
					continue
				}
				rec, err := o.Evaluate(ctx, opps[idx])
				if err != nil {
					o.log.Debug().Str("opp_id", opps[idx].ID).Err(err).Msg("evaluate failed")
				}
				resultCh <- BatchResult{Index: idx, Recommendation: rec, Err: err}
			}
		}()
	}

	for i := range opps {
		workCh <- i
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]BatchResult, len(opps))
	for r := range resultCh {
		results[r.Index] = r
	}

	o.log.Debug().
		Int("opportunities", len(opps)).
		Int("workers", workers).
		Msg("batch evaluation complete")
	return results
}
