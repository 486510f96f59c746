// internal/council/stage.go
package council

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"council/internal/models"
)

// StageOutcome is what a stage fan-out produced. Results hold one entry per
// launched model in stable launch order, successful or not. TimedOut counts
// tasks that were still pending when the stage deadline fired.
type StageOutcome struct {
	Stage    string
	Results  []models.Result
	TimedOut int
}

// OK returns the successful results, preserving order.
func (o StageOutcome) OK() []models.Result {
	ok := make([]models.Result, 0, len(o.Results))
	for _, r := range o.Results {
		if r.OK {
			ok = append(ok, r)
		}
	}
	return ok
}

// RunStage queries every model concurrently under one stage-wide deadline.
//
// Invariant: every launched goroutine has finished before RunStage returns,
// on the deadline path as well as the normal path. The deadline cancels each
// in-flight query's context; the goroutine is then awaited and its failure
// recorded as an OK=false result. Nothing outlives the stage boundary.
//
// Fewer than minResults successes is not an error; the caller decides what
// partial output is worth.
func RunStage(ctx context.Context, client models.Client, modelIDs []string, msgs []models.Message, stage string, stageTimeout time.Duration, minResults int) StageOutcome {
	return runStage(ctx, client, modelIDs, msgs, stage, stageTimeout, minResults, nil)
}

// RunStageStreaming is RunStage with live delivery: each result is also sent
// on out in completion order as it arrives. out is closed before return. The
// returned outcome keeps stable launch order regardless of arrival order.
func RunStageStreaming(ctx context.Context, client models.Client, modelIDs []string, msgs []models.Message, stage string, stageTimeout time.Duration, minResults int, out chan<- models.Result) StageOutcome {
	defer close(out)
	return runStage(ctx, client, modelIDs, msgs, stage, stageTimeout, minResults, out)
}

func runStage(ctx context.Context, client models.Client, modelIDs []string, msgs []models.Message, stage string, stageTimeout time.Duration, minResults int, out chan<- models.Result) StageOutcome {
	outcome := StageOutcome{
		Stage:   stage,
		Results: make([]models.Result, len(modelIDs)),
	}
	if len(modelIDs) == 0 {
		return outcome
	}

	stageCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	var (
		wg        sync.WaitGroup
		completed atomic.Int32
	)

	start := time.Now()
	for i, id := range modelIDs {
		wg.Add(1)
		go func(slot int, model string) {
			defer wg.Done()
			res := client.Query(stageCtx, model, msgs, stageTemperature)
			outcome.Results[slot] = res
			completed.Add(1)
			if out != nil {
				select {
				case out <- res:
				case <-ctx.Done():
					// Client is gone; keep collecting, the outcome still
					// matters for persistence.
				}
			}
		}(i, id)
	}

	// Snapshot how many tasks the deadline caught mid-flight. The cancelled
	// tasks themselves are still awaited below.
	done := make(chan struct{})
	var pendingAtDeadline atomic.Int32
	go func() {
		select {
		case <-stageCtx.Done():
			if ctx.Err() == nil {
				pendingAtDeadline.Store(int32(len(modelIDs)) - completed.Load())
			}
		case <-done:
		}
	}()

	wg.Wait()
	close(done)

	outcome.TimedOut = int(pendingAtDeadline.Load())

	okCount := len(outcome.OK())
	if outcome.TimedOut > 0 {
		log.Printf("[council] stage %s deadline after %s: %d of %d tasks cancelled",
			stage, time.Since(start).Round(time.Millisecond), outcome.TimedOut, len(modelIDs))
	}
	if okCount < minResults {
		log.Printf("[council] stage %s finished below minimum: %d ok of %d wanted",
			stage, okCount, minResults)
	}

	return outcome
}

// stageTemperature is used for every council query; peer ranking and
// synthesis read better with moderate sampling than with greedy decoding.
const stageTemperature = 0.7
