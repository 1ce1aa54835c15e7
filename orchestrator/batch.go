package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// ProcessBatchBusinessData runs ProcessBusinessData for every request on a
// bounded worker pool and returns one Result per request, in input order.
// A failing, misconfigured or panicking item only affects its own Result.
func (o *Orchestrator) ProcessBatchBusinessData(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	pool, err := ants.NewPool(o.batchConcurrency, ants.WithPanicHandler(func(p any) {
		o.logger.Error("batch worker panicked", "panic", p)
	}))
	if err != nil {
		// without a pool, fall back to running items one by one
		o.logger.Error("failed to create batch pool, running sequentially", "error", err)
		for i, req := range reqs {
			results[i] = o.processItem(ctx, req)
		}
		return results
	}
	defer pool.Release()

	o.logger.Info("processing batch", "items", len(reqs), "concurrency", o.batchConcurrency)

	var wg sync.WaitGroup
	for i, req := range reqs {
		i, req := i, req
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i] = o.processItem(ctx, req)
		}); err != nil {
			wg.Done()
			results[i] = failedResult(req, fmt.Sprintf("submitting to batch pool: %v", err))
		}
	}
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	o.logger.Info("batch finished", "items", len(reqs), "succeeded", succeeded, "failed", len(reqs)-succeeded)
	return results
}

// processItem runs one batch item and never panics.
func (o *Orchestrator) processItem(ctx context.Context, req Request) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("batch item panicked", "tenant_id", req.TenantID, "platform", req.Platform, "panic", p)
			res = failedResult(req, fmt.Sprintf("panic: %v", p))
		}
	}()

	res, err := o.ProcessBusinessData(ctx, req)
	if err != nil {
		return failedResult(req, err.Error())
	}
	return res
}

func failedResult(req Request, msg string) Result {
	return Result{
		TenantID:   req.TenantID,
		Platform:   req.Platform,
		Identifier: req.Identifier,
		Error:      msg,
	}
}
