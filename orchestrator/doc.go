// Package orchestrator drives the per-tenant, per-platform data pipeline.
//
// For a (tenant, platform, identifier) request the Orchestrator runs three
// steps in order, recording each transition with a tracker.Tracker:
//
//  1. business_profile: ensure a business profile exists (idempotent).
//  2. collect_reviews: ask the data provider to collect reviews, reporting
//     the provider's milestones as task progress.
//  3. compute_analytics: recompute derived metrics for the business.
//
// The platform-specific collaborator for each step is resolved through a
// platform.Locator, so the orchestrator never switches on the platform.
//
// # Failure handling
//
// A profile or collection failure ends the run: the step is marked failed
// and the returned Result has Success false. An analytics failure is
// recorded as a failed step but does not fail the run, since the collected
// data is still good; Result.AnalyticsGenerated tells callers whether the
// derived metrics are stale.
//
// ProcessBusinessData only returns a non-nil error for configuration
// problems (unsupported platform, missing capability, malformed request).
// Collaborator errors, timeouts and panics all become failed Results.
//
// The orchestrator does not talk to the retry queue. Whoever schedules runs
// looks at the Result and decides whether to enqueue a retry.
//
// # Cancellation
//
// If the caller's context is cancelled mid-run the task is marked
// cancelled and Result.Cancelled is set. Tracker bookkeeping always uses a
// context detached from cancellation so that the final state is recorded.
//
// # Example
//
//	o := orchestrator.New(locator, tr, orchestrator.WithLogger(logger))
//	res, err := o.ProcessBusinessData(ctx, orchestrator.Request{
//		TenantID:   "tenant-1",
//		Platform:   platform.GoogleMaps,
//		Identifier: "ChIJN1t_tDeuEmsRUsoyG83frY4",
//	})
//	if err != nil {
//		// misconfiguration
//	}
//	if !res.Success {
//		// enqueue a retry
//	}
package orchestrator
