package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/tracker"
)

// RefreshBusinessData re-runs the pipeline with ForceRefresh for a tenant
// that already has a profile on the platform. It returns ErrProfileNotFound
// when there is none; refresh does not replace initial setup.
func (o *Orchestrator) RefreshBusinessData(ctx context.Context, tenantID string, p platform.Platform) (Result, error) {
	profile, err := o.profile(ctx, tenantID, p)
	if err != nil {
		return Result{}, err
	}

	identifier, err := o.locator.Registry().ExtractIdentifier(p, profile.Attributes, profile.Identifier)
	if err != nil {
		return Result{}, err
	}

	o.logger.Info("refreshing business data", "tenant_id", tenantID, "platform", p, "business_id", profile.ID)
	return o.ProcessBusinessData(ctx, Request{
		TenantID:   tenantID,
		Platform:   p,
		Identifier: identifier,
		Options:    Options{ForceRefresh: true},
	})
}

// GetBusinessData composes the stored profile with the latest task and its
// most recent messages. A tenant that has never run has no task.
func (o *Orchestrator) GetBusinessData(ctx context.Context, tenantID string, p platform.Platform) (BusinessData, error) {
	profile, err := o.profile(ctx, tenantID, p)
	if err != nil {
		return BusinessData{}, err
	}

	data := BusinessData{Profile: profile}
	task, err := o.tracker.GetTask(ctx, tenantID, p)
	switch {
	case errors.Is(err, tracker.ErrTaskNotFound):
		return data, nil
	case err != nil:
		return BusinessData{}, fmt.Errorf("loading task: %w", err)
	}
	data.Task = task

	msgs, err := o.tracker.GetMessages(ctx, tenantID, p, o.messageLimit)
	if err != nil {
		return BusinessData{}, fmt.Errorf("loading task messages: %w", err)
	}
	data.Messages = msgs
	return data, nil
}

func (o *Orchestrator) profile(ctx context.Context, tenantID string, p platform.Platform) (*Profile, error) {
	profiles, err := platform.Resolve[ProfileService](o.locator, p, platform.BusinessKind)
	if err != nil {
		return nil, err
	}

	profile, err := profiles.GetProfile(ctx, tenantID, p)
	if errors.Is(err, ErrProfileNotFound) || (err == nil && profile == nil) {
		return nil, fmt.Errorf("%w: tenant %s on %s", ErrProfileNotFound, tenantID, p)
	}
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	return profile, nil
}
