// Package providerclient talks to the review data provider over HTTP.
//
// A collection is started with POST /v1/collect. The provider answers with a
// job that is either already finished or still running; running jobs are
// polled at GET /v1/collect/{job_id} and every poll is reported to the
// caller's progress callback. Analytics are recomputed synchronously with
// POST /v1/analytics.
//
// Example usage:
//
//	client, err := providerclient.New("https://provider.example.com",
//		providerclient.WithToken(os.Getenv("PROVIDER_TOKEN")))
//	res, err := client.Collect(ctx, req, progress)
package providerclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"resty.dev/v3"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/orchestrator"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultPollInterval   = 5 * time.Second
)

// ErrJobFailed is returned when the provider reports a failed collection job.
var ErrJobFailed = errors.New("provider job failed")

// Client is a data provider API client. It implements
// orchestrator.ReviewCollector and orchestrator.AnalyticsService.
type Client struct {
	http         *resty.Client
	logger       *slog.Logger
	pollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.http.SetAuthToken(token)
		}
	}
}

// WithRequestTimeout bounds each individual HTTP request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithPollInterval sets how often running jobs are polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client for the provider at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("provider base URL is required")
	}

	c := &Client{
		http:         resty.New().SetBaseURL(baseURL).SetTimeout(DefaultRequestTimeout),
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "providerclient")
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// Collect starts a collection job and waits for it to finish.
func (c *Client) Collect(ctx context.Context, req orchestrator.CollectRequest, progress orchestrator.ProgressFunc) (orchestrator.CollectResult, error) {
	body := collectRequest{
		TenantID:     req.TenantID,
		BusinessID:   req.BusinessID,
		Platform:     string(req.Platform),
		Identifier:   req.Identifier,
		ForceRefresh: req.ForceRefresh,
		MaxItems:     req.MaxItems,
	}

	var job jobStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&job).
		Post("/v1/collect")
	if err != nil {
		return orchestrator.CollectResult{}, fmt.Errorf("start collection: %w", err)
	}
	if err := checkStatus(resp, http.StatusOK, http.StatusAccepted); err != nil {
		return orchestrator.CollectResult{}, fmt.Errorf("start collection: %w", err)
	}

	c.logger.Info("collection job started", "job_id", job.JobID, "platform", req.Platform, "business_id", req.BusinessID)

	for {
		report(progress, job)

		switch job.Status {
		case JobSucceeded:
			return orchestrator.CollectResult{ItemsProcessed: job.ItemsProcessed}, nil
		case JobFailed:
			return orchestrator.CollectResult{}, fmt.Errorf("%w: job %s: %s", ErrJobFailed, job.JobID, job.Error)
		case JobQueued, JobRunning:
		default:
			return orchestrator.CollectResult{}, fmt.Errorf("job %s: unknown status %q", job.JobID, job.Status)
		}

		if job.JobID == "" {
			return orchestrator.CollectResult{}, errors.New("provider returned a running job without an id")
		}

		select {
		case <-ctx.Done():
			return orchestrator.CollectResult{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		job, err = c.jobStatus(ctx, job.JobID)
		if err != nil {
			return orchestrator.CollectResult{}, err
		}
	}
}

func (c *Client) jobStatus(ctx context.Context, jobID string) (jobStatus, error) {
	var job jobStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("job_id", jobID).
		SetResult(&job).
		Get("/v1/collect/{job_id}")
	if err != nil {
		return jobStatus{}, fmt.Errorf("poll job %s: %w", jobID, err)
	}
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return jobStatus{}, fmt.Errorf("poll job %s: %w", jobID, err)
	}
	if job.JobID == "" {
		job.JobID = jobID
	}
	return job, nil
}

// ComputeAndPersist asks the provider to recompute analytics for a business.
func (c *Client) ComputeAndPersist(ctx context.Context, businessID string, p platform.Platform) (orchestrator.AnalyticsResult, error) {
	var out analyticsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(analyticsRequest{BusinessID: businessID, Platform: string(p)}).
		SetResult(&out).
		Post("/v1/analytics")
	if err != nil {
		return orchestrator.AnalyticsResult{}, fmt.Errorf("compute analytics: %w", err)
	}
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return orchestrator.AnalyticsResult{}, fmt.Errorf("compute analytics: %w", err)
	}
	if !out.Success && out.Error != "" {
		c.logger.Warn("analytics unsuccessful", "business_id", businessID, "platform", p, "reason", out.Error)
	}
	return orchestrator.AnalyticsResult{Success: out.Success}, nil
}

func report(progress orchestrator.ProgressFunc, job jobStatus) {
	if progress == nil {
		return
	}
	msg := job.Message
	if msg == "" {
		msg = fmt.Sprintf("collection %s", job.Status)
	}
	progress(job.Completed, job.Total, msg)
}

func checkStatus(resp *resty.Response, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode() == code {
			return nil
		}
	}
	return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.String())
}
