package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/buildinfo"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/config"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/metrics"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/orchestrator"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/retryqueue"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/workflows/pipeline"
)

// app holds what every command needs once the config is loaded.
type app struct {
	cfg      config.Config
	logger   *logging.Logger
	pipeline *pipeline.Pipeline
	push     *metrics.PushRegistry
}

func newApp(ctx context.Context) (*app, error) {
	if configPath == "" {
		return nil, errors.New("config flag (-c or --config) is required")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	props := buildinfo.Get()
	logger.Info("wirecrest started",
		"version", props.Version,
		"git_commit", props.GitCommit,
		"config_path", configPath,
	)

	var opts []pipeline.Option
	var push *metrics.PushRegistry
	if cfg.Monitoring.VictoriaMetricsURL != "" {
		hostname, err := os.Hostname()
		if err != nil {
			logger.Close()
			return nil, fmt.Errorf("failed to get hostname: %w", err)
		}
		push = metrics.NewPushRegistry(metrics.PushConfig{
			URL:      cfg.Monitoring.VictoriaMetricsURL,
			Job:      cfg.Monitoring.JobName,
			Instance: hostname,
			Logger:   logger.Logger,
		})
		opts = append(opts, pipeline.WithMetricsRegistry(push))
	}

	p, err := pipeline.New(ctx, &cfg, logger.Logger, opts...)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("failed to assemble pipeline: %w", err)
	}

	return &app{cfg: cfg, logger: logger, pipeline: p, push: push}, nil
}

// Close pushes the command's metrics, then releases the pipeline and logger.
// A failed push is logged and does not change the exit status.
func (a *app) Close() error {
	if a.push != nil {
		ctx, cancel := context.WithTimeout(context.Background(), metrics.DefaultTimeout)
		if err := a.push.Flush(ctx); err != nil {
			a.logger.Warn("failed to push metrics", "error", err)
		}
		cancel()
	}
	return errors.Join(a.pipeline.Close(), a.logger.Close())
}

// enqueueFailure hands a failed run to the retry queue. Cancelled runs and
// successes are left alone.
func (a *app) enqueueFailure(ctx context.Context, res orchestrator.Result) {
	if res.Success || res.Cancelled {
		return
	}
	entity := res.BusinessID
	if entity == "" {
		entity = res.Identifier
	}
	added, err := a.pipeline.Queue.AddToQueue(ctx, retryqueue.Failure{
		TenantID:         res.TenantID,
		BusinessEntityID: entity,
		Platform:         res.Platform,
		Identifier:       res.Identifier,
		Error:            res.Error,
	})
	if err != nil {
		a.logger.Error("failed to enqueue retry", "tenant_id", res.TenantID, "platform", res.Platform, "error", err)
		return
	}
	a.logger.Info("retry queued", "business_entity_id", entity, "platform", res.Platform, "accepted", added.Accepted, "message", added.Message)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
