// Package main provides the Flowmend reconciler, a background sweeper that
// fails orphaned deployments and watches the health of active artifacts.
package main

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/flowmend/flowmend/pkg/deployment"
	"github.com/flowmend/flowmend/pkg/lifecycle"
	"github.com/flowmend/flowmend/pkg/models"
)

type Reconciler struct {
	logger      *slog.Logger
	deployments *deployment.Manager
	lifecycles  *lifecycle.Manager
	cron        *cron.Cron
}

func NewReconciler(logger *slog.Logger, deployments *deployment.Manager, lifecycles *lifecycle.Manager) *Reconciler {
	return &Reconciler{
		logger:      logger,
		deployments: deployments,
		lifecycles:  lifecycles,
	}
}

// Start schedules the sweep and blocks until the context is cancelled.
func (r *Reconciler) Start(ctx context.Context, schedule string) error {
	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := r.cron.AddFunc(schedule, func() {
		r.sweep(ctx)
	})
	if err != nil {
		return err
	}

	r.cron.Start()
	r.logger.InfoContext(ctx, "Reconciler started", "schedule", schedule)

	<-ctx.Done()

	stopCtx := r.cron.Stop()
	<-stopCtx.Done()

	return nil
}

func (r *Reconciler) sweep(ctx context.Context) {
	failed, err := r.deployments.Reconcile(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Reconciliation failed", "error", err)
	} else if failed > 0 {
		r.logger.InfoContext(ctx, "Failed orphaned deployments", "count", failed)
	}

	r.checkActiveArtifacts(ctx)
}

// checkActiveArtifacts runs a health check on the latest deployment of every
// active lifecycle and logs what it finds. Rolling back stays a human call.
func (r *Reconciler) checkActiveArtifacts(ctx context.Context) {
	states, err := r.lifecycles.List(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to list lifecycles", "error", err)

		return
	}

	for _, state := range states {
		if state.Status != models.LifecycleStatusActive {
			continue
		}

		records, err := r.deployments.History(ctx, state.ID)
		if err != nil || len(records) == 0 {
			continue
		}

		report, err := r.deployments.HealthCheck(ctx, records[0].ID)
		if err != nil {
			r.logger.WarnContext(ctx, "Health check failed",
				"logical_id", state.ID, "deployment_id", records[0].ID, "error", err)

			continue
		}

		if !report.Healthy {
			r.logger.WarnContext(ctx, "Active artifact is unhealthy",
				"logical_id", state.ID,
				"deployment_id", records[0].ID,
				"issues", report.Issues,
				"recommendations", report.Recommendations)
		}
	}
}
