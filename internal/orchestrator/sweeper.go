package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// Run sweeps active workflows every SweepInterval until ctx is done. The
// sweep is what guarantees progress when a completion signal, a scheduled
// retry or a submission kick was lost, for example across a restart.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.opts.SweepInterval)
	defer ticker.Stop()

	o.logger.Info("sweeper started", "interval", o.opts.SweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.Sweep(ctx); err != nil && ctx.Err() == nil {
				o.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass: it force-fails attempts whose dispatch deadline passed
// and then advances every active workflow.
func (o *Orchestrator) Sweep(ctx context.Context) error {
	workflows, err := o.store.ListActiveWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("listing active workflows: %w", err)
	}

	var firstErr error
	for _, wf := range workflows {
		if err := o.sweepWorkflow(ctx, wf); err != nil {
			o.logger.Error("sweeping workflow", "workflow_id", wf.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (o *Orchestrator) sweepWorkflow(ctx context.Context, wf *models.Workflow) error {
	tasks, err := o.store.ListTasks(ctx, wf.ID)
	if err != nil {
		return err
	}
	now := o.now()
	for _, t := range tasks {
		if t.Status != models.TaskDispatched || t.DeadlineAt == nil || now.Before(*t.DeadlineAt) {
			continue
		}
		o.logger.Warn("dispatch deadline passed",
			"workflow_id", t.WorkflowID, "task_id", t.ID, "attempt", t.Attempts)
		err := o.HandleCompletion(ctx, models.CompletionSignal{
			CorrelationID: models.CorrelationFor(t).String(),
			Error: &models.TaskError{
				Class:   models.ClassDispatchTimeout,
				Message: fmt.Sprintf("no completion signal from %s worker before %s", t.Kind, t.DeadlineAt.Format(time.RFC3339)),
			},
			ReportedAt: now,
		})
		if err != nil {
			return err
		}
	}
	return o.advance(ctx, wf.ID)
}
