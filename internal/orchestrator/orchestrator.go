// Package orchestrator drives workflows: it plans and persists them, dispatches
// ready tasks to workers, applies completion signals and runs the retry
// controller. All state lives in the StateStore; every transition is a
// conditional write, so several orchestrator instances may share one store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/darrylbowler72/agenticframework-sub001/internal/events"
	"github.com/darrylbowler72/agenticframework-sub001/internal/planner"
	"github.com/darrylbowler72/agenticframework-sub001/internal/repository"
	"github.com/darrylbowler72/agenticframework-sub001/internal/telemetry"
	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// casRetries bounds how often a transition is re-read and re-applied after
// losing a conditional write.
const casRetries = 8

// dispatchConcurrency bounds parallel dispatches for one workflow.
const dispatchConcurrency = 8

// Options configures an Orchestrator.
type Options struct {
	// CallbackURL is where workers POST completion signals.
	CallbackURL string
	// DispatchTimeout bounds the dispatch HTTP call.
	DispatchTimeout time.Duration
	// DispatchDeadline bounds the time from dispatch to completion signal.
	DispatchDeadline time.Duration
	// WorkflowTimeout bounds a workflow's total run time; zero disables it.
	WorkflowTimeout time.Duration
	SweepInterval   time.Duration
	Policy          RetryPolicy
	Logger          *slog.Logger
	Metrics         *telemetry.Metrics
}

// SubmitRequest is a workflow submission.
type SubmitRequest struct {
	Template    string         `json:"template"`
	Parameters  map[string]any `json:"parameters"`
	RequestedBy string         `json:"requested_by"`
}

// Orchestrator owns the workflow lifecycle.
type Orchestrator struct {
	store      repository.StateStore
	planner    planner.Planner
	dispatcher Dispatcher
	events     events.Publisher

	opts    Options
	policy  RetryPolicy
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates an Orchestrator. publisher may be nil.
func New(store repository.StateStore, p planner.Planner, d Dispatcher, publisher events.Publisher, opts Options) *Orchestrator {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 10 * time.Second
	}
	if opts.DispatchDeadline <= 0 {
		opts.DispatchDeadline = 15 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.Noop()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:      store,
		planner:    p,
		dispatcher: d,
		events:     publisher,
		opts:       opts,
		policy:     opts.Policy.withDefaults(),
		logger:     opts.Logger.With("component", "orchestrator"),
		metrics:    opts.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SubmitWorkflow validates and plans the request, persists the workflow with
// all tasks pending, and returns without waiting for any task to run.
func (o *Orchestrator) SubmitWorkflow(ctx context.Context, req SubmitRequest) (*models.WorkflowView, error) {
	plan, err := o.planner.Plan(ctx, req.Template, req.Parameters)
	if err != nil {
		return nil, err
	}

	now := o.now()
	wf := &models.Workflow{
		ID:          planner.NewWorkflowID(),
		Template:    req.Template,
		Parameters:  plan.Parameters,
		RequestedBy: req.RequestedBy,
		Status:      models.WorkflowInProgress,
		CreatedAt:   now,
	}
	if o.opts.WorkflowTimeout > 0 {
		wf.Deadline = now.Add(o.opts.WorkflowTimeout)
	}
	tasks := make([]*models.Task, len(plan.Tasks))
	for i, spec := range plan.Tasks {
		tasks[i] = models.NewTask(wf.ID, spec, now)
		wf.TaskIDs = append(wf.TaskIDs, spec.ID)
	}

	if err := o.store.CreateWorkflow(ctx, wf, tasks); err != nil {
		return nil, fmt.Errorf("storing workflow: %w", err)
	}

	o.metrics.WorkflowsSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("template", wf.Template)))
	o.logger.Info("workflow submitted",
		"workflow_id", wf.ID, "template", wf.Template, "tasks", len(tasks), "requested_by", wf.RequestedBy)
	o.publish(ctx, events.TopicWorkflowSubmitted, workflowEvent(wf))

	o.schedule(wf.ID, 0)
	return models.NewWorkflowView(wf, tasks), nil
}

// GetWorkflow returns the current view of a workflow.
func (o *Orchestrator) GetWorkflow(ctx context.Context, id string) (*models.WorkflowView, error) {
	wf, err := o.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	tasks, err := o.store.ListTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	return models.NewWorkflowView(wf, tasks), nil
}

// HandleCompletion applies a worker's completion signal. Signals for an
// attempt that is no longer current, repeated signals and signals for
// finished tasks or workflows are ignored, so redelivery is harmless.
func (o *Orchestrator) HandleCompletion(ctx context.Context, sig models.CompletionSignal) error {
	cid, err := models.ParseCorrelationID(sig.CorrelationID)
	if err != nil {
		return &models.ValidationError{Field: "correlation_id", Message: err.Error()}
	}
	if !sig.Success && sig.Error == nil {
		sig.Error = &models.TaskError{Class: models.ClassWorker, Message: "worker reported failure without detail"}
	}

	for i := 0; i < casRetries; i++ {
		applied, task, err := o.applyCompletion(ctx, cid, sig)
		if errors.Is(err, models.ErrVersionConflict) {
			continue
		}
		if errors.Is(err, models.ErrWorkflowTerminal) {
			o.logger.Debug("completion ignored, workflow finished", "correlation_id", sig.CorrelationID)
			return nil
		}
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		o.afterTransition(ctx, task)
		return o.advance(ctx, cid.WorkflowID)
	}
	return fmt.Errorf("applying completion %s: %w", sig.CorrelationID, models.ErrVersionConflict)
}

// applyCompletion performs one read-modify-write of the task. applied is false
// when the signal was stale or a duplicate.
func (o *Orchestrator) applyCompletion(ctx context.Context, cid models.CorrelationID, sig models.CompletionSignal) (bool, *models.Task, error) {
	task, err := o.store.GetTask(ctx, cid.WorkflowID, cid.TaskID)
	if err != nil {
		return false, nil, err
	}
	if task.Status != models.TaskDispatched || task.Attempts != cid.Attempt {
		o.logger.Debug("stale completion ignored",
			"workflow_id", cid.WorkflowID, "task_id", cid.TaskID,
			"signal_attempt", cid.Attempt, "attempts", task.Attempts, "status", task.Status)
		return false, nil, nil
	}

	now := o.now()
	if sig.Success {
		task.Status = models.TaskCompleted
		task.Result = sig.Result
		task.Error = nil
		task.CompletedAt = &now
		task.DeadlineAt = nil
	} else {
		o.failAttempt(task, sig.Error, now)
	}
	if err := o.store.UpdateTask(ctx, task); err != nil {
		return false, nil, err
	}
	return true, task, nil
}

// failAttempt records the failure and applies the retry controller's decision.
func (o *Orchestrator) failAttempt(task *models.Task, cause *models.TaskError, now time.Time) {
	started := task.CreatedAt
	if task.DispatchedAt != nil {
		started = *task.DispatchedAt
	}
	task.History = append(task.History, models.AttemptRecord{
		Attempt:    task.Attempts,
		Kind:       task.Kind,
		StartedAt:  started,
		FinishedAt: now,
		Error:      cause,
	})
	task.Error = cause
	task.DeadlineAt = nil
	o.metrics.AttemptsFailed.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("agent", string(task.Kind)), attribute.String("class", string(cause.Class))))

	decision := o.policy.Decide(task.Kind, task.Attempts, cause)
	switch decision.Outcome {
	case OutcomeSkip:
		task.Status = models.TaskCompleted
		task.Result = map[string]any{
			"skipped": true,
			"reason":  cause.Message,
		}
		task.CompletedAt = &now
	case OutcomeFail:
		task.Status = models.TaskFailed
		task.CompletedAt = &now
	case OutcomeRetry:
		next := now.Add(decision.Delay)
		task.Status = models.TaskRetrying
		task.NextAttemptAt = &next
		if decision.Kind != task.Kind {
			o.logger.Info("falling back to another worker kind",
				"workflow_id", task.WorkflowID, "task_id", task.ID, "from", task.Kind, "to", decision.Kind)
			task.Kind = decision.Kind
		}
	}
	o.logger.Warn("task attempt failed",
		"workflow_id", task.WorkflowID, "task_id", task.ID, "attempt", task.Attempts,
		"class", cause.Class, "error", cause.Message, "outcome", decision.Outcome.String())
}

// afterTransition emits the events and metrics for a persisted task change.
func (o *Orchestrator) afterTransition(ctx context.Context, task *models.Task) {
	switch task.Status {
	case models.TaskCompleted:
		o.logger.Info("task completed", "workflow_id", task.WorkflowID, "task_id", task.ID, "attempt", task.Attempts)
		o.publish(ctx, events.TopicTaskCompleted, taskEvent(task))
	case models.TaskFailed:
		o.logger.Error("task failed", "workflow_id", task.WorkflowID, "task_id", task.ID, "attempt", task.Attempts)
		o.publish(ctx, events.TopicTaskFailed, taskEvent(task))
	case models.TaskRetrying:
		o.metrics.TasksRetried.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", string(task.Kind))))
		o.publish(ctx, events.TopicTaskRetrying, taskEvent(task))
		if task.NextAttemptAt != nil {
			o.schedule(task.WorkflowID, task.NextAttemptAt.Sub(o.now()))
		}
	}
}

// advance moves a workflow forward: it finishes the workflow when its tasks
// decide the outcome, and otherwise dispatches every task that is due.
func (o *Orchestrator) advance(ctx context.Context, workflowID string) error {
	for i := 0; i < casRetries; i++ {
		wf, err := o.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf.Status.Terminal() {
			return nil
		}
		tasks, err := o.store.ListTasks(ctx, workflowID)
		if err != nil {
			return err
		}

		if status, cause := o.outcome(wf, tasks); status != "" {
			err := o.finish(ctx, wf, status, cause)
			if errors.Is(err, models.ErrVersionConflict) {
				continue
			}
			if errors.Is(err, models.ErrWorkflowTerminal) {
				return nil
			}
			return err
		}
		return o.dispatchDue(ctx, tasks)
	}
	return fmt.Errorf("advancing workflow %s: %w", workflowID, models.ErrVersionConflict)
}

// outcome decides whether the workflow is finished. An empty status means it
// is still running.
func (o *Orchestrator) outcome(wf *models.Workflow, tasks []*models.Task) (models.WorkflowStatus, *models.TaskError) {
	completed := 0
	for _, t := range tasks {
		switch t.Status {
		case models.TaskFailed:
			return models.WorkflowFailed, workflowCause(t, o.policy.MaxAttempts)
		case models.TaskCompleted:
			completed++
		}
	}
	if completed == len(tasks) {
		return models.WorkflowCompleted, nil
	}
	if !wf.Deadline.IsZero() && o.now().After(wf.Deadline) {
		return models.WorkflowFailed, &models.TaskError{
			Class:   models.ClassWorkflowDeadline,
			Message: fmt.Sprintf("workflow did not finish before %s", wf.Deadline.Format(time.RFC3339)),
		}
	}
	return "", nil
}

// workflowCause is the error surfaced on a failed workflow. A task that used
// up its attempts surfaces as ExhaustedRetriesError carrying the last cause.
func workflowCause(t *models.Task, maxAttempts int) *models.TaskError {
	if t.Attempts >= maxAttempts {
		exhausted := &models.ExhaustedRetriesError{TaskID: t.ID, Attempts: t.Attempts, Last: t.Error}
		cause := &models.TaskError{Class: models.ClassExhaustedRetries, Message: exhausted.Error()}
		if t.Error != nil {
			cause.Code = t.Error.Code
		}
		return cause
	}
	if t.Error != nil {
		c := *t.Error
		c.Message = fmt.Sprintf("task %s: %s", t.ID, c.Message)
		return &c
	}
	return &models.TaskError{Class: models.ClassWorker, Message: fmt.Sprintf("task %s failed", t.ID)}
}

func (o *Orchestrator) finish(ctx context.Context, wf *models.Workflow, status models.WorkflowStatus, cause *models.TaskError) error {
	now := o.now()
	wf.Status = status
	wf.Error = cause
	wf.CompletedAt = &now
	if err := o.store.UpdateWorkflow(ctx, wf); err != nil {
		return err
	}

	o.metrics.WorkflowsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	if status == models.WorkflowCompleted {
		o.logger.Info("workflow completed", "workflow_id", wf.ID, "duration", now.Sub(wf.CreatedAt).String())
		o.publish(ctx, events.TopicWorkflowCompleted, workflowEvent(wf))
	} else {
		o.logger.Error("workflow failed", "workflow_id", wf.ID, "error", cause.Message)
		o.publish(ctx, events.TopicWorkflowFailed, workflowEvent(wf))
	}
	return nil
}

// dispatchDue dispatches pending tasks whose dependencies completed and
// retrying tasks whose backoff has elapsed.
func (o *Orchestrator) dispatchDue(ctx context.Context, tasks []*models.Task) error {
	now := o.now()
	due := planner.Ready(tasks)
	for _, t := range tasks {
		if t.Status == models.TaskRetrying && (t.NextAttemptAt == nil || !now.Before(*t.NextAttemptAt)) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}

	results := make(map[string]map[string]any, len(tasks))
	for _, t := range tasks {
		if t.Status == models.TaskCompleted {
			results[t.ID] = t.Result
		}
	}

	var g errgroup.Group
	g.SetLimit(dispatchConcurrency)
	for _, t := range due {
		t := t
		g.Go(func() error {
			return o.dispatch(ctx, t, results)
		})
	}
	return g.Wait()
}

// dispatch claims the task for a new attempt and hands it to a worker. The
// claim is persisted before the network call so that the call never runs
// while another instance could claim the same attempt.
func (o *Orchestrator) dispatch(ctx context.Context, task *models.Task, results map[string]map[string]any) error {
	if task.Attempts >= o.policy.MaxAttempts {
		return nil
	}
	now := o.now()
	deadline := now.Add(o.opts.DispatchDeadline)
	task.Attempts++
	task.Status = models.TaskDispatched
	task.DispatchedAt = &now
	task.DeadlineAt = &deadline
	task.NextAttemptAt = nil

	err := o.store.UpdateTask(ctx, task)
	if errors.Is(err, models.ErrVersionConflict) || errors.Is(err, models.ErrWorkflowTerminal) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("claiming task %s: %w", task.ID, err)
	}

	cid := models.CorrelationFor(task)
	req := models.DispatchRequest{
		CorrelationID: cid.String(),
		WorkflowID:    task.WorkflowID,
		TaskID:        task.ID,
		Kind:          task.Kind,
		Attempt:       task.Attempts,
		Description:   task.Description,
		Input:         task.Input,
		CallbackURL:   o.opts.CallbackURL,
	}
	for _, dep := range task.Dependencies {
		if r, ok := results[dep]; ok {
			if req.Upstream == nil {
				req.Upstream = make(map[string]map[string]any)
			}
			req.Upstream[dep] = r
		}
	}

	o.metrics.TasksDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", string(task.Kind))))
	o.logger.Info("dispatching task",
		"workflow_id", task.WorkflowID, "task_id", task.ID, "attempt", task.Attempts, "agent", task.Kind)
	o.publish(ctx, events.TopicTaskDispatched, taskEvent(task))

	dctx, cancel := context.WithTimeout(ctx, o.opts.DispatchTimeout)
	defer cancel()
	if err := o.dispatcher.Dispatch(dctx, req); err != nil {
		derr := &models.DispatchTimeoutError{Kind: task.Kind, Cause: err}
		return o.HandleCompletion(ctx, models.CompletionSignal{
			CorrelationID: req.CorrelationID,
			Error:         &models.TaskError{Class: models.ClassDispatchTimeout, Message: derr.Error()},
			ReportedAt:    o.now(),
		})
	}
	return nil
}

// schedule runs advance for the workflow after delay in the background.
func (o *Orchestrator) schedule(workflowID string, delay time.Duration) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-o.ctx.Done():
				return
			}
		}
		if err := o.advance(o.ctx, workflowID); err != nil && o.ctx.Err() == nil {
			o.logger.Error("advancing workflow", "workflow_id", workflowID, "error", err)
		}
	}()
}

// Subscribe wires the orchestrator to the event router's completion topic.
func (o *Orchestrator) Subscribe(r *events.Router) error {
	return r.Subscribe(events.TopicTaskCompletion, "orchestrator", func(ctx context.Context, ev events.Event) error {
		var sig models.CompletionSignal
		if err := ev.Decode(&sig); err != nil {
			o.logger.Error("dropping undecodable completion", "event_id", ev.ID, "error", err)
			return nil
		}
		err := o.HandleCompletion(ctx, sig)
		var verr *models.ValidationError
		if models.IsNotFound(err) || errors.As(err, &verr) {
			o.logger.Warn("dropping completion", "correlation_id", sig.CorrelationID, "error", err)
			return nil
		}
		return err
	})
}

// Close stops background work and waits for it to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) publish(ctx context.Context, topic string, payload any) {
	if err := o.events.Publish(ctx, topic, payload); err != nil && !errors.Is(err, events.ErrClosed) {
		o.logger.Warn("publishing event", "topic", topic, "error", err)
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

// TaskEvent is the payload of task.* topics.
type TaskEvent struct {
	CorrelationID string            `json:"correlation_id"`
	WorkflowID    string            `json:"workflow_id"`
	TaskID        string            `json:"task_id"`
	Kind          models.WorkerKind `json:"agent"`
	Status        models.TaskStatus `json:"status"`
	Attempt       int               `json:"attempt"`
	Error         *models.TaskError `json:"error,omitempty"`
}

// WorkflowEvent is the payload of workflow.* topics.
type WorkflowEvent struct {
	WorkflowID  string                `json:"workflow_id"`
	Template    string                `json:"template"`
	Status      models.WorkflowStatus `json:"status"`
	RequestedBy string                `json:"requested_by,omitempty"`
	Error       *models.TaskError     `json:"error,omitempty"`
}

func taskEvent(t *models.Task) TaskEvent {
	return TaskEvent{
		CorrelationID: models.CorrelationFor(t).String(),
		WorkflowID:    t.WorkflowID,
		TaskID:        t.ID,
		Kind:          t.Kind,
		Status:        t.Status,
		Attempt:       t.Attempts,
		Error:         t.Error,
	}
}

func workflowEvent(wf *models.Workflow) WorkflowEvent {
	return WorkflowEvent{
		WorkflowID:  wf.ID,
		Template:    wf.Template,
		Status:      wf.Status,
		RequestedBy: wf.RequestedBy,
		Error:       wf.Error,
	}
}
