package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

func newFixture() (*models.Workflow, []*models.Task) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	wf := &models.Workflow{
		ID:          "wf-" + uuid.New().String()[:12],
		Template:    "microservice-rest-api",
		Parameters:  map[string]any{"service_name": "user-service"},
		RequestedBy: "dev@example.com",
		TaskIDs:     []string{"t-a", "t-b"},
		Status:      models.WorkflowInProgress,
		CreatedAt:   now,
	}
	tasks := []*models.Task{
		models.NewTask(wf.ID, models.TaskSpec{ID: "t-a", Kind: models.KindCodegen}, now),
		models.NewTask(wf.ID, models.TaskSpec{ID: "t-b", Kind: models.KindPolicy, Dependencies: []string{"t-a"}}, now),
	}
	return wf, tasks
}

// runStateStoreSuite checks the StateStore contract; every implementation runs it.
func runStateStoreSuite(t *testing.T, store StateStore) {
	ctx := context.Background()

	t.Run("create and read back", func(t *testing.T) {
		wf, tasks := newFixture()
		require.NoError(t, store.CreateWorkflow(ctx, wf, tasks))

		got, err := store.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, wf.Template, got.Template)
		assert.Equal(t, wf.TaskIDs, got.TaskIDs)

		listed, err := store.ListTasks(ctx, wf.ID)
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, "t-a", listed[0].ID)
		assert.Equal(t, []string{"t-a"}, listed[1].Dependencies)

		task, err := store.GetTask(ctx, wf.ID, "t-b")
		require.NoError(t, err)
		assert.Equal(t, models.KindPolicy, task.Kind)
	})

	t.Run("duplicate workflow id rejected", func(t *testing.T) {
		wf, tasks := newFixture()
		require.NoError(t, store.CreateWorkflow(ctx, wf, tasks))
		assert.ErrorIs(t, store.CreateWorkflow(ctx, wf, tasks), models.ErrWorkflowExists)
	})

	t.Run("unknown ids are not found", func(t *testing.T) {
		_, err := store.GetWorkflow(ctx, "wf-missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = store.GetTask(ctx, "wf-missing", "t-a")
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = store.ListTasks(ctx, "wf-missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("conditional task update", func(t *testing.T) {
		wf, tasks := newFixture()
		require.NoError(t, store.CreateWorkflow(ctx, wf, tasks))

		first, err := store.GetTask(ctx, wf.ID, "t-a")
		require.NoError(t, err)
		stale := first.Clone()

		first.Status = models.TaskDispatched
		first.Attempts = 1
		require.NoError(t, store.UpdateTask(ctx, first))
		assert.Equal(t, int64(1), first.Version)

		stale.Status = models.TaskFailed
		assert.ErrorIs(t, store.UpdateTask(ctx, stale), models.ErrVersionConflict)

		got, err := store.GetTask(ctx, wf.ID, "t-a")
		require.NoError(t, err)
		assert.Equal(t, models.TaskDispatched, got.Status)
		assert.Equal(t, 1, got.Attempts)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("concurrent writers serialize", func(t *testing.T) {
		wf, tasks := newFixture()
		require.NoError(t, store.CreateWorkflow(ctx, wf, tasks))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				task, err := store.GetTask(ctx, wf.ID, "t-a")
				if err != nil {
					return
				}
				if task.Version != 0 {
					return
				}
				task.Description = fmt.Sprintf("writer-%d", i)
				if store.UpdateTask(ctx, task) == nil {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("terminal workflow freezes tasks", func(t *testing.T) {
		wf, tasks := newFixture()
		require.NoError(t, store.CreateWorkflow(ctx, wf, tasks))

		got, err := store.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		now := time.Now().UTC()
		got.Status = models.WorkflowCompleted
		got.CompletedAt = &now
		require.NoError(t, store.UpdateWorkflow(ctx, got))

		task, err := store.GetTask(ctx, wf.ID, "t-a")
		require.NoError(t, err)
		task.Status = models.TaskFailed
		assert.ErrorIs(t, store.UpdateTask(ctx, task), models.ErrWorkflowTerminal)

		got.Status = models.WorkflowFailed
		assert.ErrorIs(t, store.UpdateWorkflow(ctx, got), models.ErrWorkflowTerminal)

		active, err := store.ListActiveWorkflows(ctx)
		require.NoError(t, err)
		for _, a := range active {
			assert.NotEqual(t, wf.ID, a.ID)
		}
	})

	t.Run("active workflows listed", func(t *testing.T) {
		wf, tasks := newFixture()
		require.NoError(t, store.CreateWorkflow(ctx, wf, tasks))

		active, err := store.ListActiveWorkflows(ctx)
		require.NoError(t, err)
		var found bool
		for _, a := range active {
			found = found || a.ID == wf.ID
		}
		assert.True(t, found)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	runStateStoreSuite(t, NewMemoryStore())
}

func TestMemoryStoreIsolatesNestedResults(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	wf, tasks := newFixture()
	require.NoError(t, store.CreateWorkflow(ctx, wf, tasks))

	task, err := store.GetTask(ctx, wf.ID, "t-a")
	require.NoError(t, err)
	task.Status = models.TaskCompleted
	task.Result = map[string]any{"files": []any{"main.go"}, "slo": map[string]any{"availability": 99.9}}
	require.NoError(t, store.UpdateTask(ctx, task))

	// the caller keeps mutating its copy after the write
	task.Result["files"].([]any)[0] = "changed"
	read, err := store.GetTask(ctx, wf.ID, "t-a")
	require.NoError(t, err)
	read.Result["slo"].(map[string]any)["availability"] = 0.0

	again, err := store.GetTask(ctx, wf.ID, "t-a")
	require.NoError(t, err)
	assert.Equal(t, []any{"main.go"}, again.Result["files"])
	assert.Equal(t, 99.9, again.Result["slo"].(map[string]any)["availability"])
}
