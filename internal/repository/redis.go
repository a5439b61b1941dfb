package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// RedisStore is a key-value StateStore. Every entity is one JSON string key;
// conditional writes use WATCH/MULTI so a concurrent writer aborts the
// transaction instead of overwriting.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a new RedisStore. prefix namespaces every key.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "agentic"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) workflowKey(id string) string {
	return s.prefix + ":wf:" + id
}

func (s *RedisStore) taskKey(workflowID, taskID string) string {
	return s.prefix + ":task:" + workflowID + ":" + taskID
}

func (s *RedisStore) activeKey() string {
	return s.prefix + ":active"
}

func (s *RedisStore) CreateWorkflow(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error {
	wfBody, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encoding workflow: %w", err)
	}
	taskBodies := make(map[string][]byte, len(tasks))
	for _, t := range tasks {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encoding task %s: %w", t.ID, err)
		}
		taskBodies[s.taskKey(wf.ID, t.ID)] = b
	}

	wfKey := s.workflowKey(wf.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, wfKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return models.ErrWorkflowExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, wfKey, wfBody, 0)
			for key, body := range taskBodies {
				pipe.Set(ctx, key, body, 0)
			}
			if !wf.Status.Terminal() {
				pipe.SAdd(ctx, s.activeKey(), wf.ID)
			}
			return nil
		})
		return err
	}, wfKey)
	if errors.Is(err, redis.TxFailedErr) {
		return models.ErrWorkflowExists
	}
	return err
}

func (s *RedisStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	return getJSON[models.Workflow](ctx, s.rdb, s.workflowKey(id), "workflow", id)
}

func (s *RedisStore) ListTasks(ctx context.Context, workflowID string) ([]*models.Task, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(wf.TaskIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(wf.TaskIDs))
	for i, id := range wf.TaskIDs {
		keys[i] = s.taskKey(workflowID, id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}
	tasks := make([]*models.Task, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var t models.Task
		if err := json.Unmarshal([]byte(str), &t); err != nil {
			return nil, fmt.Errorf("decoding task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

func (s *RedisStore) GetTask(ctx context.Context, workflowID, taskID string) (*models.Task, error) {
	return getJSON[models.Task](ctx, s.rdb, s.taskKey(workflowID, taskID), "task", workflowID+"/"+taskID)
}

func (s *RedisStore) UpdateTask(ctx context.Context, task *models.Task) error {
	wfKey := s.workflowKey(task.WorkflowID)
	taskKey := s.taskKey(task.WorkflowID, task.ID)
	next := task.Clone()
	next.Version = task.Version + 1

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := getJSON[models.Task](ctx, tx, taskKey, "task", task.WorkflowID+"/"+task.ID)
		if err != nil {
			return err
		}
		wf, err := getJSON[models.Workflow](ctx, tx, wfKey, "workflow", task.WorkflowID)
		if err != nil {
			return err
		}
		if wf.Status.Terminal() {
			return models.ErrWorkflowTerminal
		}
		if current.Version != task.Version {
			return models.ErrVersionConflict
		}
		body, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, taskKey, body, 0)
			return nil
		})
		return err
	}, taskKey, wfKey)
	if errors.Is(err, redis.TxFailedErr) {
		return models.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	task.Version = next.Version
	return nil
}

func (s *RedisStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	wfKey := s.workflowKey(wf.ID)
	next := wf.Clone()
	next.Version = wf.Version + 1

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := getJSON[models.Workflow](ctx, tx, wfKey, "workflow", wf.ID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return models.ErrWorkflowTerminal
		}
		if current.Version != wf.Version {
			return models.ErrVersionConflict
		}
		body, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, wfKey, body, 0)
			if next.Status.Terminal() {
				pipe.SRem(ctx, s.activeKey(), wf.ID)
			}
			return nil
		})
		return err
	}, wfKey)
	if errors.Is(err, redis.TxFailedErr) {
		return models.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	wf.Version = next.Version
	return nil
}

func (s *RedisStore) ListActiveWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	ids, err := s.rdb.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing active workflows: %w", err)
	}
	out := make([]*models.Workflow, 0, len(ids))
	for _, id := range ids {
		wf, err := s.GetWorkflow(ctx, id)
		if models.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !wf.Status.Terminal() {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// getJSON loads and decodes one key. It accepts both the client and a
// transaction so reads inside WATCH see the watched keys.
func getJSON[T any](ctx context.Context, c redis.Cmdable, key, entity, id string) (*T, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(entity, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s %s: %w", entity, id, err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", entity, id, err)
	}
	return &v, nil
}
