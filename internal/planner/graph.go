package planner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// ErrCycleDetected indicates a circular dependency in a task plan.
var ErrCycleDetected = errors.New("circular dependency detected")

// ValidateGraph checks that a plan is a well formed DAG: non-empty, unique
// task ids, known worker kinds, dependencies that name tasks in the plan, and
// no cycles.
func ValidateGraph(specs []models.TaskSpec) error {
	if len(specs) == 0 {
		return errors.New("plan has no tasks")
	}

	ids := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.ID == "" {
			return errors.New("task without id")
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate task id %s", s.ID)
		}
		if !s.Kind.Valid() {
			return fmt.Errorf("task %s has unknown agent %q", s.ID, s.Kind)
		}
		ids[s.ID] = true
	}
	for _, s := range specs {
		for _, dep := range s.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("task %s depends on unknown task %s", s.ID, dep)
			}
		}
	}
	if _, err := TopologicalOrder(specs); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder returns task ids with every dependency before its
// dependents. Ties keep plan order.
func TopologicalOrder(specs []models.TaskSpec) ([]string, error) {
	edges := make(map[string][]string, len(specs))
	for _, s := range specs {
		edges[s.ID] = s.Dependencies
	}

	// 0 = unvisited, 1 = in progress, 2 = done
	colors := make(map[string]int, len(specs))
	order := make([]string, 0, len(specs))

	var visit func(id string) error
	visit = func(id string) error {
		colors[id] = 1
		for _, dep := range edges[id] {
			switch colors[dep] {
			case 1:
				return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, id, dep)
			case 0:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		colors[id] = 2
		order = append(order, id)
		return nil
	}

	for _, s := range specs {
		if colors[s.ID] == 0 {
			if err := visit(s.ID); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// Ready returns the tasks that are pending and whose dependencies have all
// completed, highest priority (lowest number) first.
func Ready(tasks []*models.Task) []*models.Task {
	status := make(map[string]models.TaskStatus, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}

	var ready []*models.Task
	for _, t := range tasks {
		if t.Status != models.TaskPending {
			continue
		}
		blocked := false
		for _, dep := range t.Dependencies {
			if status[dep] != models.TaskCompleted {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority < ready[j].Priority })
	return ready
}
