package orchestrator

import (
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/domain/graph"
)

// BuildGraph creates the dependency graph of a task list: one vertex per
// task and one edge from every dependency to its dependent. A dependency
// on an id that is not in the list still becomes a vertex.
func BuildGraph(tasks []*domain.Task) *graph.Graph[string] {
	g := graph.New[string]()
	for _, task := range tasks {
		g.AddVertex(task.TaskID)
	}
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			g.AddEdge(dep, task.TaskID)
		}
	}
	return g
}

// findTerminals locates the start and end tasks. dup is set when more
// than one task of either type exists.
func findTerminals(tasks []*domain.Task) (start, end *domain.Task, dup bool) {
	for _, task := range tasks {
		switch task.TaskType {
		case domain.TaskTypeStart:
			if start != nil {
				dup = true
				continue
			}
			start = task
		case domain.TaskTypeEnd:
			if end != nil {
				dup = true
				continue
			}
			end = task
		}
	}
	return start, end, dup
}

// indexTasks maps task ids to tasks
func indexTasks(tasks []*domain.Task) map[string]*domain.Task {
	byID := make(map[string]*domain.Task, len(tasks))
	for _, task := range tasks {
		byID[task.TaskID] = task
	}
	return byID
}
