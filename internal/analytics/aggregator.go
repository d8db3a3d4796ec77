// Package analytics computes summary statistics over a pipeline's task
// list. It is a pure read layer: callers hand it the tasks they got
// through the normal cache path.
package analytics

import (
	"math"

	"github.com/crmkit/taskbridge/internal/remote"
)

// Unassigned is reported when no task carries an assignee.
const Unassigned = "Unassigned"

// Summary is the aggregate view of one pipeline's tasks.
type Summary struct {
	PipelineID                  string `json:"pipelineId"`
	TotalTasks                  int    `json:"totalTasks"`
	CompletedTasks              int    `json:"completedTasks"`
	IncompleteTasks             int    `json:"incompleteTasks"`
	CompletionRate              int    `json:"completionRate"`
	MostActiveAssignee          string `json:"mostActiveAssignee"`
	OldestIncompleteTaskDueDate string `json:"oldestIncompleteTaskDueDate,omitempty"`
}

// Summarize computes the summary for a task list.
// CompletionRate is round(completed/total*100), 0 for an empty set.
// MostActiveAssignee ties break first-seen in task order.
func Summarize(pipelineID string, tasks []remote.Task) Summary {
	s := Summary{
		PipelineID:         pipelineID,
		TotalTasks:         len(tasks),
		MostActiveAssignee: Unassigned,
	}

	counts := make(map[string]int)
	var seen []string
	for i := range tasks {
		t := &tasks[i]
		if t.Completed {
			s.CompletedTasks++
		} else {
			if t.DueDate != "" && (s.OldestIncompleteTaskDueDate == "" || t.DueDate < s.OldestIncompleteTaskDueDate) {
				s.OldestIncompleteTaskDueDate = t.DueDate
			}
		}
		if t.AssignedTo != "" {
			if _, ok := counts[t.AssignedTo]; !ok {
				seen = append(seen, t.AssignedTo)
			}
			counts[t.AssignedTo]++
		}
	}
	s.IncompleteTasks = s.TotalTasks - s.CompletedTasks

	if s.TotalTasks > 0 {
		s.CompletionRate = int(math.Round(float64(s.CompletedTasks) / float64(s.TotalTasks) * 100))
	}

	// First-seen order makes the tie-break deterministic.
	best := 0
	for _, assignee := range seen {
		if counts[assignee] > best {
			best = counts[assignee]
			s.MostActiveAssignee = assignee
		}
	}
	return s
}
