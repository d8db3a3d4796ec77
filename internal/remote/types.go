package remote

import "encoding/json"

// Task is a unit of work attached to an opportunity. Identity is ID.
// DueDate is the CRM's ISO-8601 string, empty when the task has none;
// the CRM mixes date-only and full timestamps, both of which sort
// correctly as strings.
type Task struct {
	ID              string `json:"id"`
	OpportunityID   string `json:"opportunityId"`
	OpportunityName string `json:"opportunityName,omitempty"`
	PipelineID      string `json:"pipelineId"`
	AssignedTo      string `json:"assignedTo,omitempty"`
	DueDate         string `json:"dueDate,omitempty"`
	Completed       bool   `json:"completed"`

	// Extra carries freeform CRM fields that the integration passes
	// through untouched.
	Extra map[string]json.RawMessage `json:"-"`
}

// taskKnownFields are stripped from Extra on unmarshal.
var taskKnownFields = []string{
	"id", "opportunityId", "opportunityName", "pipelineId",
	"assignedTo", "dueDate", "completed",
}

type taskAlias Task

// UnmarshalJSON decodes the typed fields and keeps the remainder of the
// payload in Extra.
func (t *Task) UnmarshalJSON(data []byte) error {
	var a taskAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range taskKnownFields {
		delete(raw, k)
	}
	if len(raw) == 0 {
		raw = nil
	}
	*t = Task(a)
	t.Extra = raw
	return nil
}

// Stage is a step in a pipeline.
type Stage struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Pipeline is a named collection of stages through which opportunities
// progress.
type Pipeline struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	LocationID string  `json:"locationId"`
	Stages     []Stage `json:"stages"`
}
