// Package webhook reconciles inbound CRM change notifications into the
// durable opportunity store. The CRM does not label what changed, so the
// event type is inferred from the payload shape and prior local state.
package webhook

import (
	"strconv"
	"strings"
)

// EventType is the inferred semantic event of a webhook payload.
type EventType string

const (
	// EventContactOnly means no opportunity identifier was present.
	// Acknowledged successfully, produces no state change.
	EventContactOnly EventType = "contact_only"
	EventCreated     EventType = "created"
	EventUpdated     EventType = "updated"
	// EventStageChanged is a routing subtype of updated: only the
	// stage/status fields are recomputed, other fields stay untouched.
	EventStageChanged EventType = "stage_changed"
	// EventDeleted is only reachable when the payload explicitly marks
	// deletion; the CRM sends no reliable implicit signal for it.
	EventDeleted EventType = "deleted"
)

// Reported maps the internal classification onto the event type surfaced
// to webhook callers, folding the stage subtype back into updated.
func (e EventType) Reported() EventType {
	if e == EventStageChanged {
		return EventUpdated
	}
	return e
}

// Field name aliases. The CRM is inconsistent about casing and wrapping,
// so every lookup walks an alias list in priority order.
var (
	idAliases       = []string{"id", "opportunityId", "opportunity_id", "_id"}
	stageAliases    = []string{"pipelineStageId", "pipeline_stage_id"}
	monetaryAliases = []string{"monetaryValue", "amount"}
	nameAliases     = []string{"name", "opportunityName", "title"}
	contactAliases  = []string{"contactId", "contact_id"}
	pipelineAliases = []string{"pipelineId", "pipeline_id"}
	assignedAliases = []string{"assignedTo", "assigned_to"}
)

// envelopeKeys are checked in priority order to unwrap the actual change
// data; the first present wins.
var envelopeKeys = []string{"data", "payload", "opportunity"}

// Unwrap peels the envelope off a webhook payload. Payloads may nest the
// actual change under data, payload or opportunity; a flat payload is
// returned as-is.
func Unwrap(envelope map[string]interface{}) map[string]interface{} {
	for _, key := range envelopeKeys {
		if inner, ok := envelope[key].(map[string]interface{}); ok {
			return inner
		}
	}
	return envelope
}

// Classify infers the event type from whether the opportunity already
// exists locally and which fields the payload carries. Pure function;
// no I/O.
func Classify(priorExists bool, fields map[string]interface{}) EventType {
	if OpportunityID(fields) == "" {
		return EventContactOnly
	}
	if deletionMarked(fields) {
		return EventDeleted
	}
	if !priorExists {
		return EventCreated
	}
	if hasAny(fields, stageAliases) || hasAny(fields, []string{"status"}) {
		return EventStageChanged
	}
	return EventUpdated
}

// OpportunityID extracts the opportunity identifier, empty when absent.
func OpportunityID(fields map[string]interface{}) string {
	s := stringField(fields, idAliases)
	if s == nil {
		return ""
	}
	return *s
}

// deletionMarked reports whether the payload explicitly flags a deletion.
func deletionMarked(fields map[string]interface{}) bool {
	if v, ok := fields["deleted"].(bool); ok && v {
		return true
	}
	for _, key := range []string{"eventType", "event_type", "type"} {
		if v, ok := fields[key].(string); ok && strings.Contains(strings.ToLower(v), "delete") {
			return true
		}
	}
	return false
}

func hasAny(fields map[string]interface{}, aliases []string) bool {
	for _, key := range aliases {
		if _, ok := fields[key]; ok {
			return true
		}
	}
	return false
}

func stringField(fields map[string]interface{}, aliases []string) *string {
	for _, key := range aliases {
		switch v := fields[key].(type) {
		case string:
			if v != "" {
				return &v
			}
		case float64:
			// Numeric ids come through json as float64.
			s := trimFloat(v)
			return &s
		}
	}
	return nil
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func floatField(fields map[string]interface{}, aliases []string) *float64 {
	for _, key := range aliases {
		switch v := fields[key].(type) {
		case float64:
			return &v
		case string:
			if f, ok := parseFloat(v); ok {
				return &f
			}
		}
	}
	return nil
}
