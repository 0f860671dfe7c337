package trigger

import (
	"time"

	"qr-scheduler/pkg/storage"
)

type ActionStatus string

const (
	StatusApplied ActionStatus = "applied"
	StatusSkipped ActionStatus = "skipped"
	StatusFailed  ActionStatus = "failed"
)

// State is the part of a destination a trigger may change.
type State struct {
	IsActive bool       `json:"is_active"`
	StartAt  *time.Time `json:"start_at,omitempty"`
	EndAt    *time.Time `json:"end_at,omitempty"`
}

func stateOf(d *storage.Destination) State {
	return State{IsActive: d.IsActive, StartAt: d.StartAt, EndAt: d.EndAt}
}

func (s State) equal(o State) bool {
	return s.IsActive == o.IsActive && sameTime(s.StartAt, o.StartAt) && sameTime(s.EndAt, o.EndAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Mutation is one destination write performed for a trigger.
type Mutation struct {
	DestinationID string `json:"destination_id"`
	QRID          string `json:"qr_id"`
	Before        State  `json:"before"`
	After         State  `json:"after"`
	Version       int64  `json:"version"`
}

// AppliedAction is the audit record of one fired trigger.
type AppliedAction struct {
	TriggerID           string                `json:"trigger_id"`
	Kind                storage.TriggerKind   `json:"kind"`
	Action              storage.TriggerAction `json:"action"`
	TargetQRID          string                `json:"target_qr_id"`
	TargetDestinationID string                `json:"target_destination_id,omitempty"`
	Status              ActionStatus          `json:"status"`
	Reason              string                `json:"reason,omitempty"`
	Mutations           []Mutation            `json:"mutations,omitempty"`
	FiredAt             time.Time             `json:"fired_at"`
}

func newAction(t storage.Trigger, now time.Time) AppliedAction {
	a := AppliedAction{
		TriggerID:  t.ID,
		Kind:       t.Kind,
		Action:     t.Action,
		TargetQRID: t.TargetQRID,
		FiredAt:    now,
	}
	if t.TargetDestinationID != nil {
		a.TargetDestinationID = *t.TargetDestinationID
	}
	return a
}

// Plan picks the triggers that an event of kind with the given occurrence
// count would fire. Already fired triggers are excluded; on_count triggers
// match only at their exact threshold.
func Plan(triggers []storage.Trigger, kind storage.TriggerKind, count int64) []storage.Trigger {
	var out []storage.Trigger
	for _, t := range triggers {
		if t.Kind != kind || t.Fired() {
			continue
		}
		if kind == storage.KindOnCount && (t.Threshold == nil || *t.Threshold != count) {
			continue
		}
		out = append(out, t)
	}
	return out
}
