package storage

import (
	"time"
)

type DestinationType string

const (
	TypeExternalLink DestinationType = "external_link"
	TypeAlbum        DestinationType = "album"
	TypeMicrosite    DestinationType = "microsite"
	TypeChallenge    DestinationType = "challenge"
	TypeMessageWall  DestinationType = "message_wall"
	TypePlaylist     DestinationType = "playlist"
	TypeMap          DestinationType = "map"
	TypeSurprise     DestinationType = "surprise"
	TypeTimeline     DestinationType = "timeline"
)

var destinationTypes = map[DestinationType]bool{
	TypeExternalLink: true,
	TypeAlbum:        true,
	TypeMicrosite:    true,
	TypeChallenge:    true,
	TypeMessageWall:  true,
	TypePlaylist:     true,
	TypeMap:          true,
	TypeSurprise:     true,
	TypeTimeline:     true,
}

// Destination is one schedulable piece of content bound to a QR.
type Destination struct {
	ID        string          `json:"id" db:"id"`
	QRID      string          `json:"qr_id" db:"qr_id"`
	Type      DestinationType `json:"type" db:"type"`
	Label     string          `json:"label" db:"label"`
	TargetURL *string         `json:"target_url,omitempty" db:"target_url"`
	IsActive  bool            `json:"is_active" db:"is_active"`
	StartAt   *time.Time      `json:"start_at,omitempty" db:"start_at"`
	EndAt     *time.Time      `json:"end_at,omitempty" db:"end_at"`
	Priority  int             `json:"priority" db:"priority"`
	PinHash   *string         `json:"-" db:"pin_hash"`
	Version   int64           `json:"version" db:"version"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// HasPin reports whether the destination sits behind an access PIN.
func (d *Destination) HasPin() bool {
	return d.PinHash != nil && *d.PinHash != ""
}

// DestinationPatch describes a partial update. Nil fields are left untouched;
// the Clear flags null out the corresponding window bound.
type DestinationPatch struct {
	Label        *string    `json:"label,omitempty"`
	TargetURL    *string    `json:"target_url,omitempty"`
	IsActive     *bool      `json:"is_active,omitempty"`
	StartAt      *time.Time `json:"start_at,omitempty"`
	EndAt        *time.Time `json:"end_at,omitempty"`
	ClearStartAt bool       `json:"clear_start_at,omitempty"`
	ClearEndAt   bool       `json:"clear_end_at,omitempty"`
	Priority     *int       `json:"priority,omitempty"`
	PinHash      *string    `json:"-"`
	ClearPin     bool       `json:"-"`
}

// IsEmpty reports whether applying the patch would change nothing.
func (p DestinationPatch) IsEmpty() bool {
	return p.Label == nil && p.TargetURL == nil && p.IsActive == nil &&
		p.StartAt == nil && p.EndAt == nil && !p.ClearStartAt && !p.ClearEndAt &&
		p.Priority == nil && p.PinHash == nil && !p.ClearPin
}

// Apply returns a copy of d with the patch applied. Version and timestamps are
// left to the store.
func (p DestinationPatch) Apply(d Destination) Destination {
	if p.Label != nil {
		d.Label = *p.Label
	}
	if p.TargetURL != nil {
		u := *p.TargetURL
		d.TargetURL = &u
	}
	if p.IsActive != nil {
		d.IsActive = *p.IsActive
	}
	if p.ClearStartAt {
		d.StartAt = nil
	} else if p.StartAt != nil {
		t := p.StartAt.UTC()
		d.StartAt = &t
	}
	if p.ClearEndAt {
		d.EndAt = nil
	} else if p.EndAt != nil {
		t := p.EndAt.UTC()
		d.EndAt = &t
	}
	if p.Priority != nil {
		d.Priority = *p.Priority
	}
	if p.ClearPin {
		d.PinHash = nil
	} else if p.PinHash != nil {
		h := *p.PinHash
		d.PinHash = &h
	}
	return d
}

type TriggerKind string

const (
	KindOnScan     TriggerKind = "on_scan"
	KindOnComplete TriggerKind = "on_complete"
	KindOnCount    TriggerKind = "on_count"
)

type TriggerAction string

const (
	ActionActivate   TriggerAction = "activate"
	ActionDeactivate TriggerAction = "deactivate"
	ActionSwitch     TriggerAction = "switch"
)

// Trigger fires an action against destinations of another QR when an event
// is observed on its source destination. Triggers are one-shot: FiredAt is
// set exactly once by MarkTriggerFired.
type Trigger struct {
	ID                  string        `json:"id" db:"id"`
	SourceDestinationID string        `json:"source_destination_id" db:"source_destination_id"`
	Kind                TriggerKind   `json:"kind" db:"kind"`
	Threshold           *int64        `json:"threshold,omitempty" db:"threshold"`
	TargetQRID          string        `json:"target_qr_id" db:"target_qr_id"`
	Action              TriggerAction `json:"action" db:"action"`
	TargetDestinationID *string       `json:"target_destination_id,omitempty" db:"target_destination_id"`
	FiredAt             *time.Time    `json:"fired_at,omitempty" db:"fired_at"`
	FiredCount          int           `json:"fired_count" db:"fired_count"`
	CreatedAt           time.Time     `json:"created_at" db:"created_at"`
}

// Fired reports whether the trigger has already been claimed.
func (t *Trigger) Fired() bool {
	return t.FiredAt != nil
}
