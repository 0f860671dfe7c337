package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"qr-scheduler/pkg/storage"
)

// Policy decides how simultaneous live destinations on one QR are treated.
type Policy string

const (
	// PolicyPriority allows overlaps and picks the winner at read time.
	PolicyPriority Policy = "priority"
	// PolicySingleActive forbids overlapping enabled windows at write time.
	// Stored data that still overlaps is resolved as under PolicyPriority and
	// flagged as a conflict.
	PolicySingleActive Policy = "single_active"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyPriority:
		return PolicyPriority, nil
	case PolicySingleActive:
		return PolicySingleActive, nil
	default:
		return "", fmt.Errorf("unknown resolver policy %q", s)
	}
}

// Resolution is the outcome of resolving one QR at one instant.
type Resolution struct {
	Destination *storage.Destination `json:"destination,omitempty"`
	Status      Status               `json:"status,omitempty"`
	Candidates  int                  `json:"candidates"`
	Conflict    bool                 `json:"conflict"`
}

// Found reports whether a destination is live.
func (r Resolution) Found() bool {
	return r.Destination != nil
}

type Resolver struct {
	Policy Policy
}

func NewResolver(policy Policy) *Resolver {
	return &Resolver{Policy: policy}
}

// Resolve selects the destination to serve, or nil when nothing is live.
func Resolve(destinations []storage.Destination, now time.Time) *storage.Destination {
	return NewResolver(PolicyPriority).Resolve(destinations, now).Destination
}

// Resolve never mutates its input and is safe for concurrent use.
func (r *Resolver) Resolve(destinations []storage.Destination, now time.Time) Resolution {
	var best *storage.Destination
	var bestStatus Status
	candidates := 0

	for i := range destinations {
		d := &destinations[i]
		status := Classify(d, now)
		if !status.Live() {
			continue
		}
		candidates++
		if best == nil || outranks(d, best) {
			best = d
			bestStatus = status
		}
	}

	if best == nil {
		return Resolution{}
	}
	winner := *best
	return Resolution{
		Destination: &winner,
		Status:      bestStatus,
		Candidates:  candidates,
		Conflict:    r.Policy == PolicySingleActive && candidates > 1,
	}
}

// outranks orders by priority, then most recently created, then ID. IDs are
// ULIDs so the last step still favours the newer record.
func outranks(a, b *storage.Destination) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Entry pairs a destination with its computed status.
type Entry struct {
	Destination storage.Destination `json:"destination"`
	Status      Status              `json:"status"`
	Serving     bool                `json:"serving"`
}

// Timeline returns the QR's destinations in display order (scheduled ones by
// start, then open-started ones by creation) with their status at now.
func Timeline(destinations []storage.Destination, now time.Time) []Entry {
	winner := Resolve(destinations, now)
	out := make([]Entry, 0, len(destinations))
	for i := range destinations {
		d := destinations[i]
		out = append(out, Entry{
			Destination: d,
			Status:      Classify(&d, now),
			Serving:     winner != nil && winner.ID == d.ID,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Destination, out[j].Destination
		switch {
		case a.StartAt == nil && b.StartAt == nil:
			return a.CreatedAt.Before(b.CreatedAt)
		case a.StartAt == nil:
			return true
		case b.StartAt == nil:
			return false
		default:
			return a.StartAt.Before(*b.StartAt)
		}
	})
	return out
}

// WindowsOverlap reports whether two destinations could be live at the same
// instant. Disabled destinations never overlap anything.
func WindowsOverlap(a, b *storage.Destination) bool {
	if !a.IsActive || !b.IsActive {
		return false
	}
	// Treat missing bounds as infinite.
	if a.EndAt != nil && b.StartAt != nil && a.EndAt.Before(*b.StartAt) {
		return false
	}
	if b.EndAt != nil && a.StartAt != nil && b.EndAt.Before(*a.StartAt) {
		return false
	}
	return true
}
