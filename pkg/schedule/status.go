package schedule

import (
	"time"

	"qr-scheduler/pkg/storage"
)

// Status is the lifecycle state of a destination at a given instant. It is
// always computed, never stored.
type Status string

const (
	StatusPermanent Status = "permanent"
	StatusUpcoming  Status = "upcoming"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
)

// Live reports whether a destination in this state may be served.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusPermanent
}

// Classify maps a destination and an instant to its status. The administrative
// switch wins over the time window. A window whose start lies after its end
// cannot be live and is reported as expired.
func Classify(d *storage.Destination, now time.Time) Status {
	if !d.IsActive {
		return StatusExpired
	}
	if d.StartAt == nil && d.EndAt == nil {
		return StatusPermanent
	}
	if d.StartAt != nil && d.EndAt != nil && d.StartAt.After(*d.EndAt) {
		return StatusExpired
	}
	if d.StartAt != nil && now.Before(*d.StartAt) {
		return StatusUpcoming
	}
	if d.EndAt != nil && now.After(*d.EndAt) {
		return StatusExpired
	}
	return StatusActive
}
