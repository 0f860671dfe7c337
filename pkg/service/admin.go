package service

import (
	"context"
	"fmt"
	"time"

	"qr-scheduler/pkg/schedule"
	"qr-scheduler/pkg/storage"
)

type CreateDestinationRequest struct {
	Type      storage.DestinationType `json:"type"`
	Label     string                  `json:"label"`
	TargetURL *string                 `json:"target_url,omitempty"`
	IsActive  *bool                   `json:"is_active,omitempty"` // defaults to true
	StartAt   *time.Time              `json:"start_at,omitempty"`
	EndAt     *time.Time              `json:"end_at,omitempty"`
	Priority  int                     `json:"priority"`
	Pin       *string                 `json:"pin,omitempty"`
}

// UpdateDestinationRequest is a partial update. When Version is set the
// update only applies to that version of the record.
type UpdateDestinationRequest struct {
	storage.DestinationPatch
	Pin       *string `json:"pin,omitempty"`
	RemovePin bool    `json:"remove_pin,omitempty"`
	Version   *int64  `json:"version,omitempty"`
}

type CreateTriggerRequest struct {
	Kind                storage.TriggerKind   `json:"kind"`
	Threshold           *int64                `json:"threshold,omitempty"`
	TargetQRID          string                `json:"target_qr_id"`
	Action              storage.TriggerAction `json:"action"`
	TargetDestinationID *string               `json:"target_destination_id,omitempty"`
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *SchedulerService) CreateDestination(ctx context.Context, qrID string, req *CreateDestinationRequest) (*storage.Destination, error) {
	if err := checkQRID("qr_id", qrID); err != nil {
		return nil, err
	}
	now := s.now()
	d := &storage.Destination{
		ID:        storage.NewID(now),
		QRID:      qrID,
		Type:      req.Type,
		Label:     req.Label,
		TargetURL: req.TargetURL,
		IsActive:  true,
		StartAt:   utcPtr(req.StartAt),
		EndAt:     utcPtr(req.EndAt),
		Priority:  req.Priority,
		CreatedAt: now,
	}
	if req.IsActive != nil {
		d.IsActive = *req.IsActive
	}
	if req.Pin != nil {
		hash, err := hashPin(*req.Pin)
		if err != nil {
			return nil, err
		}
		d.PinHash = hash
	}
	if err := storage.ValidateDestination(d); err != nil {
		return nil, err
	}
	if err := s.checkSingleActive(ctx, d); err != nil {
		return nil, err
	}

	if err := s.store.CreateDestination(ctx, d); err != nil {
		s.logger.LogDestinationOperation(ctx, "create", d.ID, false)
		return nil, fmt.Errorf("create destination: %w", err)
	}
	s.invalidate(ctx, qrID)
	s.logger.LogDestinationOperation(ctx, "create", d.ID, true)
	return d, nil
}

func (s *SchedulerService) GetDestination(ctx context.Context, id string) (*storage.Destination, error) {
	return s.store.GetDestination(ctx, id)
}

// ListDestinations returns the QR's destinations in timeline order with
// their status at the service clock.
func (s *SchedulerService) ListDestinations(ctx context.Context, qrID string) ([]schedule.Entry, error) {
	ds, err := s.store.ListDestinationsByQr(ctx, qrID)
	if err != nil {
		return nil, fmt.Errorf("list destinations for %s: %w", qrID, err)
	}
	return schedule.Timeline(ds, s.now()), nil
}

func (s *SchedulerService) UpdateDestination(ctx context.Context, id string, req *UpdateDestinationRequest) (*storage.Destination, error) {
	current, err := s.store.GetDestination(ctx, id)
	if err != nil {
		return nil, err
	}
	version := current.Version
	if req.Version != nil {
		version = *req.Version
	}

	patch := req.DestinationPatch
	patch.PinHash, patch.ClearPin = nil, req.RemovePin
	if req.Pin != nil {
		if patch.PinHash, err = hashPin(*req.Pin); err != nil {
			return nil, err
		}
	}
	if patch.IsEmpty() {
		return current, nil
	}

	next := patch.Apply(*current)
	if err := storage.ValidateDestination(&next); err != nil {
		return nil, err
	}
	if err := s.checkSingleActive(ctx, &next); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateDestination(ctx, id, patch, version)
	if err != nil {
		s.logger.LogDestinationOperation(ctx, "update", id, false)
		return nil, fmt.Errorf("update destination %s: %w", id, err)
	}
	s.invalidate(ctx, updated.QRID)
	s.logger.LogDestinationOperation(ctx, "update", id, true)
	return updated, nil
}

func (s *SchedulerService) DeleteDestination(ctx context.Context, id string) error {
	d, err := s.store.GetDestination(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDestination(ctx, id); err != nil {
		s.logger.LogDestinationOperation(ctx, "delete", id, false)
		return fmt.Errorf("delete destination %s: %w", id, err)
	}
	s.invalidate(ctx, d.QRID)
	s.logger.LogDestinationOperation(ctx, "delete", id, true)
	return nil
}

// checkSingleActive rejects an enabled window overlapping another enabled
// destination of the same QR when the single-active policy is in force.
func (s *SchedulerService) checkSingleActive(ctx context.Context, d *storage.Destination) error {
	if s.opts.Policy != schedule.PolicySingleActive || !d.IsActive {
		return nil
	}
	others, err := s.store.ListDestinationsByQr(ctx, d.QRID)
	if err != nil {
		return fmt.Errorf("list destinations for %s: %w", d.QRID, err)
	}
	for i := range others {
		if others[i].ID != d.ID && schedule.WindowsOverlap(d, &others[i]) {
			return fmt.Errorf("%w: %s", ErrOverlappingWindow, others[i].ID)
		}
	}
	return nil
}

func (s *SchedulerService) CreateTrigger(ctx context.Context, sourceID string, req *CreateTriggerRequest) (*storage.Trigger, error) {
	now := s.now()
	t := &storage.Trigger{
		ID:                  storage.NewID(now),
		SourceDestinationID: sourceID,
		Kind:                req.Kind,
		Threshold:           req.Threshold,
		TargetQRID:          req.TargetQRID,
		Action:              req.Action,
		TargetDestinationID: req.TargetDestinationID,
		CreatedAt:           now,
	}
	if err := storage.ValidateTrigger(t); err != nil {
		return nil, err
	}
	if err := checkQRID("target_qr_id", t.TargetQRID); err != nil {
		return nil, err
	}
	if err := s.store.CreateTrigger(ctx, t); err != nil {
		return nil, fmt.Errorf("create trigger: %w", err)
	}
	s.logger.Info(ctx, "trigger created", "trigger_id", t.ID, "source_destination_id", sourceID, "kind", string(t.Kind), "action", string(t.Action))
	return t, nil
}

func (s *SchedulerService) ListTriggers(ctx context.Context, sourceID string) ([]storage.Trigger, error) {
	if _, err := s.store.GetDestination(ctx, sourceID); err != nil {
		return nil, err
	}
	return s.store.ListTriggersBySource(ctx, sourceID)
}

func (s *SchedulerService) DeleteTrigger(ctx context.Context, id string) error {
	return s.store.DeleteTrigger(ctx, id)
}

// ResetTrigger re-arms a fired trigger.
func (s *SchedulerService) ResetTrigger(ctx context.Context, id string) (*storage.Trigger, error) {
	if err := s.store.ResetTrigger(ctx, id); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "trigger reset", "trigger_id", id)
	return s.store.GetTrigger(ctx, id)
}
