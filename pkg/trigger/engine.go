package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qr-scheduler/pkg/logging"
	"qr-scheduler/pkg/metrics"
	"qr-scheduler/pkg/schedule"
	"qr-scheduler/pkg/storage"
)

var ErrUnknownEvent = errors.New("unknown event kind")

// errSkip marks an action that cannot apply for a data reason (a dangling
// reference) as opposed to a store failure.
type errSkip struct{ reason string }

func (e *errSkip) Error() string { return e.reason }

func skip(format string, args ...any) error {
	return &errSkip{reason: fmt.Sprintf(format, args...)}
}

// Engine fires triggers and applies their actions to destinations on other QRs.
type Engine struct {
	store  storage.DestinationStore
	logger *logging.Logger
}

func NewEngine(store storage.DestinationStore, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{store: store, logger: logger}
}

// OnEvent fires every matching, unfired trigger of sourceID. A failing or
// dangling trigger is reported in its AppliedAction and does not stop the
// rest of the batch. The returned error is set only when the triggers
// could not be loaded at all.
func (e *Engine) OnEvent(ctx context.Context, sourceID string, kind storage.TriggerKind, count int64, now time.Time) ([]AppliedAction, error) {
	switch kind {
	case storage.KindOnScan, storage.KindOnComplete, storage.KindOnCount:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}

	triggers, err := e.store.ListTriggersBySource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list triggers for %s: %w", sourceID, err)
	}

	var applied []AppliedAction
	for _, t := range Plan(triggers, kind, count) {
		claimed, err := e.store.MarkTriggerFired(ctx, t.ID, now)
		if err != nil {
			a := newAction(t, now)
			a.Status = StatusFailed
			a.Reason = fmt.Sprintf("claim trigger: %v", err)
			applied = append(applied, e.record(ctx, a))
			continue
		}
		if !claimed {
			// Another delivery of the same event got there first.
			e.logger.Debug(ctx, "trigger already fired", "trigger_id", t.ID)
			continue
		}
		applied = append(applied, e.record(ctx, e.apply(ctx, t, now)))
	}
	return applied, nil
}

func (e *Engine) record(ctx context.Context, a AppliedAction) AppliedAction {
	metrics.IncTriggerAction(string(a.Action), string(a.Status))
	e.logger.LogTriggerAction(ctx, a.TriggerID, string(a.Action), a.TargetQRID, string(a.Status), a.Reason)
	return a
}

func (e *Engine) apply(ctx context.Context, t storage.Trigger, now time.Time) AppliedAction {
	a := newAction(t, now)

	var mutations []Mutation
	var err error
	switch t.Action {
	case storage.ActionActivate:
		mutations, err = e.activate(ctx, e.store, t, now)
	case storage.ActionDeactivate:
		mutations, err = e.deactivate(ctx, e.store, t, now)
	case storage.ActionSwitch:
		if txs, ok := e.store.(storage.TxStore); ok {
			err = txs.WithTx(ctx, func(ctx context.Context, st storage.DestinationStore) error {
				var txErr error
				mutations, txErr = e.switchTo(ctx, st, t, now)
				return txErr
			})
			if err != nil {
				// Rolled back, nothing was written.
				mutations = nil
			}
		} else {
			mutations, err = e.switchTo(ctx, e.store, t, now)
		}
	default:
		err = skip("unsupported action %q", t.Action)
	}

	a.Mutations = mutations
	var s *errSkip
	switch {
	case err == nil:
		a.Status = StatusApplied
	case errors.As(err, &s):
		a.Status = StatusSkipped
		a.Reason = s.reason
	default:
		a.Status = StatusFailed
		a.Reason = err.Error()
	}
	return a
}

// loadTarget fetches the trigger's target and checks it lives on the target QR.
func loadTarget(ctx context.Context, st storage.DestinationStore, t storage.Trigger) (*storage.Destination, error) {
	if t.TargetDestinationID == nil || *t.TargetDestinationID == "" {
		return nil, skip("trigger has no target destination")
	}
	d, err := st.GetDestination(ctx, *t.TargetDestinationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, skip("target destination %s not found", *t.TargetDestinationID)
	}
	if err != nil {
		return nil, err
	}
	if d.QRID != t.TargetQRID {
		return nil, skip("target destination %s belongs to qr %s, not %s", d.ID, d.QRID, t.TargetQRID)
	}
	return d, nil
}

func activatePatch(d storage.Destination, now time.Time) storage.DestinationPatch {
	on := true
	p := storage.DestinationPatch{IsActive: &on}
	if d.StartAt == nil {
		p.StartAt = &now
	}
	// A window that already closed would keep the destination expired.
	if d.EndAt != nil && d.EndAt.Before(now) {
		p.ClearEndAt = true
	}
	return p
}

func deactivatePatch(d storage.Destination, now time.Time) storage.DestinationPatch {
	off := false
	p := storage.DestinationPatch{IsActive: &off}
	// Closing an upcoming window at now would invert it; the toggle suffices.
	if d.EndAt == nil && (d.StartAt == nil || !d.StartAt.After(now)) {
		p.EndAt = &now
	}
	return p
}

// closePatch ends a live destination at now.
func closePatch(d storage.Destination, now time.Time) storage.DestinationPatch {
	off := false
	p := storage.DestinationPatch{IsActive: &off}
	if d.StartAt == nil || !d.StartAt.After(now) {
		if d.EndAt == nil || d.EndAt.After(now) {
			p.EndAt = &now
		}
	}
	return p
}

func (e *Engine) activate(ctx context.Context, st storage.DestinationStore, t storage.Trigger, now time.Time) ([]Mutation, error) {
	d, err := loadTarget(ctx, st, t)
	if err != nil {
		return nil, err
	}
	m, err := e.update(ctx, st, *d, func(d storage.Destination) storage.DestinationPatch { return activatePatch(d, now) })
	if err != nil {
		return nil, err
	}
	return []Mutation{m}, nil
}

// deactivate turns off the named target, or every live destination of the
// target QR when the trigger names none.
func (e *Engine) deactivate(ctx context.Context, st storage.DestinationStore, t storage.Trigger, now time.Time) ([]Mutation, error) {
	var targets []storage.Destination
	if t.TargetDestinationID != nil && *t.TargetDestinationID != "" {
		d, err := loadTarget(ctx, st, t)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *d)
	} else {
		all, err := st.ListDestinationsByQr(ctx, t.TargetQRID)
		if err != nil {
			return nil, err
		}
		for i := range all {
			if schedule.Classify(&all[i], now).Live() {
				targets = append(targets, all[i])
			}
		}
	}

	var mutations []Mutation
	for _, d := range targets {
		m, err := e.update(ctx, st, d, func(d storage.Destination) storage.DestinationPatch { return deactivatePatch(d, now) })
		if err != nil {
			return mutations, err
		}
		mutations = append(mutations, m)
	}
	return mutations, nil
}

// switchTo closes whatever is live on the target QR and opens the target
// destination from now on with no end.
func (e *Engine) switchTo(ctx context.Context, st storage.DestinationStore, t storage.Trigger, now time.Time) ([]Mutation, error) {
	target, err := loadTarget(ctx, st, t)
	if err != nil {
		return nil, err
	}
	all, err := st.ListDestinationsByQr(ctx, t.TargetQRID)
	if err != nil {
		return nil, err
	}

	var mutations []Mutation
	for i := range all {
		d := all[i]
		if d.ID == target.ID || !schedule.Classify(&d, now).Live() {
			continue
		}
		m, err := e.update(ctx, st, d, func(d storage.Destination) storage.DestinationPatch { return closePatch(d, now) })
		if err != nil {
			return mutations, err
		}
		mutations = append(mutations, m)
	}

	m, err := e.update(ctx, st, *target, func(storage.Destination) storage.DestinationPatch {
		on := true
		return storage.DestinationPatch{IsActive: &on, StartAt: &now, ClearEndAt: true}
	})
	if err != nil {
		return mutations, err
	}
	return append(mutations, m), nil
}

// update writes the patch built from d with a version check. On a version
// conflict it reloads d, rebuilds the patch and tries exactly once more.
func (e *Engine) update(ctx context.Context, st storage.DestinationStore, d storage.Destination, build func(storage.Destination) storage.DestinationPatch) (Mutation, error) {
	for attempt := 0; ; attempt++ {
		patch := build(d)
		before := stateOf(&d)
		next := patch.Apply(d)
		if before.equal(stateOf(&next)) {
			return Mutation{DestinationID: d.ID, QRID: d.QRID, Before: before, After: before, Version: d.Version}, nil
		}

		updated, err := st.UpdateDestination(ctx, d.ID, patch, d.Version)
		if err == nil {
			return Mutation{DestinationID: d.ID, QRID: d.QRID, Before: before, After: stateOf(updated), Version: updated.Version}, nil
		}
		if errors.Is(err, storage.ErrNotFound) {
			return Mutation{}, skip("destination %s not found", d.ID)
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return Mutation{}, fmt.Errorf("update destination %s: %w", d.ID, err)
		}
		metrics.IncUpdateConflict()
		if attempt >= 1 {
			return Mutation{}, fmt.Errorf("update destination %s: %w", d.ID, err)
		}
		e.logger.Debug(ctx, "version conflict, reloading", "destination_id", d.ID)
		fresh, err := st.GetDestination(ctx, d.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return Mutation{}, skip("destination %s not found", d.ID)
		}
		if err != nil {
			return Mutation{}, fmt.Errorf("reload destination %s: %w", d.ID, err)
		}
		d = *fresh
	}
}
