package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"qr-scheduler/pkg/cache"
	"qr-scheduler/pkg/layout"
	"qr-scheduler/pkg/logging"
	"qr-scheduler/pkg/metrics"
	"qr-scheduler/pkg/schedule"
	"qr-scheduler/pkg/storage"
	"qr-scheduler/pkg/trigger"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnknownTimezone   = errors.New("unknown timezone")
	ErrMissingCount      = errors.New("on_count events need an occurrence count")
	ErrOverlappingWindow = errors.New("window overlaps another enabled destination")
	ErrNoPin             = errors.New("destination has no pin")
	ErrInvalidPin        = errors.New("invalid pin")
)

// Clock returns the current instant. Everything time dependent in the
// service reads it instead of the wall clock.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }

type Options struct {
	Policy           schedule.Policy
	CacheTTL         time.Duration
	MinEventDuration time.Duration
	Clock            Clock
}

type SchedulerService struct {
	store    storage.Store
	cache    cache.DestinationCacheInterface
	engine   *trigger.Engine
	resolver *schedule.Resolver
	logger   *logging.Logger
	opts     Options
	now      Clock
}

// NewSchedulerService wires the service. A nil cache falls back to an
// in-process one and a nil logger discards output.
func NewSchedulerService(store storage.Store, destCache cache.DestinationCacheInterface, logger *logging.Logger, opts Options) *SchedulerService {
	if destCache == nil {
		destCache = cache.NewMemoryCache()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.Policy == "" {
		opts.Policy = schedule.PolicyPriority
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	now := opts.Clock
	if now == nil {
		now = SystemClock
	}
	return &SchedulerService{
		store:    store,
		cache:    destCache,
		engine:   trigger.NewEngine(store, logger),
		resolver: schedule.NewResolver(opts.Policy),
		logger:   logger,
		opts:     opts,
		now:      now,
	}
}

// Now exposes the service clock to the transport layer.
func (s *SchedulerService) Now() time.Time {
	return s.now()
}

// destinations reads the QR's destinations through the cache. Cache failures
// degrade to a store read.
func (s *SchedulerService) destinations(ctx context.Context, qrID string) ([]cache.CachedDestination, error) {
	cached, ok, err := s.cache.GetDestinations(ctx, qrID)
	switch {
	case err != nil:
		metrics.IncCacheLookup("error")
		s.logger.Warn(ctx, "destination cache read failed", "qr_id", qrID, "error", err)
	case ok:
		metrics.IncCacheLookup("hit")
		return cached, nil
	default:
		metrics.IncCacheLookup("miss")
	}

	// Taken before the store read so an invalidation racing with it wins.
	gen, genErr := s.cache.Generation(ctx, qrID)
	if genErr != nil {
		s.logger.Warn(ctx, "destination cache generation read failed", "qr_id", qrID, "error", genErr)
	}

	ds, err := s.store.ListDestinationsByQr(ctx, qrID)
	if err != nil {
		return nil, fmt.Errorf("list destinations for %s: %w", qrID, err)
	}
	out := cache.FromDestinations(ds)
	if genErr == nil {
		if err := s.cache.SetDestinations(ctx, qrID, gen, out, s.opts.CacheTTL); err != nil {
			s.logger.Warn(ctx, "destination cache write failed", "qr_id", qrID, "error", err)
		}
	}
	return out, nil
}

func (s *SchedulerService) invalidate(ctx context.Context, qrIDs ...string) {
	seen := make(map[string]bool, len(qrIDs))
	for _, id := range qrIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.Warn(ctx, "destination cache invalidation failed", "qr_id", id, "error", err)
		}
	}
}

// Resolved is a resolution plus what the redirect needs to gate it.
type Resolved struct {
	schedule.Resolution
	QRID   string `json:"qr_id"`
	Locked bool   `json:"locked"`
}

// ResolveActiveDestination returns the destination the QR serves at now.
// A QR with nothing live resolves to an empty Resolution, not an error.
func (s *SchedulerService) ResolveActiveDestination(ctx context.Context, qrID string, now time.Time) (*Resolved, error) {
	cds, err := s.destinations(ctx, qrID)
	if err != nil {
		return nil, err
	}
	res := s.resolver.Resolve(cache.Destinations(cds), now)
	out := &Resolved{Resolution: res, QRID: qrID}

	outcome, destID := "none", ""
	if res.Found() {
		destID = res.Destination.ID
		outcome = "found"
		if res.Conflict {
			outcome = "conflict"
		}
		for _, cd := range cds {
			if cd.ID == destID {
				out.Locked = cd.HasPin
				break
			}
		}
	}
	metrics.IncResolution(outcome)
	s.logger.LogResolution(ctx, qrID, destID, res.Candidates, res.Conflict)
	return out, nil
}

// ScanResult reports the side effects of one counted scan.
type ScanResult struct {
	DestinationID string                  `json:"destination_id"`
	Count         int64                   `json:"count"`
	Actions       []trigger.AppliedAction `json:"actions,omitempty"`
}

// RecordScan counts a scan of a resolved destination and fires its on_scan
// triggers, then its on_count triggers with the new count.
func (s *SchedulerService) RecordScan(ctx context.Context, d *storage.Destination, now time.Time) (*ScanResult, error) {
	count, err := s.cache.IncrementScan(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("increment scan count for %s: %w", d.ID, err)
	}
	metrics.IncScan()

	result := &ScanResult{DestinationID: d.ID, Count: count}
	for _, kind := range []storage.TriggerKind{storage.KindOnScan, storage.KindOnCount} {
		actions, err := s.fire(ctx, d.ID, kind, count, now)
		result.Actions = append(result.Actions, actions...)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// FireEvent delivers an event for a destination. count is required for
// on_count and ignored otherwise.
func (s *SchedulerService) FireEvent(ctx context.Context, destinationID string, kind storage.TriggerKind, count *int64) ([]trigger.AppliedAction, error) {
	var n int64
	if kind == storage.KindOnCount {
		if count == nil {
			return nil, ErrMissingCount
		}
		n = *count
	}
	if _, err := s.store.GetDestination(ctx, destinationID); err != nil {
		return nil, err
	}
	return s.fire(ctx, destinationID, kind, n, s.now())
}

// CompleteDestination reports that a visitor finished the destination's
// content.
func (s *SchedulerService) CompleteDestination(ctx context.Context, destinationID string) ([]trigger.AppliedAction, error) {
	return s.FireEvent(ctx, destinationID, storage.KindOnComplete, nil)
}

func (s *SchedulerService) fire(ctx context.Context, sourceID string, kind storage.TriggerKind, count int64, now time.Time) ([]trigger.AppliedAction, error) {
	actions, err := s.engine.OnEvent(ctx, sourceID, kind, count, now)
	if err != nil {
		return nil, err
	}
	var touched []string
	for _, a := range actions {
		for _, m := range a.Mutations {
			touched = append(touched, m.QRID)
		}
	}
	s.invalidate(ctx, touched...)
	return actions, nil
}

// DayLayout is one calendar column.
type DayLayout struct {
	Date   string              `json:"date"`
	Events []layout.Positioned `json:"events"`
}

type WeekLayout struct {
	QRID     string       `json:"qr_id"`
	Timezone string       `json:"timezone"`
	Days     [7]DayLayout `json:"days"`
	Skipped  []string     `json:"skipped,omitempty"`
}

// LayoutWeek lays out the QR's scheduled destinations for the seven local
// days starting with the day containing weekStart in timezone tz.
func (s *SchedulerService) LayoutWeek(ctx context.Context, qrID string, weekStart time.Time, tz string) (*WeekLayout, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, tz)
	}
	cds, err := s.destinations(ctx, qrID)
	if err != nil {
		return nil, err
	}

	week, skipped := layout.Week(cache.Destinations(cds), weekStart, loc, layout.Options{MinDuration: s.opts.MinEventDuration})
	if len(skipped) > 0 {
		s.logger.Warn(ctx, "malformed windows left out of layout", "qr_id", qrID, "destination_ids", strings.Join(skipped, ","))
	}

	out := &WeekLayout{QRID: qrID, Timezone: loc.String(), Skipped: skipped}
	first, _ := layout.DayBounds(weekStart, loc)
	y, m, d := first.Date()
	for i := range week {
		metrics.ObserveLayoutDay(len(week[i]))
		events := week[i]
		if events == nil {
			events = []layout.Positioned{}
		}
		out.Days[i] = DayLayout{
			Date:   time.Date(y, m, d+i, 0, 0, 0, 0, loc).Format("2006-01-02"),
			Events: events,
		}
	}
	return out, nil
}

// VerifyPin checks pin against the destination's stored hash.
func (s *SchedulerService) VerifyPin(ctx context.Context, destinationID, pin string) error {
	d, err := s.store.GetDestination(ctx, destinationID)
	if err != nil {
		return err
	}
	if !d.HasPin() {
		return ErrNoPin
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*d.PinHash), []byte(pin)); err != nil {
		s.logger.LogAuthEvent(ctx, "pin_verify", destinationID, false)
		return ErrInvalidPin
	}
	s.logger.LogAuthEvent(ctx, "pin_verify", destinationID, true)
	return nil
}

func hashPin(pin string) (*string, error) {
	if strings.TrimSpace(pin) == "" {
		return nil, &storage.ValidationError{Field: "pin", Reason: "must not be blank"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	h := string(hash)
	return &h, nil
}
