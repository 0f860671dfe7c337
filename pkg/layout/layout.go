// Package layout places scheduled destinations into non-overlapping columns
// for calendar-style display. Everything here is pure: no I/O, no clock.
package layout

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrInvalidInterval = errors.New("event ends before it starts")
	ErrInvalidDay      = errors.New("day end must be after day start")
)

// DefaultMinDuration is the shortest height an event is drawn with.
const DefaultMinDuration = 30 * time.Minute

type Options struct {
	MinDuration time.Duration
}

func (o Options) minDuration() time.Duration {
	if o.MinDuration <= 0 {
		return DefaultMinDuration
	}
	return o.MinDuration
}

// Event is anything with a stored interval.
type Event struct {
	ID    string    `json:"id"`
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Positioned is an event placed within one day.
type Positioned struct {
	Event Event `json:"event"`
	// Start and End are the stored interval clipped to the day.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// RenderStart and RenderEnd are what gets drawn; they include the minimum
	// duration and are what the column assignment avoids overlapping.
	RenderStart     time.Time `json:"render_start"`
	RenderEnd       time.Time `json:"render_end"`
	Column          int       `json:"column"`
	TotalColumns    int       `json:"total_columns"`
	OffsetMinutes   float64   `json:"offset_minutes"`
	DurationMinutes float64   `json:"duration_minutes"`
	ContinuesBefore bool      `json:"continues_before"`
	ContinuesAfter  bool      `json:"continues_after"`
}

// Validate rejects events whose end precedes their start.
func Validate(events []Event) error {
	for _, e := range events {
		if e.End.Before(e.Start) {
			return fmt.Errorf("%w: %s", ErrInvalidInterval, e.ID)
		}
	}
	return nil
}

// Layout assigns columns to the events intersecting [dayStart, dayEnd).
//
// Events are taken in start order (longer first on ties) and each goes into
// the lowest column that is free at its start, opening a new column when none
// is. Events that share a column never overlap. TotalColumns is the number of
// columns used by the event's era: the maximal run of transitively overlapping
// events it belongs to. Within an era greedy placement uses exactly as many
// columns as the largest number of events open at once.
func Layout(events []Event, dayStart, dayEnd time.Time, opts Options) ([]Positioned, error) {
	if !dayEnd.After(dayStart) {
		return nil, ErrInvalidDay
	}
	if err := Validate(events); err != nil {
		return nil, err
	}
	minDur := opts.minDuration()
	loc := dayStart.Location()

	placed := make([]Positioned, 0, len(events))
	for _, e := range events {
		if !intersects(e, dayStart, dayEnd) {
			continue
		}
		start := maxTime(e.Start, dayStart)
		end := minTime(e.End, dayEnd)
		renderEnd := end
		if renderEnd.Sub(start) < minDur {
			renderEnd = start.Add(minDur)
		}
		renderEnd = minTime(renderEnd, dayEnd)

		placed = append(placed, Positioned{
			Event:           e,
			Start:           start.In(loc),
			End:             end.In(loc),
			RenderStart:     start.In(loc),
			RenderEnd:       renderEnd.In(loc),
			OffsetMinutes:   start.Sub(dayStart).Minutes(),
			DurationMinutes: renderEnd.Sub(start).Minutes(),
			ContinuesBefore: e.Start.Before(dayStart),
			ContinuesAfter:  e.End.After(dayEnd),
		})
	}

	sort.SliceStable(placed, func(i, j int) bool {
		a, b := placed[i], placed[j]
		if !a.RenderStart.Equal(b.RenderStart) {
			return a.RenderStart.Before(b.RenderStart)
		}
		da, db := a.RenderEnd.Sub(a.RenderStart), b.RenderEnd.Sub(b.RenderStart)
		if da != db {
			return da > db
		}
		return a.Event.ID < b.Event.ID
	})

	var columnEnds []time.Time
	eras := make([]int, len(placed))
	var eraColumns []int
	var eraEnd time.Time

	for i := range placed {
		p := &placed[i]
		if i == 0 || !p.RenderStart.Before(eraEnd) {
			eraColumns = append(eraColumns, 0)
			eraEnd = p.RenderEnd
		} else if p.RenderEnd.After(eraEnd) {
			eraEnd = p.RenderEnd
		}
		era := len(eraColumns) - 1
		eras[i] = era

		col := -1
		for c, end := range columnEnds {
			if !end.After(p.RenderStart) {
				col = c
				break
			}
		}
		if col < 0 {
			col = len(columnEnds)
			columnEnds = append(columnEnds, p.RenderEnd)
		} else {
			columnEnds[col] = p.RenderEnd
		}
		p.Column = col
		if col+1 > eraColumns[era] {
			eraColumns[era] = col + 1
		}
	}

	for i := range placed {
		placed[i].TotalColumns = eraColumns[eras[i]]
	}
	return placed, nil
}

// intersects keeps events overlapping the day; an instantaneous event counts
// when it falls inside the day.
func intersects(e Event, dayStart, dayEnd time.Time) bool {
	if !e.Start.Before(dayEnd) {
		return false
	}
	return e.End.After(dayStart) || !e.Start.Before(dayStart)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
