package layout

import (
	"time"

	"qr-scheduler/pkg/storage"
)

var (
	// Open bounds are stretched far enough to cover any calendar week.
	openStart = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	openEnd   = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

// FromDestination converts a destination to a layout event. It returns false
// for destinations without any window bound: they are not scheduled and have
// nothing to draw.
func FromDestination(d *storage.Destination) (Event, bool) {
	if d.StartAt == nil && d.EndAt == nil {
		return Event{}, false
	}
	e := Event{ID: d.ID, Label: d.Label, Start: openStart, End: openEnd}
	if d.StartAt != nil {
		e.Start = *d.StartAt
	}
	if d.EndAt != nil {
		e.End = *d.EndAt
	}
	return e, true
}

// DayBounds returns local midnight of the calendar day containing t and of the
// next day. The day is 23 or 25 hours long across DST changes.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc), time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// Week lays out seven consecutive local days starting with the day containing
// weekStart. Each day is computed independently. Destinations with an
// inverted window are left out and their IDs returned as skipped.
func Week(destinations []storage.Destination, weekStart time.Time, loc *time.Location, opts Options) ([7][]Positioned, []string) {
	if loc == nil {
		loc = time.UTC
	}

	var events []Event
	var skipped []string
	for i := range destinations {
		e, ok := FromDestination(&destinations[i])
		if !ok {
			continue
		}
		if e.End.Before(e.Start) {
			skipped = append(skipped, e.ID)
			continue
		}
		events = append(events, e)
	}

	var week [7][]Positioned
	first, _ := DayBounds(weekStart, loc)
	y, m, d := first.Date()
	for i := 0; i < 7; i++ {
		dayStart := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		dayEnd := time.Date(y, m, d+i+1, 0, 0, 0, 0, loc)
		// Events were validated above and the bounds are well ordered.
		placed, _ := Layout(events, dayStart, dayEnd, opts)
		week[i] = placed
	}
	return week, skipped
}
