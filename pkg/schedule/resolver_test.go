package schedule

import (
	"math/rand"
	"testing"
	"time"

	"qr-scheduler/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_HigherPriorityWins(t *testing.T) {
	a := storage.Destination{ID: "A", IsActive: true, StartAt: tp(at(10, 0)), EndAt: tp(at(12, 0)), Priority: 1}
	b := storage.Destination{ID: "B", IsActive: true, StartAt: tp(at(11, 0)), EndAt: tp(at(13, 0)), Priority: 5}

	got := Resolve([]storage.Destination{a, b}, at(11, 30))
	require.NotNil(t, got)
	assert.Equal(t, "B", got.ID)

	got = Resolve([]storage.Destination{a, b}, at(10, 30))
	require.NotNil(t, got)
	assert.Equal(t, "A", got.ID)
}

func TestResolve_TieBrokenByRecency(t *testing.T) {
	older := storage.Destination{ID: "01A", IsActive: true, Priority: 3, CreatedAt: day1}
	newer := storage.Destination{ID: "01B", IsActive: true, Priority: 3, CreatedAt: day1.Add(time.Minute)}

	got := Resolve([]storage.Destination{newer, older}, at(8, 0))
	require.NotNil(t, got)
	assert.Equal(t, "01B", got.ID)

	sameInstantA := storage.Destination{ID: "01C", IsActive: true, Priority: 3, CreatedAt: day1}
	sameInstantB := storage.Destination{ID: "01D", IsActive: true, Priority: 3, CreatedAt: day1}
	got = Resolve([]storage.Destination{sameInstantB, sameInstantA}, at(8, 0))
	require.NotNil(t, got)
	assert.Equal(t, "01D", got.ID)
}

func TestResolve_NoCandidates(t *testing.T) {
	ds := []storage.Destination{
		{ID: "off", IsActive: false},
		{ID: "later", IsActive: true, StartAt: tp(at(20, 0))},
		{ID: "done", IsActive: true, EndAt: tp(at(1, 0))},
	}
	assert.Nil(t, Resolve(ds, at(12, 0)))
	assert.Nil(t, Resolve(nil, at(12, 0)))

	res := NewResolver(PolicyPriority).Resolve(ds, at(12, 0))
	assert.False(t, res.Found())
	assert.Equal(t, 0, res.Candidates)
}

func TestResolve_SingleCandidate(t *testing.T) {
	ds := []storage.Destination{
		{ID: "off", IsActive: false, Priority: 100},
		{ID: "perm", IsActive: true},
	}
	res := NewResolver(PolicyPriority).Resolve(ds, at(12, 0))
	require.True(t, res.Found())
	assert.Equal(t, "perm", res.Destination.ID)
	assert.Equal(t, StatusPermanent, res.Status)
	assert.Equal(t, 1, res.Candidates)
}

func TestResolve_IdempotentAndOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(8)
		ds := make([]storage.Destination, n)
		for i := range ds {
			start := at(rng.Intn(24), 0)
			ds[i] = storage.Destination{
				ID:        string(rune('a' + i)),
				IsActive:  rng.Intn(5) != 0,
				StartAt:   tp(start),
				EndAt:     tp(start.Add(time.Duration(1+rng.Intn(6)) * time.Hour)),
				Priority:  rng.Intn(3),
				CreatedAt: day1.Add(time.Duration(rng.Intn(4)) * time.Minute),
			}
		}
		now := at(rng.Intn(24), rng.Intn(60))

		first := Resolve(ds, now)
		second := Resolve(ds, now)
		shuffled := append([]storage.Destination(nil), ds...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		third := Resolve(shuffled, now)

		if first == nil {
			assert.Nil(t, second)
			assert.Nil(t, third)
			continue
		}
		require.NotNil(t, second)
		require.NotNil(t, third)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.ID, third.ID)

		for i := range ds {
			if Classify(&ds[i], now).Live() {
				assert.GreaterOrEqual(t, first.Priority, ds[i].Priority)
			}
		}
	}
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	ds := []storage.Destination{{ID: "x", IsActive: true, Label: "x"}}
	res := NewResolver(PolicyPriority).Resolve(ds, at(1, 0))
	res.Destination.Label = "changed"
	assert.Equal(t, "x", ds[0].Label)
}

func TestResolver_SingleActiveFlagsConflict(t *testing.T) {
	ds := []storage.Destination{
		{ID: "a", IsActive: true, Priority: 1},
		{ID: "b", IsActive: true, Priority: 2},
	}
	res := NewResolver(PolicySingleActive).Resolve(ds, at(1, 0))
	assert.True(t, res.Conflict)
	assert.Equal(t, "b", res.Destination.ID)

	res = NewResolver(PolicyPriority).Resolve(ds, at(1, 0))
	assert.False(t, res.Conflict)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyPriority, p)

	p, err = ParsePolicy("Single_Active")
	require.NoError(t, err)
	assert.Equal(t, PolicySingleActive, p)

	_, err = ParsePolicy("random")
	assert.Error(t, err)
}

func TestTimeline(t *testing.T) {
	ds := []storage.Destination{
		{ID: "late", IsActive: true, StartAt: tp(at(15, 0)), EndAt: tp(at(16, 0))},
		{ID: "perm", IsActive: true, CreatedAt: day1},
		{ID: "early", IsActive: true, StartAt: tp(at(9, 0)), EndAt: tp(at(10, 0))},
	}
	entries := Timeline(ds, at(9, 30))
	require.Len(t, entries, 3)
	assert.Equal(t, "perm", entries[0].Destination.ID)
	assert.Equal(t, "early", entries[1].Destination.ID)
	assert.Equal(t, "late", entries[2].Destination.ID)
	assert.Equal(t, StatusActive, entries[1].Status)
	assert.Equal(t, StatusUpcoming, entries[2].Status)
	assert.True(t, entries[1].Serving || entries[0].Serving)
}

func TestWindowsOverlap(t *testing.T) {
	a := &storage.Destination{IsActive: true, StartAt: tp(at(10, 0)), EndAt: tp(at(12, 0))}
	b := &storage.Destination{IsActive: true, StartAt: tp(at(11, 0)), EndAt: tp(at(13, 0))}
	c := &storage.Destination{IsActive: true, StartAt: tp(at(13, 30))}
	perm := &storage.Destination{IsActive: true}
	off := &storage.Destination{IsActive: false}

	assert.True(t, WindowsOverlap(a, b))
	assert.False(t, WindowsOverlap(a, c))
	assert.True(t, WindowsOverlap(perm, c))
	assert.False(t, WindowsOverlap(off, perm))
}
