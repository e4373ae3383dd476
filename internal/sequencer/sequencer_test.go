package sequencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSetTotalTracksClampsAndClearsOnZero(t *testing.T) {
	s := New()
	s.SetTotalTracks(5)
	require.True(t, s.SetCurrentIndex(3))
	assert.Equal(t, 3, s.Snapshot().CurrentIndex)

	s.SetTotalTracks(0)
	snap := s.Snapshot()
	assert.Equal(t, 0, snap.TotalTracks)
	assert.Equal(t, 0, snap.CurrentIndex)
	assert.Empty(t, snap.ShuffleOrder)
}

func TestToggleShufflePutsCurrentTrackFirst(t *testing.T) {
	s := New()
	s.SetTotalTracks(5)
	s.SetCurrentIndex(3)

	on := s.ToggleShuffle()
	require.True(t, on)

	snap := s.Snapshot()
	assert.Equal(t, 3, snap.CurrentIndex)
	assert.Equal(t, 0, snap.ShufflePos)
	assert.Equal(t, 3, snap.ShuffleOrder[0])
}

func TestToggleShuffleTwiceLeavesCurrentIndexUnchanged(t *testing.T) {
	s := New()
	s.SetTotalTracks(5)
	s.SetCurrentIndex(2)

	s.ToggleShuffle()
	s.ToggleShuffle()

	assert.Equal(t, 2, s.Snapshot().CurrentIndex)
	assert.False(t, s.Snapshot().ShuffleOn)
}

func TestCycleRepeatOrder(t *testing.T) {
	s := New()
	assert.Equal(t, RepeatTrack, s.CycleRepeat())
	assert.Equal(t, RepeatAll, s.CycleRepeat())
	assert.Equal(t, RepeatOff, s.CycleRepeat())
}

func TestRepeatTrackDoesNotAdvanceShufflePosition(t *testing.T) {
	s := New()
	s.SetTotalTracks(5)
	s.SetCurrentIndex(2)
	s.ToggleShuffle()
	before := s.Snapshot().ShufflePos

	s.CycleRepeat() // -> TRACK

	for i := 0; i < 3; i++ {
		next, ok := s.Advance()
		require.True(t, ok)
		assert.Equal(t, s.Snapshot().CurrentIndex, next)
	}

	after := s.Snapshot()
	assert.Equal(t, before, after.ShufflePos)
}

func TestAdvanceEndOfDiscUnderRepeatOff(t *testing.T) {
	s := New()
	s.SetTotalTracks(3)
	s.SetCurrentIndex(2)

	_, ok := s.Advance()
	assert.False(t, ok)
}

func TestNextTrackWrapsUnderRepeatOff(t *testing.T) {
	s := New()
	s.SetTotalTracks(3)
	s.SetCurrentIndex(2)

	next, ok := s.NextTrack()
	require.True(t, ok)
	assert.Equal(t, 0, next)
}

func TestPrevTrackAtZeroWrapsUnderRepeatAll(t *testing.T) {
	s := New()
	s.SetTotalTracks(3)
	s.CycleRepeat()
	s.CycleRepeat() // -> ALL

	prev, ok := s.PrevTrack()
	require.True(t, ok)
	assert.Equal(t, 2, prev)
}

func TestPrevTrackAtZeroClampsUnderRepeatOff(t *testing.T) {
	s := New()
	s.SetTotalTracks(3)

	prev, ok := s.PrevTrack()
	require.True(t, ok)
	assert.Equal(t, 0, prev)
}

func TestGetNextForPreloadDoesNotMutate(t *testing.T) {
	s := New()
	s.SetTotalTracks(4)
	s.SetCurrentIndex(1)

	peek, ok := s.GetNextForPreload()
	require.True(t, ok)
	assert.Equal(t, 2, peek)
	assert.Equal(t, 1, s.Snapshot().CurrentIndex)
}

func TestRepeatTrackShuffleImmunityScenario(t *testing.T) {
	// SPEC_FULL.md §8 scenario 2: disc of 5 tracks, shuffle on, goto 3,
	// repeat twice (-> TRACK), let track end twice.
	s := New()
	s.SetTotalTracks(5)
	s.ToggleShuffle()
	s.SetCurrentIndex(2) // goto track 3 (0-based index 2)
	posAfterGoto := s.Snapshot().ShufflePos

	s.CycleRepeat()
	s.CycleRepeat() // -> TRACK

	for i := 0; i < 2; i++ {
		next, ok := s.Advance()
		require.True(t, ok)
		assert.Equal(t, 2, next)
	}

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.CurrentIndex)
	assert.Equal(t, posAfterGoto, snap.ShufflePos)
}

// Quantified invariants from SPEC_FULL.md §8, checked with rapid.

func TestCurrentIndexAlwaysInRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "n")
		s := New()
		s.SetTotalTracks(n)

		steps := rapid.IntRange(0, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				s.NextTrack()
			case 1:
				s.PrevTrack()
			case 2:
				s.ToggleShuffle()
			case 3:
				s.CycleRepeat()
			}
			idx := s.Snapshot().CurrentIndex
			if idx < 0 || idx >= n {
				rt.Fatalf("current_index %d out of range [0,%d)", idx, n)
			}
		}
	})
}

func TestShuffleOrderIsAlwaysAPermutation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "n")
		s := New()
		s.SetTotalTracks(n)
		s.ToggleShuffle()

		steps := rapid.IntRange(0, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(rt, "next") {
				s.NextTrack()
			} else {
				s.CycleRepeat()
			}

			order := s.Snapshot().ShuffleOrder
			seen := make(map[int]bool, len(order))
			for _, v := range order {
				if v < 0 || v >= n || seen[v] {
					rt.Fatalf("shuffle_order %v is not a permutation of [0,%d)", order, n)
				}
				seen[v] = true
			}
			if len(seen) != n {
				rt.Fatalf("shuffle_order %v missing entries for n=%d", order, n)
			}
		}
	})
}
