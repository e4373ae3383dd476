// Package sequencer implements the pure track-navigation state machine:
// shuffle order and repeat-mode semantics, independent of audio.
package sequencer

import (
	"math/rand"
	"sync"
	"time"
)

// RepeatMode cycles OFF -> TRACK -> ALL -> OFF.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatTrack
	RepeatAll
)

// State is a point-in-time snapshot of the sequencer, safe to read
// without holding the sequencer's lock.
type State struct {
	Repeat         RepeatMode
	ShuffleOn      bool
	CurrentIndex   int
	TotalTracks    int
	ShuffleOrder   []int
	ShufflePos     int
}

// Sequencer answers "which track follows the current one?" under
// user-chosen shuffle and repeat modes. It knows nothing about audio.
//
// Every exported method is safe for concurrent use; the command thread
// and the controller's end-of-track handler both call into it (see
// SPEC_FULL.md §5).
type Sequencer struct {
	mu sync.Mutex
	rng *rand.Rand

	repeat       RepeatMode
	shuffleOn    bool
	currentIndex int
	totalTracks  int
	shuffleOrder []int
	shufflePos   int
}

// New returns an empty sequencer (zero tracks).
func New() *Sequencer {
	return &Sequencer{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetTotalTracks resets the shuffle order to the identity permutation
// [0..n) and clamps current_index to 0. n <= 0 clears all state.
func (s *Sequencer) SetTotalTracks(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		s.totalTracks = 0
		s.currentIndex = 0
		s.shuffleOrder = nil
		s.shufflePos = 0
		return
	}

	s.totalTracks = n
	s.currentIndex = 0
	s.shuffleOrder = identity(n)
	s.shufflePos = 0
}

// SetCurrentIndex sets current_index to i, which must be in range. If
// shuffle is on, shuffle_position is updated to match by scanning the
// permutation.
func (s *Sequencer) SetCurrentIndex(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalTracks == 0 || i < 0 || i >= s.totalTracks {
		return false
	}

	s.currentIndex = i
	if s.shuffleOn {
		s.shufflePos = s.findInOrder(i)
	}
	return true
}

// ToggleShuffle flips shuffle. Turning it on generates a fresh
// Fisher-Yates permutation with the current track placed first, so the
// track already playing isn't skipped. Turning it off leaves
// current_index unchanged. Never emits a track change itself; the
// caller decides whether to notify listeners.
func (s *Sequencer) ToggleShuffle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shuffleOn = !s.shuffleOn
	if s.shuffleOn && s.totalTracks > 0 {
		s.shuffleOrder = identity(s.totalTracks)
		fisherYates(s.rng, s.shuffleOrder)
		placeFirst(s.shuffleOrder, s.currentIndex)
		s.shufflePos = 0
	}
	return s.shuffleOn
}

// CycleRepeat advances OFF -> TRACK -> ALL -> OFF and returns the new mode.
func (s *Sequencer) CycleRepeat() RepeatMode {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.repeat {
	case RepeatOff:
		s.repeat = RepeatTrack
	case RepeatTrack:
		s.repeat = RepeatAll
	default:
		s.repeat = RepeatOff
	}
	return s.repeat
}

// Advance is called after a natural track end. It returns the next
// index following the rules in SPEC_FULL.md §4.1, updating current_index
// (and shuffle_position, when shuffle is on and repeat isn't TRACK) as
// a side effect. ok is false at end of disc.
func (s *Sequencer) Advance() (next int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked(false)
}

// NextTrack is the user-driven equivalent of Advance, except that
// running off the end of the disc under RepeatOff wraps to 0 instead of
// stopping.
func (s *Sequencer) NextTrack() (next int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked(true)
}

// PrevTrack moves to the previous track. Wraps to the last track under
// RepeatAll (including from track 0); clamps to 0 under RepeatOff.
// Under RepeatTrack it returns the current index unchanged.
func (s *Sequencer) PrevTrack() (next int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalTracks == 0 {
		return 0, false
	}

	if s.repeat == RepeatTrack {
		return s.currentIndex, true
	}

	if s.shuffleOn {
		pos := s.shufflePos - 1
		if pos < 0 {
			if s.repeat == RepeatAll {
				pos = len(s.shuffleOrder) - 1
			} else {
				pos = 0
			}
		}
		s.shufflePos = pos
		s.currentIndex = s.shuffleOrder[pos]
		return s.currentIndex, true
	}

	idx := s.currentIndex - 1
	if idx < 0 {
		if s.repeat == RepeatAll {
			idx = s.totalTracks - 1
		} else {
			idx = 0
		}
	}
	s.currentIndex = idx
	return s.currentIndex, true
}

// GetNextForPreload peeks the index Advance would yield without
// mutating any state. ok is false at end of disc. One exception: with
// shuffle on and RepeatAll at the end of the shuffle order, it returns
// the first entry of the current order, while Advance draws a fresh
// permutation first and may return a different index.
func (s *Sequencer) GetNextForPreload() (next int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalTracks == 0 {
		return 0, false
	}

	if s.repeat == RepeatTrack {
		return s.currentIndex, true
	}

	if s.shuffleOn {
		pos := s.shufflePos + 1
		if pos >= len(s.shuffleOrder) {
			if s.repeat == RepeatAll {
				return s.shuffleOrder[0], true
			}
			return 0, false
		}
		return s.shuffleOrder[pos], true
	}

	idx := s.currentIndex + 1
	if idx >= s.totalTracks {
		if s.repeat == RepeatAll {
			return 0, true
		}
		return 0, false
	}
	return idx, true
}

// Snapshot returns a copy of the current state for observation/testing.
func (s *Sequencer) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := make([]int, len(s.shuffleOrder))
	copy(order, s.shuffleOrder)
	return State{
		Repeat:       s.repeat,
		ShuffleOn:    s.shuffleOn,
		CurrentIndex: s.currentIndex,
		TotalTracks:  s.totalTracks,
		ShuffleOrder: order,
		ShufflePos:   s.shufflePos,
	}
}

// advanceLocked implements Advance/NextTrack. wrapOnOff controls whether
// running off the end under RepeatOff wraps to 0 (NextTrack) or reports
// end-of-disc (Advance).
func (s *Sequencer) advanceLocked(wrapOnOff bool) (next int, ok bool) {
	if s.totalTracks == 0 {
		return 0, false
	}

	// Repeat-TRACK never touches shuffle_position (fixes shuffle-cursor drift).
	if s.repeat == RepeatTrack {
		return s.currentIndex, true
	}

	if s.shuffleOn {
		pos := s.shufflePos + 1
		if pos >= len(s.shuffleOrder) {
			switch {
			case s.repeat == RepeatAll:
				fisherYates(s.rng, s.shuffleOrder)
				pos = 0
			case wrapOnOff:
				fisherYates(s.rng, s.shuffleOrder)
				pos = 0
			default:
				return 0, false
			}
		}
		s.shufflePos = pos
		s.currentIndex = s.shuffleOrder[pos]
		return s.currentIndex, true
	}

	idx := s.currentIndex + 1
	if idx >= s.totalTracks {
		switch {
		case s.repeat == RepeatAll, wrapOnOff:
			idx = 0
		default:
			return 0, false
		}
	}
	s.currentIndex = idx
	return s.currentIndex, true
}

// findInOrder returns the position of value within shuffleOrder, or 0
// if not found (shouldn't happen for a well-formed permutation).
func (s *Sequencer) findInOrder(value int) int {
	for pos, v := range s.shuffleOrder {
		if v == value {
			return pos
		}
	}
	return 0
}

func identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// fisherYates shuffles order in place.
func fisherYates(rng *rand.Rand, order []int) {
	for i := len(order) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
}

// placeFirst rotates value to the front of order, preserving the
// relative order of the rest.
func placeFirst(order []int, value int) {
	for i, v := range order {
		if v == value {
			copy(order[1:i+1], order[0:i])
			order[0] = value
			return
		}
	}
}
