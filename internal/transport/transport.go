// Package transport defines the polymorphic contract both playback
// backends (RAM and streaming) implement, so the controller never
// branches on backend identity (SPEC_FULL.md §4.2, §9).
package transport

import (
	"errors"

	"github.com/thestreamdigger/redram/internal/events"
)

// State is one of the three PlayerState values from SPEC_FULL.md §3.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "PLAYING"
	case Paused:
		return "PAUSED"
	default:
		return "STOPPED"
	}
}

// EndReason distinguishes a natural track end from an aborted one, so
// the controller can tell the difference without a second channel.
type EndReason int

const (
	EndNatural EndReason = iota
	EndAborted
)

// EndTrackEvent is delivered on the callback thread after a track ends,
// never under the transport's own command lock (SPEC_FULL.md §5).
type EndTrackEvent struct {
	FinishedIndex int
	Reason        EndReason

	// AlreadyAdvanced is true when the backend itself moved on to the
	// next track before raising this event (a gapless buffer swap, or a
	// continuous stream crossing a chapter boundary on its own). The
	// controller must not call NextTrack or NavigateTo in that case —
	// it only needs to resynchronize the sequencer's current_index with
	// GetCurrentTrackIndex(). When false, the backend stopped at the
	// end of FinishedIndex and is waiting to be told what's next.
	AlreadyAdvanced bool
}

// Sentinel errors for the four error kinds of SPEC_FULL.md §7.
var (
	ErrNoDisc           = errors.New("redram: no disc loaded")
	ErrIndexOutOfRange  = errors.New("redram: track index out of range")
	ErrSeekOutOfRange   = errors.New("redram: seek position out of range")
	ErrFatalPlayback    = errors.New("redram: fatal playback error")
	ErrSetupFailed      = errors.New("redram: setup failed")
)

// Transport is the capability set the controller drives. Both RamPlayer
// and StreamPlayer implement it; the controller holds exactly one bound
// instance at a time (SPEC_FULL.md §3 invariant).
type Transport interface {
	Play() error
	Pause() error
	Stop() error
	Seek(seconds float64) error

	// NavigateTo binds "current track" to index. If autoPlay, playback
	// begins immediately; otherwise the track is only armed. Returns
	// ErrIndexOutOfRange for an invalid index.
	NavigateTo(index int, autoPlay bool) error

	// PrepareNext hints that index is likely to play next. A no-op for
	// backends that don't benefit from preloading.
	PrepareNext(index int)

	GetPosition() float64
	GetDuration() float64
	GetState() State
	GetCurrentTrackIndex() int
	GetTrackCount() int

	// OnTrackEnd returns the bus the controller subscribes to for
	// end-of-track notification. The backend publishes to it from a
	// helper goroutine, never while holding its command lock.
	OnTrackEnd() *events.Bus[EndTrackEvent]

	// Cleanup releases all OS-level resources. Safe to call twice.
	Cleanup() error
}
