// Package controller composes the sequencer and a bound AudioTransport
// into the single orchestration point the outer shell (CLI, buttons,
// display) talks to. It never inspects which concrete transport it
// holds (SPEC_FULL.md §4.5, §9).
//
// Grounded on the teacher's internal/audio/manager.go: one struct
// owning a player plus callbacks plus a mutex, reacting to a
// finished/error event by driving the next track itself.
package controller

import (
	"fmt"
	"sync"

	"github.com/thestreamdigger/redram/internal/events"
	"github.com/thestreamdigger/redram/internal/sequencer"
	"github.com/thestreamdigger/redram/internal/transport"
	"github.com/thestreamdigger/redram/pkg/disc"
)

// Controller holds exactly one sequencer and, once a disc is loaded,
// exactly one bound transport.
type Controller struct {
	seq       *sequencer.Sequencer
	listeners *events.Bus[events.Event]

	mu             sync.Mutex
	tr             transport.Transport
	unsubscribeEnd func()
	loadedDisc     disc.Disc
}

// New returns an idle controller with no disc loaded.
func New() *Controller {
	return &Controller{
		seq:       sequencer.New(),
		listeners: events.NewBus[events.Event](),
	}
}

// Listeners returns the bus domain events are published on:
// track_change, cd_loaded, status_change, loading_progress.
func (c *Controller) Listeners() *events.Bus[events.Event] {
	return c.listeners
}

// Load binds tr as the active transport for d and arms the sequencer.
// Any previously bound transport is cleaned up first. It does not
// start playback; call Play or Goto afterward.
func (c *Controller) Load(tr transport.Transport, d disc.Disc) {
	c.mu.Lock()
	c.teardownLocked()

	c.tr = tr
	c.loadedDisc = d
	c.seq.SetTotalTracks(d.TrackCount())
	c.unsubscribeEnd = tr.OnTrackEnd().Subscribe(c.handleTrackEnd)
	c.mu.Unlock()

	c.publish(events.EventCDLoaded, events.CDLoadedData{TrackCount: d.TrackCount()})
	if d.TrackCount() == 0 {
		c.publish(events.EventStatusChange, events.StatusChangeData{Reason: "no_disc"})
	}
}

// Eject releases the bound transport and clears sequencer state.
func (c *Controller) Eject() {
	c.mu.Lock()
	c.teardownLocked()
	c.seq.SetTotalTracks(0)
	c.loadedDisc = disc.Disc{}
	c.mu.Unlock()

	c.publish(events.EventStatusChange, events.StatusChangeData{Reason: "ejected"})
}

// Cleanup releases the bound transport without touching sequencer
// state. Call this (not just Eject) when tearing the controller down
// for good, so the end-of-track subscription is always unwound before
// the transport is dropped — leaving it bound risks the transport
// calling back into a controller nobody holds a reference to anymore.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// teardownLocked must be called with c.mu held.
func (c *Controller) teardownLocked() {
	if c.unsubscribeEnd != nil {
		c.unsubscribeEnd()
		c.unsubscribeEnd = nil
	}
	if c.tr != nil {
		c.tr.Cleanup()
		c.tr = nil
	}
}

func (c *Controller) currentTransport() transport.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr
}

func (c *Controller) Play() error {
	tr := c.currentTransport()
	if tr == nil {
		return transport.ErrNoDisc
	}
	return tr.Play()
}

func (c *Controller) Pause() error {
	tr := c.currentTransport()
	if tr == nil {
		return transport.ErrNoDisc
	}
	return tr.Pause()
}

func (c *Controller) Stop() error {
	tr := c.currentTransport()
	if tr == nil {
		return transport.ErrNoDisc
	}
	return tr.Stop()
}

func (c *Controller) Seek(seconds float64) error {
	tr := c.currentTransport()
	if tr == nil {
		return transport.ErrNoDisc
	}
	return tr.Seek(seconds)
}

// Goto navigates directly to a 0-based track index and starts it.
func (c *Controller) Goto(index int) error {
	tr := c.currentTransport()
	if tr == nil {
		return transport.ErrNoDisc
	}
	if !c.seq.SetCurrentIndex(index) {
		return transport.ErrIndexOutOfRange
	}
	return c.navigateAndAnnounce(tr, index)
}

// Next advances per the current repeat/shuffle mode. Past the last
// track it wraps to the first, under RepeatOff as well; it stops
// playback only when the sequencer has no tracks.
func (c *Controller) Next() error {
	return c.stepVia(c.seq.NextTrack)
}

// Prev moves to the previous track per the current repeat/shuffle mode.
func (c *Controller) Prev() error {
	return c.stepVia(c.seq.PrevTrack)
}

func (c *Controller) stepVia(step func() (int, bool)) error {
	tr := c.currentTransport()
	if tr == nil {
		return transport.ErrNoDisc
	}
	idx, ok := step()
	if !ok {
		return tr.Stop()
	}
	return c.navigateAndAnnounce(tr, idx)
}

func (c *Controller) navigateAndAnnounce(tr transport.Transport, index int) error {
	if err := tr.NavigateTo(index, true); err != nil {
		return err
	}
	c.preload(tr)
	c.publish(events.EventTrackChange, events.TrackChangeData{Index: index, Total: tr.GetTrackCount()})
	return nil
}

func (c *Controller) preload(tr transport.Transport) {
	if next, ok := c.seq.GetNextForPreload(); ok {
		tr.PrepareNext(next)
	}
}

// ToggleShuffle flips shuffle on/off and returns the new state.
func (c *Controller) ToggleShuffle() bool {
	on := c.seq.ToggleShuffle()
	if tr := c.currentTransport(); tr != nil {
		c.preload(tr)
	}
	c.publish(events.EventStatusChange, events.StatusChangeData{Reason: "shuffle"})
	return on
}

// CycleRepeat advances OFF -> TRACK -> ALL -> OFF and returns the new mode.
func (c *Controller) CycleRepeat() sequencer.RepeatMode {
	mode := c.seq.CycleRepeat()
	if tr := c.currentTransport(); tr != nil {
		c.preload(tr)
	}
	c.publish(events.EventStatusChange, events.StatusChangeData{Reason: "repeat"})
	return mode
}

// Snapshot exposes the sequencer's current state for status reporting.
func (c *Controller) Snapshot() sequencer.State {
	return c.seq.Snapshot()
}

// PeekNextForPreload exposes the sequencer's preload hint so a
// transport backend can validate a gapless swap against it without
// either package importing the other.
func (c *Controller) PeekNextForPreload() (int, bool) {
	return c.seq.GetNextForPreload()
}

// Disc returns the currently loaded disc's data model.
func (c *Controller) Disc() disc.Disc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadedDisc
}

// TransportState reports the bound transport's playback state, or
// transport.Stopped when no disc is loaded.
func (c *Controller) TransportState() transport.State {
	tr := c.currentTransport()
	if tr == nil {
		return transport.Stopped
	}
	return tr.GetState()
}

// Position reports the bound transport's position into the current
// track in seconds, or 0 when no disc is loaded.
func (c *Controller) Position() float64 {
	tr := c.currentTransport()
	if tr == nil {
		return 0
	}
	return tr.GetPosition()
}

// Duration reports the current track's duration in seconds, or 0 when
// no disc is loaded.
func (c *Controller) Duration() float64 {
	tr := c.currentTransport()
	if tr == nil {
		return 0
	}
	return tr.GetDuration()
}

// CurrentTrack returns the disc.Track metadata for the track the bound
// transport is currently on, or the zero value when no disc is loaded
// or the transport reports no current track.
func (c *Controller) CurrentTrack() disc.Track {
	tr := c.currentTransport()
	if tr == nil {
		return disc.Track{}
	}
	idx := tr.GetCurrentTrackIndex()

	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.loadedDisc.Tracks) {
		return disc.Track{}
	}
	return c.loadedDisc.Tracks[idx]
}

// handleTrackEnd is the one-way callback the bound transport invokes
// from its own helper goroutine, never from under its command lock. It
// must not be called while c.mu is held by the caller, and it must not
// itself hold c.mu while calling back into tr or c.seq, or a transport
// that re-enters the controller synchronously would deadlock.
func (c *Controller) handleTrackEnd(ev transport.EndTrackEvent) {
	tr := c.currentTransport()
	if tr == nil {
		return
	}

	if ev.Reason == transport.EndAborted {
		c.publish(events.EventStatusChange, events.StatusChangeData{Reason: fmt.Sprintf("playback_error:%d", ev.FinishedIndex)})
		return
	}

	if ev.AlreadyAdvanced {
		actual := tr.GetCurrentTrackIndex()
		c.seq.SetCurrentIndex(actual)
		c.preload(tr)
		c.publish(events.EventTrackChange, events.TrackChangeData{Index: actual, Total: tr.GetTrackCount()})
		return
	}

	next, ok := c.seq.Advance()
	if !ok {
		tr.Stop()
		c.publish(events.EventStatusChange, events.StatusChangeData{Reason: "disc_end"})
		return
	}

	if err := c.navigateAndAnnounce(tr, next); err != nil {
		c.publish(events.EventStatusChange, events.StatusChangeData{Reason: fmt.Sprintf("playback_error:%d", next)})
	}
}

func (c *Controller) publish(name string, data any) {
	c.listeners.Publish(events.Event{Name: name, Data: data})
}
