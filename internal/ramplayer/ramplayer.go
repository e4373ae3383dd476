// Package ramplayer implements the bit-perfect gapless RAM playback
// backend (SPEC_FULL.md §4.3): two PCM slots (current/next) drained by
// a single long-lived oto sink, with a buffer swap at track boundaries
// instead of a close/reopen.
//
// Grounded on the teacher's internal/audio/legacy/player.go (oto
// context/player lifecycle, control-channel shaped state machine), with
// the per-HTTP-stream decode loop replaced by a buffer-swap io.Reader
// so the sink never closes between tracks.
package ramplayer

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/thestreamdigger/redram/internal/events"
	"github.com/thestreamdigger/redram/internal/transport"
	"github.com/thestreamdigger/redram/pkg/disc"
)

// Provider returns the PCM bytes for a 0-based track index, or
// ok=false if the data isn't available yet (not a fatal error — the
// caller treats it as "not ready").
type Provider func(trackIndex int) (pcm []byte, ok bool)

// ExpectedNextFunc lets the controller tell RamPlayer, at the moment of
// a gapless swap, which index the sequencer actually expects next. If
// the preloaded "next" slot doesn't match, the swap is rejected and the
// track ends plainly instead.
type ExpectedNextFunc func() (index int, ok bool)

type slot struct {
	pcm        []byte
	trackIndex int
	valid      bool
}

// RamPlayer drives a single oto.Player for the lifetime of a session.
type RamPlayer struct {
	provider     Provider
	trackCount   int
	expectedNext ExpectedNextFunc

	ctx  *oto.Context
	sink *oto.Player
	bus  *events.Bus[transport.EndTrackEvent]

	mu        sync.Mutex
	state     transport.State
	cur       slot
	nxt       slot
	cursor    int64 // absolute offset into cur.pcm
	confirmed bool  // true once the first byte of the current track has been delivered

	closeOnce sync.Once
}

// New constructs a RamPlayer bound to the given track count. provider
// supplies PCM bytes per track on demand; expectedNext may be nil, in
// which case any populated "next" slot is always accepted at swap time.
func New(provider Provider, trackCount int, expectedNext ExpectedNextFunc) (*RamPlayer, error) {
	op := &oto.NewContextOptions{
		SampleRate:   disc.SampleRate,
		ChannelCount: disc.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   50 * time.Millisecond,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("ramplayer: failed to open audio device: %w: %v", transport.ErrSetupFailed, err)
	}
	<-ready

	rp := &RamPlayer{
		provider:     provider,
		trackCount:   trackCount,
		expectedNext: expectedNext,
		ctx:          ctx,
		bus:          events.NewBus[transport.EndTrackEvent](),
		state:        transport.Stopped,
	}
	rp.sink = ctx.NewPlayer(rp)
	go rp.watchSinkError()
	return rp, nil
}

// NavigateTo binds "current track" to index. If autoPlay, playback
// starts immediately from byte 0 of the track.
func (p *RamPlayer) NavigateTo(index int, autoPlay bool) error {
	if index < 0 || index >= p.trackCount {
		return transport.ErrIndexOutOfRange
	}

	pcm, ok := p.provider(index)
	if !ok {
		return fmt.Errorf("ramplayer: track %d not ready: %w", index, transport.ErrSetupFailed)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// A fresh navigate drops a preload of the very track it now makes
	// current; that slot is no longer "next". A preload of any other
	// index is kept until the next PrepareNext replaces it.
	if p.nxt.valid && p.nxt.trackIndex == index {
		p.nxt = slot{}
	}

	p.cur = slot{pcm: pcm, trackIndex: index, valid: true}
	p.cursor = 0
	p.confirmed = false

	if autoPlay {
		p.state = transport.Playing
		p.sink.Play()
	}
	return nil
}

// PrepareNext preloads the PCM for index into the idle slot. A no-op
// result (data not ready) is silently dropped; it will simply not be
// there for the gapless swap.
func (p *RamPlayer) PrepareNext(index int) {
	if index < 0 || index >= p.trackCount {
		return
	}
	pcm, ok := p.provider(index)
	if !ok {
		return
	}

	p.mu.Lock()
	p.nxt = slot{pcm: pcm, trackIndex: index, valid: true}
	p.mu.Unlock()
}

// Play resumes from the saved position if paused, or starts the bound
// track from 0 if stopped. Idempotent while already playing.
func (p *RamPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case transport.Playing:
		return nil
	case transport.Paused:
		p.state = transport.Playing
		p.sink.Play()
		return nil
	default: // Stopped
		if !p.cur.valid {
			return transport.ErrNoDisc
		}
		p.cursor = 0
		p.confirmed = false
		p.state = transport.Playing
		p.sink.Play()
		return nil
	}
}

// Pause preserves the stream position. No-op when stopped.
func (p *RamPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == transport.Playing {
		p.state = transport.Paused
		p.sink.Pause()
	}
	return nil
}

// Stop discards the in-flight position and silences the sink, without
// closing it.
func (p *RamPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = transport.Stopped
	p.cursor = 0
	p.sink.Pause()
	return nil
}

// Seek moves the playhead within the current track. Out-of-range
// requests are rejected as a no-op.
func (p *RamPlayer) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.cur.valid {
		return transport.ErrNoDisc
	}

	duration := float64(len(p.cur.pcm)) / disc.BytesPerCDSecond
	if seconds < 0 || seconds > duration {
		return transport.ErrSeekOutOfRange
	}

	offset := int64(seconds * disc.BytesPerCDSecond)
	offset -= offset % (disc.Channels * disc.BytesPerSample)
	p.cursor = offset
	return nil
}

// GetPosition returns the playhead position in seconds. It is held at
// 0 while a track change is in flight and not yet confirmed by the
// sink, per SPEC_FULL.md §4.2.
func (p *RamPlayer) GetPosition() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.confirmed || !p.cur.valid {
		return 0
	}
	return float64(p.cursor) / disc.BytesPerCDSecond
}

// GetDuration returns the current track's duration in seconds.
func (p *RamPlayer) GetDuration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.cur.valid {
		return 0
	}
	return float64(len(p.cur.pcm)) / disc.BytesPerCDSecond
}

func (p *RamPlayer) GetState() transport.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *RamPlayer) GetCurrentTrackIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cur.valid {
		return -1
	}
	return p.cur.trackIndex
}

func (p *RamPlayer) GetTrackCount() int {
	return p.trackCount
}

func (p *RamPlayer) OnTrackEnd() *events.Bus[transport.EndTrackEvent] {
	return p.bus
}

// Cleanup releases the audio device. Safe to call twice.
func (p *RamPlayer) Cleanup() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = transport.Stopped
		p.mu.Unlock()

		p.sink.Close()
		p.ctx.Suspend()
	})
	return nil
}

// Read is the single playback loop (SPEC_FULL.md §4.3 steps 1-4): it is
// invoked by oto's own internal playback goroutine, which makes it the
// "dedicated playback thread" of the concurrency model. It never
// performs the end-of-track callback itself — that's handed to a
// freshly spawned goroutine so the sink's own goroutine never re-enters
// the controller.
func (p *RamPlayer) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != transport.Playing || !p.cur.valid {
		return silence(buf), nil
	}

	remaining := int64(len(p.cur.pcm)) - p.cursor
	if remaining > 0 {
		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		copy(buf[:n], p.cur.pcm[p.cursor:p.cursor+n])
		p.cursor += n
		p.confirmed = true
		if n == int64(len(buf)) {
			return int(n), nil
		}
		// The track ran out mid-buffer: cross the boundary in this same
		// call so the rest of buf is filled from the next track.
		m, err := p.handleTrackEndLocked(buf[n:])
		return int(n) + m, err
	}

	return p.handleTrackEndLocked(buf)
}

// handleTrackEndLocked is called with p.mu held and the current track
// exhausted. It performs the gapless swap when possible, otherwise
// stops playback and reports end of track on a helper goroutine.
func (p *RamPlayer) handleTrackEndLocked(buf []byte) (int, error) {
	finished := p.cur.trackIndex

	expectedOK := true
	if p.expectedNext != nil {
		expected, ok := p.expectedNext()
		expectedOK = ok && p.nxt.valid && p.nxt.trackIndex == expected
	} else {
		expectedOK = p.nxt.valid
	}

	if expectedOK {
		p.cur = p.nxt
		p.nxt = slot{}
		p.cursor = 0
		p.confirmed = false
		go p.bus.Publish(transport.EndTrackEvent{FinishedIndex: finished, Reason: transport.EndNatural, AlreadyAdvanced: true})

		// Immediately continue writing from the swapped-in track so
		// the sink never has a silent gap.
		n := int64(len(buf))
		if n > int64(len(p.cur.pcm)) {
			n = int64(len(p.cur.pcm))
		}
		copy(buf[:n], p.cur.pcm[:n])
		p.cursor = n
		p.confirmed = true
		return int(n), nil
	}

	p.state = transport.Stopped
	go p.bus.Publish(transport.EndTrackEvent{FinishedIndex: finished, Reason: transport.EndNatural})
	return silence(buf), nil
}

// watchSinkError polls the oto player's Err() for a fatal write failure.
// A failing sink transitions to STOPPED and reports an aborted
// end-of-track so the controller can surface a fatal-playback error
// instead of silently stalling (SPEC_FULL.md §7).
func (p *RamPlayer) watchSinkError() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if p.sink == nil {
			p.mu.Unlock()
			return
		}
		err := p.sink.Err()
		playing := p.state == transport.Playing
		finished := -1
		if p.cur.valid {
			finished = p.cur.trackIndex
		}
		p.mu.Unlock()

		if err != nil && playing {
			p.mu.Lock()
			p.state = transport.Stopped
			p.mu.Unlock()
			p.bus.Publish(transport.EndTrackEvent{FinishedIndex: finished, Reason: transport.EndAborted})
			return
		}
	}
}

func silence(buf []byte) int {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf)
}
