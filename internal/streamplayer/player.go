// Package streamplayer implements the streaming playback backend
// (SPEC_FULL.md §4.4): an external mpv-style media engine, driven over
// line-delimited JSON IPC, playing a single continuous disc image while
// this package tracks track boundaries itself from chapter offsets.
//
// Because the whole disc is one continuous file, crossing a track
// boundary needs no seek and no engine intervention at all — the only
// job left to this package is noticing the crossing and telling the
// controller about it, which is what the monitor goroutine below does.
package streamplayer

import (
	"fmt"
	"sync"
	"time"

	"github.com/thestreamdigger/redram/internal/events"
	"github.com/thestreamdigger/redram/internal/transport"
)

// monitorPhase distinguishes "we just navigated and are waiting for the
// engine to confirm it actually moved" from normal steady-state
// position tracking. Conflating the two risks reading a stale position
// left over from the previous track and mistaking it for the new one.
type monitorPhase int

const (
	monitorStartup monitorPhase = iota
	monitorSteady
)

const startupPollInterval = 50 * time.Millisecond
const steadyPollInterval = 200 * time.Millisecond
const startupConfirmThreshold = 0.1 // seconds into the track

// StreamPlayer drives one external engine process for the lifetime of
// a session, loading the disc image once and never reopening it.
type StreamPlayer struct {
	proc         *process
	bus          *events.Bus[transport.EndTrackEvent]
	chapterStart []float64 // cumulative start offset per track, seconds
	totalDur     float64

	startupTimeout time.Duration

	mu          sync.Mutex
	state       transport.State
	currentIdx  int
	confirmed   bool
	lastPos     float64 // absolute position in the continuous image
	monitorGen  int      // bumped on every NavigateTo to cancel the old monitor
	closeOnce   sync.Once
}

// New launches the external engine, loads mediaPath, and queries its
// total duration. chapterStart[i] is the absolute offset in seconds at
// which track i begins; chapterStart[0] must be 0 and the slice must be
// sorted ascending.
func New(mediaPath string, chapterStart []float64, startupTimeout time.Duration) (*StreamPlayer, error) {
	if len(chapterStart) == 0 {
		return nil, fmt.Errorf("streamplayer: empty chapter table: %w", transport.ErrSetupFailed)
	}

	proc, err := startProcess(nil)
	if err != nil {
		return nil, err
	}

	if _, err := proc.ipc.sendCommand(5*time.Second, "loadfile", mediaPath); err != nil {
		proc.stop()
		return nil, fmt.Errorf("streamplayer: failed to load media: %w: %v", transport.ErrSetupFailed, err)
	}

	duration, err := waitForDuration(proc.ipc, 5*time.Second)
	if err != nil {
		proc.stop()
		return nil, fmt.Errorf("streamplayer: failed to read media duration: %w: %v", transport.ErrSetupFailed, err)
	}

	if err := proc.ipc.setProperty("pause", true); err != nil {
		proc.stop()
		return nil, fmt.Errorf("streamplayer: failed to pause engine after load: %w", err)
	}

	sp := &StreamPlayer{
		proc:           proc,
		bus:            events.NewBus[transport.EndTrackEvent](),
		chapterStart:   chapterStart,
		totalDur:       duration,
		startupTimeout: startupTimeout,
		state:          transport.Stopped,
		currentIdx:     0,
	}
	go sp.watchProcessHealth()
	return sp, nil
}

// watchProcessHealth reports a fatal playback error if the engine
// process exits on its own while still expected to be playing (a crash,
// or being killed out of band), per SPEC_FULL.md §7's "engine process
// exits unexpectedly" fatal-playback case.
func (p *StreamPlayer) watchProcessHealth() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if p.proc.running() {
			continue
		}

		p.mu.Lock()
		wasPlaying := p.state == transport.Playing
		finished := p.currentIdx
		p.state = transport.Stopped
		p.mu.Unlock()

		if wasPlaying {
			p.bus.Publish(transport.EndTrackEvent{FinishedIndex: finished, Reason: transport.EndAborted})
		}
		return
	}
}

func waitForDuration(c *ipcClient, timeout time.Duration) (float64, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		v, err := c.getProperty("duration")
		if err == nil {
			if f, ok := v.(float64); ok && f > 0 {
				return f, nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return 0, fmt.Errorf("duration not available after %v", timeout)
}

func (p *StreamPlayer) trackCount() int {
	return len(p.chapterStart)
}

func (p *StreamPlayer) trackEnd(index int) float64 {
	if index+1 < len(p.chapterStart) {
		return p.chapterStart[index+1]
	}
	return p.totalDur
}

func (p *StreamPlayer) trackDuration(index int) float64 {
	return p.trackEnd(index) - p.chapterStart[index]
}

// NavigateTo seeks to the absolute start of index and, if autoPlay,
// unpauses. A background monitor goroutine then confirms the seek
// landed before position queries start reporting real numbers.
func (p *StreamPlayer) NavigateTo(index int, autoPlay bool) error {
	if index < 0 || index >= p.trackCount() {
		return transport.ErrIndexOutOfRange
	}

	target := p.chapterStart[index]
	if _, err := p.proc.ipc.sendCommand(2*time.Second, "seek", target, "absolute", "exact"); err != nil {
		return fmt.Errorf("streamplayer: seek failed: %w", err)
	}

	p.mu.Lock()
	p.currentIdx = index
	p.confirmed = false
	p.lastPos = target
	p.monitorGen++
	gen := p.monitorGen
	if autoPlay {
		p.state = transport.Playing
	}
	p.mu.Unlock()

	if err := p.proc.ipc.setProperty("pause", !autoPlay); err != nil {
		return fmt.Errorf("streamplayer: failed to set pause state: %w", err)
	}

	if autoPlay {
		go p.runMonitor(gen)
	}
	return nil
}

// PrepareNext is a no-op: the whole disc is already loaded as one
// continuous stream, so there is nothing to preload per track.
func (p *StreamPlayer) PrepareNext(int) {}

func (p *StreamPlayer) Play() error {
	p.mu.Lock()
	if p.state == transport.Playing {
		p.mu.Unlock()
		return nil
	}
	wasStopped := p.state == transport.Stopped
	p.state = transport.Playing
	gen := p.monitorGen
	p.mu.Unlock()

	if err := p.proc.ipc.setProperty("pause", false); err != nil {
		return fmt.Errorf("streamplayer: failed to resume: %w", err)
	}
	// A monitor exits once the state leaves Playing, so resuming from
	// either Stopped or Paused starts a fresh one.
	p.mu.Lock()
	if wasStopped {
		p.confirmed = false
	}
	p.monitorGen++
	gen = p.monitorGen
	p.mu.Unlock()
	go p.runMonitor(gen)
	return nil
}

func (p *StreamPlayer) Pause() error {
	p.mu.Lock()
	if p.state != transport.Playing {
		p.mu.Unlock()
		return nil
	}
	p.state = transport.Paused
	p.mu.Unlock()

	return p.proc.ipc.setProperty("pause", true)
}

func (p *StreamPlayer) Stop() error {
	p.mu.Lock()
	p.state = transport.Stopped
	idx := p.currentIdx
	p.mu.Unlock()

	if _, err := p.proc.ipc.sendCommand(2*time.Second, "seek", p.chapterStart[idx], "absolute", "exact"); err != nil {
		return fmt.Errorf("streamplayer: stop-seek failed: %w", err)
	}
	return p.proc.ipc.setProperty("pause", true)
}

func (p *StreamPlayer) Seek(seconds float64) error {
	p.mu.Lock()
	idx := p.currentIdx
	p.mu.Unlock()

	duration := p.trackDuration(idx)
	if seconds < 0 || seconds > duration {
		return transport.ErrSeekOutOfRange
	}

	target := p.chapterStart[idx] + seconds
	if _, err := p.proc.ipc.sendCommand(2*time.Second, "seek", target, "absolute", "exact"); err != nil {
		return fmt.Errorf("streamplayer: seek failed: %w", err)
	}

	p.mu.Lock()
	p.lastPos = target
	p.mu.Unlock()
	return nil
}

func (p *StreamPlayer) GetPosition() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.confirmed {
		return 0
	}
	return p.lastPos - p.chapterStart[p.currentIdx]
}

func (p *StreamPlayer) GetDuration() float64 {
	p.mu.Lock()
	idx := p.currentIdx
	p.mu.Unlock()
	return p.trackDuration(idx)
}

func (p *StreamPlayer) GetState() transport.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *StreamPlayer) GetCurrentTrackIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentIdx
}

func (p *StreamPlayer) GetTrackCount() int {
	return p.trackCount()
}

func (p *StreamPlayer) OnTrackEnd() *events.Bus[transport.EndTrackEvent] {
	return p.bus
}

func (p *StreamPlayer) Cleanup() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = transport.Stopped
		p.mu.Unlock()
		err = p.proc.stop()
	})
	return err
}

// runMonitor is the two-phase state machine of SPEC_FULL.md §4.4: first
// confirm the seek landed (monitorStartup), then poll for a track
// boundary crossing or end-of-disc (monitorSteady). gen lets a newer
// NavigateTo/Play call silently retire an older, now-irrelevant
// monitor instead of coordinating shutdown through a channel.
func (p *StreamPlayer) runMonitor(gen int) {
	phase := monitorStartup
	startupDeadline := time.Now().Add(p.startupTimeout)

	for {
		interval := steadyPollInterval
		if phase == monitorStartup {
			interval = startupPollInterval
		}
		time.Sleep(interval)

		p.mu.Lock()
		if p.monitorGen != gen || p.state != transport.Playing {
			p.mu.Unlock()
			return
		}
		idx := p.currentIdx
		p.mu.Unlock()

		posVal, err := p.proc.ipc.getProperty("playback-time")
		if err != nil {
			continue
		}
		pos, ok := posVal.(float64)
		if !ok {
			continue
		}

		p.mu.Lock()
		if p.monitorGen != gen {
			p.mu.Unlock()
			return
		}
		p.lastPos = pos
		posInTrack := pos - p.chapterStart[idx]
		p.mu.Unlock()

		switch phase {
		case monitorStartup:
			if posInTrack > startupConfirmThreshold {
				p.mu.Lock()
				p.confirmed = true
				p.mu.Unlock()
				phase = monitorSteady
				continue
			}
			if time.Now().After(startupDeadline) {
				p.mu.Lock()
				finished := p.currentIdx
				p.state = transport.Stopped
				p.mu.Unlock()
				p.bus.Publish(transport.EndTrackEvent{FinishedIndex: finished, Reason: transport.EndAborted})
				return
			}

		case monitorSteady:
			end := p.trackEnd(idx)
			if pos+1e-3 < end {
				continue
			}

			if idx+1 >= p.trackCount() {
				p.mu.Lock()
				p.state = transport.Stopped
				p.mu.Unlock()
				p.bus.Publish(transport.EndTrackEvent{FinishedIndex: idx, Reason: transport.EndNatural})
				return
			}

			p.mu.Lock()
			p.currentIdx = idx + 1
			p.mu.Unlock()
			p.bus.Publish(transport.EndTrackEvent{FinishedIndex: idx, Reason: transport.EndNatural, AlreadyAdvanced: true})
			// Continue monitoring the now-current track in the same
			// goroutine; the disc never stopped playing underneath us.
		}
	}
}
