package controller

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thestreamdigger/redram/internal/events"
	"github.com/thestreamdigger/redram/internal/transport"
	"github.com/thestreamdigger/redram/pkg/disc"
)

// fakeTransport is a minimal, controllable stand-in for a real backend,
// used to drive the controller's reconciliation logic deterministically.
type fakeTransport struct {
	mu         sync.Mutex
	trackCount int
	current    int
	state      transport.State
	bus        *events.Bus[transport.EndTrackEvent]
	prepared   []int
	cleanedUp  bool
}

func newFakeTransport(n int) *fakeTransport {
	return &fakeTransport{trackCount: n, current: -1, bus: events.NewBus[transport.EndTrackEvent]()}
}

func (f *fakeTransport) Play() error  { f.mu.Lock(); defer f.mu.Unlock(); f.state = transport.Playing; return nil }
func (f *fakeTransport) Pause() error { f.mu.Lock(); defer f.mu.Unlock(); f.state = transport.Paused; return nil }
func (f *fakeTransport) Stop() error  { f.mu.Lock(); defer f.mu.Unlock(); f.state = transport.Stopped; return nil }
func (f *fakeTransport) Seek(float64) error { return nil }

func (f *fakeTransport) NavigateTo(index int, autoPlay bool) error {
	if index < 0 || index >= f.trackCount {
		return transport.ErrIndexOutOfRange
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = index
	if autoPlay {
		f.state = transport.Playing
	}
	return nil
}

func (f *fakeTransport) PrepareNext(index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, index)
}

func (f *fakeTransport) GetPosition() float64 { return 0 }
func (f *fakeTransport) GetDuration() float64 { return 0 }
func (f *fakeTransport) GetState() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
func (f *fakeTransport) GetCurrentTrackIndex() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}
func (f *fakeTransport) GetTrackCount() int { return f.trackCount }
func (f *fakeTransport) OnTrackEnd() *events.Bus[transport.EndTrackEvent] { return f.bus }
func (f *fakeTransport) Cleanup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanedUp = true
	return nil
}

func (f *fakeTransport) forceCurrent(index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = index
}

func testDisc(n int) disc.Disc {
	tracks := make([]disc.Track, n)
	for i := range tracks {
		tracks[i] = disc.Track{Number: i + 1, DurationCDF: 1000}
	}
	return disc.Disc{Tracks: tracks, TotalCDF: 1000 * n}
}

func TestGotoNavigatesAndPreloads(t *testing.T) {
	c := New()
	tr := newFakeTransport(4)
	c.Load(tr, testDisc(4))

	require.NoError(t, c.Goto(1))
	assert.Equal(t, 1, tr.current)
	assert.Equal(t, []int{2}, tr.prepared)
}

func TestHandleTrackEndAdvancesWhenBackendDidNotAutoSwap(t *testing.T) {
	c := New()
	tr := newFakeTransport(3)
	c.Load(tr, testDisc(3))
	require.NoError(t, c.Goto(0))

	tr.bus.Publish(transport.EndTrackEvent{FinishedIndex: 0, Reason: transport.EndNatural})

	assert.Equal(t, 1, tr.current)
	assert.Equal(t, 1, c.Snapshot().CurrentIndex)
}

func TestHandleTrackEndAdoptsBackendAutoAdvance(t *testing.T) {
	c := New()
	tr := newFakeTransport(3)
	c.Load(tr, testDisc(3))
	require.NoError(t, c.Goto(0))

	// Simulate a gapless backend that already swapped to track 1 on its
	// own before raising the event.
	tr.forceCurrent(1)
	tr.bus.Publish(transport.EndTrackEvent{FinishedIndex: 0, Reason: transport.EndNatural, AlreadyAdvanced: true})

	assert.Equal(t, 1, c.Snapshot().CurrentIndex)
}

func TestHandleTrackEndAtEndOfDiscUnderRepeatOffStops(t *testing.T) {
	c := New()
	tr := newFakeTransport(2)
	c.Load(tr, testDisc(2))
	require.NoError(t, c.Goto(1))

	var lastStatus string
	c.Listeners().Subscribe(func(e events.Event) {
		if e.Name == events.EventStatusChange {
			lastStatus = e.Data.(events.StatusChangeData).Reason
		}
	})

	tr.bus.Publish(transport.EndTrackEvent{FinishedIndex: 1, Reason: transport.EndNatural})

	assert.Equal(t, "disc_end", lastStatus)
	assert.Equal(t, transport.Stopped, tr.GetState())
}

func TestHandleTrackEndRepeatTrackShuffleImmunity(t *testing.T) {
	// Mirrors SPEC_FULL.md §8 scenario 2 at the controller level: the
	// backend auto-swaps back onto the same track, and the sequencer's
	// shuffle position must not move.
	c := New()
	tr := newFakeTransport(5)
	c.Load(tr, testDisc(5))
	c.ToggleShuffle()
	require.NoError(t, c.Goto(2))
	c.CycleRepeat()
	c.CycleRepeat() // -> TRACK
	posBefore := c.Snapshot().ShufflePos

	for i := 0; i < 2; i++ {
		tr.forceCurrent(2)
		tr.bus.Publish(transport.EndTrackEvent{FinishedIndex: 2, Reason: transport.EndNatural, AlreadyAdvanced: true})
	}

	snap := c.Snapshot()
	assert.Equal(t, 2, snap.CurrentIndex)
	assert.Equal(t, posBefore, snap.ShufflePos)
}

func TestEjectCleansUpTransportAndClearsSequencer(t *testing.T) {
	c := New()
	tr := newFakeTransport(3)
	c.Load(tr, testDisc(3))
	require.NoError(t, c.Goto(0))

	c.Eject()

	assert.True(t, tr.cleanedUp)
	assert.Equal(t, 0, c.Snapshot().TotalTracks)
	assert.ErrorIs(t, c.Play(), transport.ErrNoDisc)
}

func TestPlayPauseStopDelegateToTransport(t *testing.T) {
	c := New()
	tr := newFakeTransport(2)
	c.Load(tr, testDisc(2))

	require.NoError(t, c.Play())
	assert.Equal(t, transport.Playing, tr.GetState())

	require.NoError(t, c.Pause())
	assert.Equal(t, transport.Paused, tr.GetState())

	require.NoError(t, c.Stop())
	assert.Equal(t, transport.Stopped, tr.GetState())
}

func TestOperationsWithoutLoadedDiscReturnErrNoDisc(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.Play(), transport.ErrNoDisc)
	assert.ErrorIs(t, c.Pause(), transport.ErrNoDisc)
	assert.ErrorIs(t, c.Stop(), transport.ErrNoDisc)
	assert.ErrorIs(t, c.Seek(1), transport.ErrNoDisc)
	assert.ErrorIs(t, c.Goto(0), transport.ErrNoDisc)
}
