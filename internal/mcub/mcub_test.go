package mcub

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thestreamdigger/redram/internal/sequencer"
	"github.com/thestreamdigger/redram/internal/transport"
	"github.com/thestreamdigger/redram/pkg/disc"
)

func TestBuildStatusMapsRepeatModeToFlags(t *testing.T) {
	cases := []struct {
		mode           sequencer.RepeatMode
		repeat, single string
	}{
		{sequencer.RepeatOff, "0", "0"},
		{sequencer.RepeatTrack, "1", "1"},
		{sequencer.RepeatAll, "1", "0"},
	}

	for _, tc := range cases {
		msg := BuildStatus(sequencer.State{Repeat: tc.mode, CurrentIndex: 0, TotalTracks: 1}, transport.Playing, 0, 0, disc.Track{})
		assert.Equal(t, tc.repeat, msg.Repeat)
		assert.Equal(t, tc.single, msg.Single)
	}
}

func TestBuildStatusUsesSpecLiteralFlagsScenario(t *testing.T) {
	// SPEC_FULL.md §8 scenario 5.
	all := BuildStatus(sequencer.State{Repeat: sequencer.RepeatAll}, transport.Playing, 0, 0, disc.Track{})
	assert.Equal(t, "1", all.Repeat)
	assert.Equal(t, "0", all.Single)

	track := BuildStatus(sequencer.State{Repeat: sequencer.RepeatTrack}, transport.Playing, 0, 0, disc.Track{})
	assert.Equal(t, "1", track.Repeat)
	assert.Equal(t, "1", track.Single)

	off := BuildStatus(sequencer.State{Repeat: sequencer.RepeatOff}, transport.Playing, 0, 0, disc.Track{})
	assert.Equal(t, "0", off.Repeat)
	assert.Equal(t, "0", off.Single)
}

func TestBuildStatusFormatsStateAndClock(t *testing.T) {
	msg := BuildStatus(sequencer.State{CurrentIndex: 2, TotalTracks: 10}, transport.Paused, 72, 185, disc.Track{Title: "Track"})
	assert.Equal(t, StatePaused, msg.State)
	assert.Equal(t, "01:12", msg.Elapsed)
	assert.Equal(t, "03:05", msg.Total)
	assert.Equal(t, 3, msg.TrackNumber)
	assert.Equal(t, "Track", msg.Title)
}

func TestWriterAndReaderRoundTripOverPipe(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	w := NewWriter(serverConn)

	msg := BuildStatus(sequencer.State{Repeat: sequencer.RepeatAll, CurrentIndex: 2, TotalTracks: 10, ShuffleOn: true}, transport.Paused, 12.5, 180, disc.Track{})

	done := make(chan error, 1)
	go func() { done <- w.WriteStatus(msg) }()

	var line []byte
	readDone := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		n, _ := clientConn.Read(buf)
		line = buf[:n]
		close(readDone)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write timed out")
	}
	<-readDone
	assert.Contains(t, string(line), `"t":"m"`)
	assert.Contains(t, string(line), `"track_number":3`)
}

func TestReaderAcceptsCommandWithoutParameters(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	r := NewReader(serverConn)

	go clientConn.Write([]byte(`{"t":"cmd","c":{"action":"next"}}` + "\n"))

	cmd, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, ActionNext, cmd.Action)
	assert.Nil(t, cmd.Parameters)
}

func TestReaderAcceptsCommandWithParameters(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	r := NewReader(serverConn)

	go clientConn.Write([]byte(`{"t":"cmd","c":{"action":"goto","parameters":{"track":"4"}}}` + "\n"))

	cmd, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, "goto", cmd.Action)
	assert.Equal(t, "4", cmd.Parameters["track"])
}

func TestReaderRejectsCommandMissingAction(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	r := NewReader(serverConn)
	go clientConn.Write([]byte(`{"t":"cmd","c":{}}` + "\n"))

	_, err := r.ReadCommand()
	assert.Error(t, err)
}
