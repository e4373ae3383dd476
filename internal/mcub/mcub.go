// Package mcub implements the MCUB v2.0.0 line-delimited JSON protocol
// spoken to the front-panel display microcontroller. redram is only
// ever the status producer / command consumer side of this link; the
// display and its firmware are out of scope (SPEC_FULL.md §1).
//
// The codec here is transport-agnostic — it works over any io.Reader /
// io.Writer — the same shape the teacher uses for its mpv IPC client
// (internal/audio/mpv/ipc.go), and the same shape this module's own
// internal/streamplayer package uses for the media engine's socket.
// The serial line itself is wired up in cmd/redram with
// github.com/pkg/term.
package mcub

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/thestreamdigger/redram/internal/sequencer"
	"github.com/thestreamdigger/redram/internal/transport"
	"github.com/thestreamdigger/redram/pkg/disc"
)

// State codes carried in a status message's "state" field.
const (
	StatePlaying = "P"
	StatePaused  = "U"
	StateStopped = "S"
)

var transportStateCode = map[transport.State]string{
	transport.Playing: StatePlaying,
	transport.Paused:  StatePaused,
	transport.Stopped: StateStopped,
}

// envelope is the wire-level wrapper every MCUB line carries:
// {"t": <type>, "d": <data>} for host-to-device data (status), or
// {"t": <type>, "c": <command>} for device-to-host commands.
type envelope struct {
	Type string          `json:"t"`
	Data json.RawMessage `json:"d,omitempty"`
	Cmd  json.RawMessage `json:"c,omitempty"`
}

// StatusMessage is the payload of a "m" envelope, which the host sends
// at a fixed cadence (every 500ms in cmd/redram). elapsed/total are MM:SS (or HH:MM:SS past the hour
// mark); repeat/single/random are carried as "0"/"1" strings per the
// v2.0.0 wire format, not booleans or numbers.
type StatusMessage struct {
	State            string `json:"state"`
	Elapsed          string `json:"elapsed"`
	Total            string `json:"total"`
	TrackNumber      int    `json:"track_number"`
	SongID           int    `json:"song_id"`
	PlaylistPosition int    `json:"playlist_position"`
	PlaylistLength   int    `json:"playlist_length"`
	Title            string `json:"title"`
	Artist           string `json:"artist"`
	Album            string `json:"album"`
	Repeat           string `json:"repeat"`
	Single           string `json:"single"`
	Random           string `json:"random"`
}

// Command is the decoded payload of a "cmd" envelope, sent when a front
// panel button is pressed. Two wire shapes are accepted: the current one
// carrying "parameters", and a legacy shape that omits it.
type Command struct {
	Action     string            `json:"action"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// repeatFlags maps a sequencer.RepeatMode onto the two-flag encoding
// MCUB v2.0.0 uses to light the front-panel repeat/single indicators.
var repeatFlags = map[sequencer.RepeatMode][2]string{
	sequencer.RepeatOff:   {"0", "0"},
	sequencer.RepeatTrack: {"1", "1"},
	sequencer.RepeatAll:   {"1", "0"},
}

// BuildStatus renders a sequencer/transport snapshot, plus the disc's
// current track metadata, into the wire message MCUB expects. track may
// be the zero value when no disc is loaded; its Title/Artist/Album are
// empty whenever the source has no CD-Text (extraction of which is out
// of scope, SPEC_FULL.md §1).
func BuildStatus(seqState sequencer.State, trState transport.State, position, duration float64, track disc.Track) StatusMessage {
	flags := repeatFlags[seqState.Repeat]
	trackNumber := seqState.CurrentIndex + 1
	return StatusMessage{
		State:            transportStateCode[trState],
		Elapsed:          formatClock(position),
		Total:            formatClock(duration),
		TrackNumber:      trackNumber,
		SongID:           trackNumber,
		PlaylistPosition: trackNumber,
		PlaylistLength:   seqState.TotalTracks,
		Title:            track.Title,
		Artist:           track.Artist,
		Album:            track.Album,
		Repeat:           flags[0],
		Single:           flags[1],
		Random:           boolFlag(seqState.ShuffleOn),
	}
}

func boolFlag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// formatClock renders seconds as MM:SS, or HH:MM:SS once the hour mark
// is passed (rare for a single track, but nothing prevents it).
func formatClock(seconds float64) string {
	total := int(seconds + 0.5)
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Writer sends status messages as newline-delimited JSON envelopes.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w for MCUB status output.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteStatus marshals and sends a single "m" status line.
func (w *Writer) WriteStatus(msg StatusMessage) error {
	d, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mcub: failed to marshal status: %w", err)
	}
	data, err := json.Marshal(envelope{Type: "m", Data: d})
	if err != nil {
		return fmt.Errorf("mcub: failed to marshal envelope: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.w.Write(data)
	return err
}

// Reader decodes incoming front-panel commands from newline-delimited
// JSON, tolerating the legacy shape that has no "parameters" field.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r for MCUB command input.
func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

// ReadCommand blocks for the next "cmd" line and decodes it. It returns
// io.EOF when the underlying reader is exhausted.
func (r *Reader) ReadCommand() (Command, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return Command{}, fmt.Errorf("mcub: read failed: %w", err)
		}
		return Command{}, io.EOF
	}

	line := r.scanner.Bytes()
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Command{}, fmt.Errorf("mcub: malformed envelope %q: %w", line, err)
	}
	if env.Type != "cmd" {
		// Not a command (e.g. the "id" handshake); wait for the next line.
		return r.ReadCommand()
	}

	var cmd Command
	if err := json.Unmarshal(env.Cmd, &cmd); err != nil {
		return Command{}, fmt.Errorf("mcub: malformed command %q: %w", line, err)
	}
	if cmd.Action == "" {
		return Command{}, fmt.Errorf("mcub: command missing action: %q", line)
	}
	return cmd, nil
}

// The action vocabulary a front panel button press can report.
const (
	ActionPlayPause = "play_pause"
	ActionNext      = "next"
	ActionPrev      = "prev"
	ActionShuffle   = "shuffle"
	ActionRepeat    = "repeat"
	ActionEject     = "eject"
)
