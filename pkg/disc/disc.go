// Package disc holds the data model shared by the RAM and streaming
// playback backends: the track list, the table of contents, and the
// immutable PCM image used by RAM-mode playback.
package disc

import "fmt"

// Redbook audio constants. One CD frame (also called a sector) is
// 1/75th of a second; all Redbook audio is 44.1kHz 16-bit stereo.
const (
	SampleRate       = 44100
	Channels         = 2
	BytesPerSample   = 2
	FramesPerSecond  = 75
	BytesPerCDSecond = SampleRate * Channels * BytesPerSample
)

// Track describes one track of a loaded disc.
type Track struct {
	Number      int // 1-based
	DurationCDF int // duration in CD frames (1/75s)
	RAMOffset   int64
	Title       string
	Artist      string
	Album       string
}

// DurationSeconds returns the track's duration in seconds.
func (t Track) DurationSeconds() float64 {
	return float64(t.DurationCDF) / FramesPerSecond
}

// Disc is the table of contents of a loaded CD.
type Disc struct {
	Tracks   []Track
	TotalCDF int
	CDText   bool
}

// TrackCount returns the number of tracks on the disc.
func (d Disc) TrackCount() int {
	return len(d.Tracks)
}

// PcmImage is the immutable RAM-mode sample blob produced by extraction:
// interleaved 16-bit little-endian stereo samples at 44.1kHz, plus the
// track list used to derive byte ranges. It is never mutated after
// construction.
type PcmImage struct {
	Bytes  []byte
	Tracks []Track
}

// TrackRange returns the [start, end) byte range within Bytes that
// belongs to the given 0-based track index.
func (p *PcmImage) TrackRange(index int) (start, end int64, ok bool) {
	if index < 0 || index >= len(p.Tracks) {
		return 0, 0, false
	}
	start = p.Tracks[index].RAMOffset
	if index+1 < len(p.Tracks) {
		end = p.Tracks[index+1].RAMOffset
	} else {
		end = int64(len(p.Bytes))
	}
	return start, end, true
}

// Slice returns the PCM bytes for the given 0-based track index.
func (p *PcmImage) Slice(index int) ([]byte, error) {
	start, end, ok := p.TrackRange(index)
	if !ok {
		return nil, fmt.Errorf("disc: track index %d out of range", index)
	}
	if start < 0 || end > int64(len(p.Bytes)) || start > end {
		return nil, fmt.Errorf("disc: track index %d has invalid byte range [%d,%d)", index, start, end)
	}
	return p.Bytes[start:end], nil
}
