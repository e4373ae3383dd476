// Package collaborators declares the narrow interfaces the
// orchestration engine needs from components that are explicitly out
// of scope here — CD ripping, CD-Text extraction, and device discovery
// (SPEC_FULL.md §1 Non-goals) — plus thin stand-ins so the rest of the
// module has something real to compile and test against.
//
// A production deployment replaces RipSource and DeviceLocator with
// implementations backed by a real drive and a real udev/sysfs scan;
// nothing in internal/controller or the two transport backends needs
// to change to accept them.
package collaborators

import (
	"fmt"

	"github.com/thestreamdigger/redram/pkg/disc"
)

// TOCEntry mirrors the table-of-contents shape a CD ripping library
// reports per track: a start sector and a length, both in CD frames
// (1/75s units). Grounded on rabidaudio-audiocd's TrackPosition.
type TOCEntry struct {
	TrackNum      int
	StartSector   int
	LengthSectors int
}

// SectorsPerSecond is the CD-DA frame rate, 1/75th of a second.
const SectorsPerSecond = disc.FramesPerSecond

// RipSource is what a real CD-ripping component would implement: read
// the table of contents, then hand back either a full PCM image (for
// the RAM backend) or a path to a continuous media file plus chapter
// offsets (for the streaming backend). Ripping, retry/error-correction
// policy, and CD-Text extraction all live on the other side of this
// interface.
type RipSource interface {
	ReadTOC() ([]TOCEntry, error)
	RipToImage() (disc.PcmImage, error)
	RipToStreamFile() (path string, chapterStart []float64, err error)
}

// DeviceLocator is what a real discovery component would implement:
// find the optical drive and the MCUB serial port on the running host.
// On a single-board player these paths are usually static, but
// discovery still matters across hardware revisions.
type DeviceLocator interface {
	CDDevicePath() (string, error)
	MCUBPortPath() (string, error)
}

// StaticLocator is a DeviceLocator that always returns the paths it was
// constructed with. It's what a config-driven deployment uses in place
// of real udev discovery.
type StaticLocator struct {
	CDDevice string
	MCUBPort string
}

func (l StaticLocator) CDDevicePath() (string, error) {
	if l.CDDevice == "" {
		return "", fmt.Errorf("collaborators: no cd device configured")
	}
	return l.CDDevice, nil
}

func (l StaticLocator) MCUBPortPath() (string, error) {
	if l.MCUBPort == "" {
		return "", fmt.Errorf("collaborators: no mcub port configured")
	}
	return l.MCUBPort, nil
}

// SilentRip is a RipSource that reports an empty disc. It's useful for
// exercising the controller and CLI without a drive attached — the
// zero-track path is exactly the edge case SPEC_FULL.md §9 resolves
// explicitly (no autoplay, disc reports as loaded with TrackCount 0).
type SilentRip struct{}

func (SilentRip) ReadTOC() ([]TOCEntry, error) { return nil, nil }

func (SilentRip) RipToImage() (disc.PcmImage, error) {
	return disc.PcmImage{}, nil
}

func (SilentRip) RipToStreamFile() (string, []float64, error) {
	return "", nil, fmt.Errorf("collaborators: no disc loaded")
}
