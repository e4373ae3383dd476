// Command redram is the playback orchestration engine's CLI front end:
// a line-oriented stdin REPL standing in for the button/GPIO and
// terminal-UI shells that drive the same controller in a full
// deployment (SPEC_FULL.md §6).
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/term"

	"github.com/thestreamdigger/redram/internal/collaborators"
	"github.com/thestreamdigger/redram/internal/config"
	"github.com/thestreamdigger/redram/internal/controller"
	"github.com/thestreamdigger/redram/internal/events"
	"github.com/thestreamdigger/redram/internal/mcub"
	"github.com/thestreamdigger/redram/internal/ramplayer"
	"github.com/thestreamdigger/redram/internal/streamplayer"
	"github.com/thestreamdigger/redram/internal/transport"
	"github.com/thestreamdigger/redram/pkg/disc"
)

// mcubStatusInterval is the status-emission cadence spec.md §6
// specifies for the MCUB display link.
const mcubStatusInterval = 500 * time.Millisecond

// mcubBaudRate is the MCUB v2.0.0 serial link speed.
const mcubBaudRate = 115200

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "redram"})

	cfgPath, err := config.DefaultPath()
	if err != nil {
		logger.Warn("could not resolve config path, using built-in defaults", "err", err)
	}

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			logger.Fatal("failed to load configuration", "path", cfgPath, "err", err)
		}
		cfg = loaded
	}

	app := newApp(cfg, logger)
	app.listenOnEvents()

	mcubConn := openMCUBPort(cfg.Device.MCUBPort, logger)
	go app.runMCUBStatusLoop(mcub.NewWriter(mcubConn))
	go app.runMCUBCommandLoop(mcub.NewReader(mcubConn))

	logger.Info("ready", "cd_device", cfg.Device.CDDevice)
	if err := app.repl(os.Stdin, os.Stdout); err != nil {
		logger.Fatal("repl exited with error", "err", err)
	}
}

// openMCUBPort opens the real 115200-baud serial link to the front
// panel display microcontroller (github.com/pkg/term, grounded on the
// teacher's serial_port_open). When devicePath is unset or the port
// can't be opened — no hardware attached, the common case off the
// single-board deployment target — it falls back to an in-process
// net.Pipe() loopback (SPEC_FULL.md §6 ADD) so the MCUB codec still has
// a live io.ReadWriteCloser to run against.
func openMCUBPort(devicePath string, logger *log.Logger) io.ReadWriteCloser {
	if devicePath != "" {
		t, err := term.Open(devicePath, term.RawMode)
		if err == nil {
			t.SetSpeed(mcubBaudRate)
			return t
		}
		logger.Warn("could not open MCUB serial port, using loopback", "path", devicePath, "err", err)
	}

	host, device := net.Pipe()
	go io.Copy(io.Discard, device)
	return host
}

type app struct {
	cfg     config.Config
	logger  *log.Logger
	ctrl    *controller.Controller
	ripper  collaborators.RipSource
	backend string // "ram" or "stream", set by the last successful load that bound a backend
}

func newApp(cfg config.Config, logger *log.Logger) *app {
	return &app{
		cfg:    cfg,
		logger: logger,
		ctrl:   controller.New(),
		ripper: collaborators.SilentRip{},
	}
}

func (a *app) listenOnEvents() {
	a.ctrl.Listeners().Subscribe(func(e events.Event) {
		a.logger.Debug("event", "name", e.Name, "data", e.Data)
	})
}

// runMCUBStatusLoop emits a status message at the cadence spec.md §6
// specifies for as long as the process runs.
func (a *app) runMCUBStatusLoop(w *mcub.Writer) {
	ticker := time.NewTicker(mcubStatusInterval)
	defer ticker.Stop()
	for range ticker.C {
		msg := mcub.BuildStatus(a.ctrl.Snapshot(), a.ctrl.TransportState(), a.ctrl.Position(), a.ctrl.Duration(), a.ctrl.CurrentTrack())
		if err := w.WriteStatus(msg); err != nil {
			a.logger.Warn("mcub status write failed", "err", err)
		}
	}
}

// runMCUBCommandLoop dispatches incoming front-panel button presses to
// the same controller operations the CLI's own command tokens reach.
func (a *app) runMCUBCommandLoop(r *mcub.Reader) {
	for {
		cmd, err := r.ReadCommand()
		if err != nil {
			a.logger.Warn("mcub command read failed, stopping command loop", "err", err)
			return
		}
		if err := a.dispatchMCUBCommand(cmd); err != nil {
			a.logger.Warn("mcub command failed", "action", cmd.Action, "err", err)
		}
	}
}

func (a *app) dispatchMCUBCommand(cmd mcub.Command) error {
	switch cmd.Action {
	case mcub.ActionPlayPause:
		if a.ctrl.TransportState() == transport.Playing {
			return a.ctrl.Pause()
		}
		return a.ctrl.Play()
	case mcub.ActionNext:
		return a.ctrl.Next()
	case mcub.ActionPrev:
		return a.ctrl.Prev()
	case mcub.ActionShuffle:
		a.ctrl.ToggleShuffle()
		return nil
	case mcub.ActionRepeat:
		a.ctrl.CycleRepeat()
		return nil
	case mcub.ActionEject:
		a.ctrl.Eject()
		return nil
	default:
		return fmt.Errorf("mcub: unrecognized action %q", cmd.Action)
	}
}

// repl implements the token dispatch of SPEC_FULL.md §6.
func (a *app) repl(in *os.File, out *os.File) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "redram ready. type 'help' for commands.")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		if cmd == "quit" {
			return nil
		}

		if err := a.dispatch(out, cmd, args); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (a *app) dispatch(out *os.File, cmd string, args []string) error {
	switch cmd {
	case "help":
		printHelp(out)
		return nil
	case "scan":
		return a.cmdScan(out)
	case "load":
		return a.cmdLoad(out, args)
	case "play":
		return a.ctrl.Play()
	case "pause":
		return a.ctrl.Pause()
	case "stop":
		return a.ctrl.Stop()
	case "next":
		return a.ctrl.Next()
	case "prev":
		return a.ctrl.Prev()
	case "goto":
		return a.cmdGoto(args)
	case "seek":
		return a.cmdSeek(args)
	case "repeat":
		mode := a.ctrl.CycleRepeat()
		fmt.Fprintf(out, "repeat: %v\n", mode)
		return nil
	case "shuffle":
		on := a.ctrl.ToggleShuffle()
		fmt.Fprintf(out, "shuffle: %v\n", on)
		return nil
	case "tracks":
		return a.cmdTracks(out)
	case "verify":
		fmt.Fprintln(out, "verify: no integrity check available without a rip source")
		return nil
	case "eject":
		a.ctrl.Eject()
		return nil
	default:
		return fmt.Errorf("unrecognized command %q, type 'help' for a list", cmd)
	}
}

func (a *app) cmdScan(out *os.File) error {
	toc, err := a.ripper.ReadTOC()
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	fmt.Fprintf(out, "scan: %d tracks found\n", len(toc))
	return nil
}

// defaultExtractionLevel is used when load is given no argument: level
// 1 (RAM, single-pass) rather than level 0 (stream), since the RAM
// backend is the safer default on a drive of unknown quality.
const defaultExtractionLevel = 1

// cmdLoad implements the `load [N]` token, where N is the extraction
// level (spec.md §6, GLOSSARY): 0 streams the disc straight off the
// drive via StreamPlayer, 1-3 extract it into RAM via RamPlayer with
// increasing error-correction effort. The level also selects which
// per-level autoplay rule applies.
func (a *app) cmdLoad(out *os.File, args []string) error {
	level := defaultExtractionLevel
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("load: invalid extraction level %q", args[0])
		}
		if n < 0 || n > 3 {
			return fmt.Errorf("load: extraction level %d out of range 0..3", n)
		}
		level = n
	}
	useRAM := level != 0

	img, err := a.ripper.RipToImage()
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}

	d := disc.Disc{Tracks: img.Tracks}
	trackCount := d.TrackCount()
	if trackCount == 0 {
		a.ctrl.Load(noopTransport{}, d)
		fmt.Fprintln(out, "load: disc reports 0 tracks")
		return nil
	}

	var tr transport.Transport
	backend := "stream"
	if useRAM {
		tr, err = ramplayer.New(providerFromImage(&img), trackCount, a.ctrl.PeekNextForPreload)
		backend = "ram"
	} else {
		path, chapters, serr := a.ripper.RipToStreamFile()
		if serr != nil {
			return fmt.Errorf("load failed: %w", serr)
		}
		timeout := time.Duration(a.cfg.Audio.StreamStartupTimeout * float64(time.Second))
		tr, err = streamplayer.New(path, chapters, timeout)
	}
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}
	a.backend = backend

	a.ctrl.Load(tr, d)
	fmt.Fprintf(out, "load: level %d, %d tracks ready (%s backend)\n", level, trackCount, a.backend)

	if a.cfg.Audio.AutoplayOnLoad.Enabled(level) {
		return a.ctrl.Goto(0)
	}
	return nil
}

func providerFromImage(img *disc.PcmImage) ramplayer.Provider {
	return func(trackIndex int) ([]byte, bool) {
		pcm, err := img.Slice(trackIndex)
		if err != nil {
			return nil, false
		}
		return pcm, true
	}
}

func (a *app) cmdGoto(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("goto: expected one track number")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("goto: invalid track number %q", args[0])
	}
	return a.ctrl.Goto(n - 1)
}

func (a *app) cmdSeek(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("seek: expected a position in seconds")
	}
	s, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("seek: invalid position %q", args[0])
	}
	return a.ctrl.Seek(s)
}

func (a *app) cmdTracks(out *os.File) error {
	d := a.ctrl.Disc()
	for _, t := range d.Tracks {
		fmt.Fprintf(out, "%2d  %6.1fs\n", t.Number, t.DurationSeconds())
	}
	return nil
}

func printHelp(out *os.File) {
	fmt.Fprintln(out, `commands:
  scan            look for a disc
  load [N]        load the disc at extraction level N (0=stream, 1-3=RAM), default 1
  play/pause/stop playback control
  next/prev       change track
  goto N          jump to track N
  seek S          seek to S seconds into the current track
  repeat          cycle repeat mode
  shuffle         toggle shuffle
  tracks          list the loaded track table
  verify          rip integrity check (none available; prints a notice)
  eject           release the disc
  quit            exit`)
}

// noopTransport backs the zero-track load path: SPEC_FULL.md §9 decides
// a disc with no readable tracks still "loads" successfully, it simply
// has nothing to play.
type noopTransport struct{}

func (noopTransport) Play() error                 { return transport.ErrNoDisc }
func (noopTransport) Pause() error                { return transport.ErrNoDisc }
func (noopTransport) Stop() error                 { return nil }
func (noopTransport) Seek(float64) error          { return transport.ErrNoDisc }
func (noopTransport) NavigateTo(int, bool) error  { return transport.ErrIndexOutOfRange }
func (noopTransport) PrepareNext(int)             {}
func (noopTransport) GetPosition() float64        { return 0 }
func (noopTransport) GetDuration() float64        { return 0 }
func (noopTransport) GetState() transport.State   { return transport.Stopped }
func (noopTransport) GetCurrentTrackIndex() int   { return -1 }
func (noopTransport) GetTrackCount() int          { return 0 }
func (noopTransport) OnTrackEnd() *events.Bus[transport.EndTrackEvent] {
	return events.NewBus[transport.EndTrackEvent]()
}
func (noopTransport) Cleanup() error { return nil }
