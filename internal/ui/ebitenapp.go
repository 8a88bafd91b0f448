package ui

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"
	"time"

	"github.com/gbcore/dmgcore/internal/emu"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// App is the concrete pixel/audio sink spec.md §6 asks the host to provide:
// it pulls the framebuffer and the APU's stereo ring buffer out of a
// emu.Machine once per ebiten callback and drives the machine from a fixed
// keyboard→joypad mapping. Anything beyond that — ROM browsing, a settings
// UI, save-state slots — is a different program's job.
type App struct {
	cfg    Config
	m      *emu.Machine
	tex    *ebiten.Image
	paused bool
	fast   bool

	lastTime time.Time
	frameAcc float64

	audioCtx    *audio.Context
	audioPlayer *audio.Player
	audioSrc    *apuStream
	audioMuted  bool
}

// NewApp wires cfg and m into a ready-to-run ebiten.Game.
func NewApp(cfg Config, m *emu.Machine) *App {
	cfg.Defaults()
	ebiten.SetWindowTitle(windowTitle(cfg.Title, m))
	ebiten.SetWindowSize(160*cfg.Scale, 144*cfg.Scale)
	a := &App{cfg: cfg, m: m, lastTime: time.Now()}
	a.audioCtx = audio.NewContext(48000)
	if m != nil {
		m.SetUseFetcherBG(cfg.UseFetcherBG)
	}
	return a
}

func windowTitle(base string, m *emu.Machine) string {
	if m == nil || m.ROMTitle() == "" {
		return base
	}
	return base + " - [" + m.ROMTitle() + "]"
}

func (a *App) Run() error { return ebiten.RunGame(a) }

func (a *App) Update() error {
	if a.audioPlayer == nil {
		a.audioMuted = true
		a.m.APUClearAudioLatency()
		a.audioSrc = &apuStream{m: a.m, mono: !a.cfg.AudioStereo, muted: &a.audioMuted}
		if p, err := a.audioCtx.NewPlayer(a.audioSrc); err == nil {
			a.audioPlayer = p
			a.applyPlayerBufferSize()
			a.audioPlayer.Play()
		}
	}

	var btn emu.Buttons
	btn.Right = ebiten.IsKeyPressed(ebiten.KeyRight)
	btn.Left = ebiten.IsKeyPressed(ebiten.KeyLeft)
	btn.Up = ebiten.IsKeyPressed(ebiten.KeyUp)
	btn.Down = ebiten.IsKeyPressed(ebiten.KeyDown)
	btn.A = ebiten.IsKeyPressed(ebiten.KeyZ)
	btn.B = ebiten.IsKeyPressed(ebiten.KeyX)
	btn.Start = ebiten.IsKeyPressed(ebiten.KeyEnter)
	btn.Select = ebiten.IsKeyPressed(ebiten.KeyShiftRight)
	a.m.SetButtons(btn)

	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		a.paused = !a.paused
	}
	a.fast = ebiten.IsKeyPressed(ebiten.KeyTab)
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		a.m.ResetPostBoot()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyB) {
		a.m.ResetWithBoot()
	}
	if a.paused && inpututil.IsKeyJustPressed(ebiten.KeyN) {
		a.m.StepFrame()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF11) {
		ebiten.SetFullscreen(!ebiten.IsFullscreen())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF5) {
		_ = a.m.SaveStateToFile(a.statePath())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF9) {
		_ = a.m.LoadStateFromFile(a.statePath())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF12) {
		_ = a.saveScreenshot()
	}

	muted := a.paused
	if muted != a.audioMuted {
		a.audioMuted = muted
		a.lastTime = time.Now()
		a.frameAcc = 0
		a.m.APUClearAudioLatency()
	}

	if a.paused {
		return nil
	}

	// Pace emulation at the real DMG frame rate with a time accumulator,
	// decoupled from ebiten's own ~60Hz callback cadence.
	now := time.Now()
	dt := now.Sub(a.lastTime).Seconds()
	if dt < 0 {
		dt = 0
	}
	a.lastTime = now
	const gbFPS = 4194304.0 / 70224.0 // ~59.7275
	speed := 1.0
	if a.fast {
		speed = 4.0
	}
	a.frameAcc += dt * gbFPS * speed
	for steps := 0; a.frameAcc >= 1.0 && steps < 10; steps++ {
		a.m.StepFrame()
		a.frameAcc -= 1.0
	}
	if a.fast {
		a.m.APUCapBufferedStereo(1920) // ~40ms at 48kHz, keeps fast-forward audio from lagging
	}
	return nil
}

func (a *App) Draw(screen *ebiten.Image) {
	if a.tex == nil {
		a.tex = ebiten.NewImage(160, 144)
	}
	a.tex.WritePixels(a.m.Framebuffer())
	screen.DrawImage(a.tex, nil)
}

func (a *App) Layout(outW, outH int) (int, int) { return 160, 144 }

// applyPlayerBufferSize shrinks the player's internal buffer in low-latency
// mode; otherwise it uses the configured buffer size.
func (a *App) applyPlayerBufferSize() {
	if a.audioPlayer == nil {
		return
	}
	ms := a.cfg.AudioBufferMs
	if a.cfg.AudioLowLatency {
		ms = 20
	}
	a.audioPlayer.SetBufferSize(time.Duration(ms) * time.Millisecond)
}

func (a *App) statePath() string {
	base := "unknown"
	if a.m != nil && a.m.ROMPath() != "" {
		base = a.m.ROMPath()
	}
	return strings.TrimSuffix(base, ".gb") + ".savestate"
}

func (a *App) saveScreenshot() error {
	fb := a.m.Framebuffer()
	img := &image.RGBA{
		Pix:    make([]byte, len(fb)),
		Stride: 4 * 160,
		Rect:   image.Rect(0, 0, 160, 144),
	}
	copy(img.Pix, fb)
	name := fmt.Sprintf("screenshot_%s.png", time.Now().Format("20060102_150405"))
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// apuStream implements io.Reader by pulling PCM frames from the emulator's
// APU ring buffer and converting them to 16-bit little-endian stereo, the
// format ebiten's audio.Player expects.
type apuStream struct {
	m     *emu.Machine
	mono  bool
	muted *bool
}

func (s *apuStream) Read(p []byte) (int, error) {
	if len(p) < 4 || s.m == nil {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	if s.muted != nil && *s.muted {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	want := len(p) / 4
	pulled := 0
	i := 0
	for pulled < want {
		frames := s.m.APUPullStereo(want - pulled)
		if len(frames) == 0 {
			break
		}
		for j := 0; j+1 < len(frames); j += 2 {
			l, r := frames[j], frames[j+1]
			if s.mono {
				mid := int16((int32(l) + int32(r)) / 2)
				l, r = mid, mid
			}
			binary.LittleEndian.PutUint16(p[i:], uint16(l))
			binary.LittleEndian.PutUint16(p[i+2:], uint16(r))
			i += 4
			pulled++
		}
	}
	for ; i+3 < len(p); i += 4 {
		binary.LittleEndian.PutUint16(p[i:], 0)
		binary.LittleEndian.PutUint16(p[i+2:], 0)
	}
	return len(p), nil
}
