// Package ui hosts the windowed ebiten frontend: an ebiten.Game that drives
// a Machine, renders its framebuffer, and forwards keyboard input to the
// joypad. ROM-browsing and skin-overlay chrome from the reference frontend
// are out of scope here; this stays a thin driver around internal/emu.
package ui

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/oakmoss/dmgcore/internal/emu"
	"github.com/oakmoss/dmgcore/internal/emuconfig"
	"github.com/oakmoss/dmgcore/internal/emulog"
)

// App is the ebiten.Game implementation wrapping a running Machine.
type App struct {
	cfg emuconfig.Config
	m   *emu.Machine
	tex *ebiten.Image

	keymap keymap

	audioCtx    *audio.Context
	audioPlayer *audio.Player

	paused bool
	fast   bool
}

// NewApp constructs the window around m using cfg's video/audio/input
// settings. It starts the audio player against an apuStream reading
// directly from m's APU.
func NewApp(cfg emuconfig.Config, m *emu.Machine) *App {
	if cfg.Video.Scale <= 0 {
		cfg.Video.Scale = 3
	}
	ebiten.SetWindowTitle(cfg.Video.WindowTitle)
	ebiten.SetWindowSize(160*cfg.Video.Scale, 144*cfg.Video.Scale)

	a := &App{cfg: cfg, m: m, keymap: newKeymap(cfg.Input)}

	sampleRate := cfg.Audio.SampleRate
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	a.audioCtx = audio.NewContext(sampleRate)
	stream := &apuStream{m: m}
	player, err := a.audioCtx.NewPlayer(stream)
	if err != nil {
		emulog.UI.Warnf("audio player: %v", err)
	} else {
		a.audioPlayer = player
		a.audioPlayer.Play()
	}
	return a
}

func (a *App) Run() error { return ebiten.RunGame(a) }

func (a *App) Update() error {
	var btn emu.Buttons
	if ebiten.IsKeyPressed(a.keymap.right) {
		btn.Right = true
	}
	if ebiten.IsKeyPressed(a.keymap.left) {
		btn.Left = true
	}
	if ebiten.IsKeyPressed(a.keymap.up) {
		btn.Up = true
	}
	if ebiten.IsKeyPressed(a.keymap.down) {
		btn.Down = true
	}
	if ebiten.IsKeyPressed(a.keymap.a) {
		btn.A = true
	}
	if ebiten.IsKeyPressed(a.keymap.b) {
		btn.B = true
	}
	if ebiten.IsKeyPressed(a.keymap.start) {
		btn.Start = true
	}
	if ebiten.IsKeyPressed(a.keymap.selectKey) {
		btn.Select = true
	}
	a.m.SetButtons(btn)

	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		a.paused = !a.paused
	}
	a.fast = ebiten.IsKeyPressed(ebiten.KeyTab)

	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		a.m.ResetPostBoot()
	}
	if a.paused && inpututil.IsKeyJustPressed(ebiten.KeyN) {
		a.m.StepFrame()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF5) {
		if err := a.m.SaveStateToFile(a.slotPath()); err != nil {
			emulog.UI.Warnf("save state: %v", err)
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF9) {
		if err := a.m.LoadStateFromFile(a.slotPath()); err != nil {
			emulog.UI.Warnf("load state: %v", err)
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF12) {
		if err := a.saveScreenshot(); err != nil {
			emulog.UI.Warnf("screenshot: %v", err)
		}
	}

	if !a.paused {
		if a.fast {
			for i := 0; i < 5; i++ {
				a.m.StepFrame()
			}
		} else {
			a.m.StepFrame()
		}
	}
	return nil
}

func (a *App) slotPath() string {
	if a.m.ROMPath() == "" {
		return "slot0.savestate"
	}
	return a.m.ROMPath() + ".savestate"
}

func (a *App) Draw(screen *ebiten.Image) {
	if a.tex == nil {
		a.tex = ebiten.NewImage(160, 144)
	}
	fb := a.m.Framebuffer()
	pix := make([]byte, 160*144*4)
	palette := a.cfg.Video.Palette
	for y := 0; y < 144; y++ {
		for x := 0; x < 160; x++ {
			shade := fb[y][x]
			rgb := palette[shade&3]
			i := (y*160 + x) * 4
			pix[i] = byte(rgb[0])
			pix[i+1] = byte(rgb[1])
			pix[i+2] = byte(rgb[2])
			pix[i+3] = 0xFF
		}
	}
	a.tex.WritePixels(pix)
	screen.DrawImage(a.tex, nil)
}

func (a *App) Layout(outsideWidth, outsideHeight int) (int, int) { return 160, 144 }

func (a *App) saveScreenshot() error {
	fb := a.m.Framebuffer()
	img := image.NewRGBA(image.Rect(0, 0, 160, 144))
	palette := a.cfg.Video.Palette
	for y := 0; y < 144; y++ {
		for x := 0; x < 160; x++ {
			rgb := palette[fb[y][x]&3]
			i := img.PixOffset(x, y)
			img.Pix[i] = byte(rgb[0])
			img.Pix[i+1] = byte(rgb[1])
			img.Pix[i+2] = byte(rgb[2])
			img.Pix[i+3] = 0xFF
		}
	}
	name := fmt.Sprintf("screenshot_%s.png", time.Now().Format("20060102_150405"))
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
