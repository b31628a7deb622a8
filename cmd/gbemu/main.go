// Command gbemu runs a DMG ROM, either windowed through internal/ui or
// headless for scripted/CI use.
package main

import (
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/oakmoss/dmgcore/internal/cart"
	"github.com/oakmoss/dmgcore/internal/emu"
	"github.com/oakmoss/dmgcore/internal/emuconfig"
	"github.com/oakmoss/dmgcore/internal/emulog"
	"github.com/oakmoss/dmgcore/internal/ui"
)

type cli struct {
	ROM     string `arg:"" help:"path to ROM (.gb)"`
	BootROM string `help:"optional DMG boot ROM to run from 0x0000"`
	Scale   int    `help:"window scale (0 uses config.toml)" default:"0"`
	Title   string `help:"window title (overrides config.toml)"`
	NoSave  bool   `help:"don't load/persist battery RAM as ROM.sav"`

	Headless bool   `help:"run without opening a window"`
	Frames   int    `help:"frames to run in headless mode" default:"300"`
	PNGOut   string `help:"write the last framebuffer to a PNG at this path"`
	Expect   string `help:"assert the final framebuffer's CRC32 (hex)"`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Description("Run a Game Boy ROM."))

	rom, err := os.ReadFile(c.ROM)
	if err != nil {
		emulog.CLI.Fatalf("read rom: %v", err)
	}
	if h, herr := cart.ParseHeader(rom); herr == nil {
		emulog.CLI.Infof("ROM: %q type=%s banks=%d ram=%dB", h.Title, h.CartTypeStr, h.ROMBanks, h.RAMSizeBytes)
	}

	var boot []byte
	if c.BootROM != "" {
		boot, err = os.ReadFile(c.BootROM)
		if err != nil {
			emulog.CLI.Fatalf("read bootrom: %v", err)
		}
	}

	var m *emu.Machine
	if len(boot) >= 0x100 {
		m = emu.NewWithBootROM(rom, boot)
	} else {
		m = emu.New(rom)
	}
	m.SetROMPath(c.ROM)

	savPath := strings.TrimSuffix(c.ROM, ".gb") + ".sav"
	if !c.NoSave {
		if data, err := os.ReadFile(savPath); err == nil {
			m.LoadBattery(data)
			emulog.CLI.Infof("loaded save RAM: %s (%d bytes)", savPath, len(data))
		}
	}

	if c.Headless {
		if err := runHeadless(m, c.Frames, c.PNGOut, c.Expect); err != nil {
			emulog.CLI.Fatal(err)
		}
		persistBattery(m, savPath, c.NoSave)
		return
	}

	cfg := emuconfig.LoadOrDefault()
	if c.Scale > 0 {
		cfg.Video.Scale = c.Scale
	}
	if c.Title != "" {
		cfg.Video.WindowTitle = c.Title
	}
	app := ui.NewApp(cfg, m)
	if err := app.Run(); err != nil {
		emulog.CLI.Fatal(err)
	}
	persistBattery(m, savPath, c.NoSave)
}

func persistBattery(m *emu.Machine, savPath string, noSave bool) {
	if noSave {
		return
	}
	data := m.SaveBattery()
	if data == nil {
		return
	}
	if err := os.WriteFile(savPath, data, 0o644); err != nil {
		emulog.CLI.Errorf("write %s: %v", savPath, err)
		return
	}
	emulog.CLI.Infof("wrote %s", savPath)
}

func runHeadless(m *emu.Machine, frames int, pngPath, expectCRC string) error {
	if frames <= 0 {
		frames = 1
	}
	start := time.Now()
	for i := 0; i < frames; i++ {
		m.StepFrame()
	}
	dur := time.Since(start)

	fb := m.Framebuffer()
	pix := framebufferRGBA(fb)
	crc := crc32.ChecksumIEEE(pix)
	fps := float64(frames) / dur.Seconds()
	emulog.CLI.Infof("headless: frames=%d elapsed=%s fps=%.2f fb_crc32=%08x",
		frames, dur.Truncate(time.Millisecond), fps, crc)

	if pngPath != "" {
		if err := saveFramePNG(pix, 160, 144, pngPath); err != nil {
			return fmt.Errorf("write PNG: %w", err)
		}
		emulog.CLI.Infof("wrote %s", pngPath)
	}

	if expectCRC != "" {
		want := strings.TrimPrefix(strings.ToLower(expectCRC), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}
	return nil
}

// framebufferRGBA renders the shade-index framebuffer through the default
// DMG palette ramp so headless runs get a stable, checksummable image
// without depending on any UI palette configuration.
func framebufferRGBA(fb *[144][160]byte) []byte {
	palette := emuconfig.Defaults().Video.Palette
	pix := make([]byte, 160*144*4)
	for y := 0; y < 144; y++ {
		for x := 0; x < 160; x++ {
			rgb := palette[fb[y][x]&3]
			i := (y*160 + x) * 4
			pix[i] = byte(rgb[0])
			pix[i+1] = byte(rgb[1])
			pix[i+2] = byte(rgb[2])
			pix[i+3] = 0xFF
		}
	}
	return pix
}

func saveFramePNG(pix []byte, w, h int, path string) error {
	img := &image.RGBA{
		Pix:    pix,
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
