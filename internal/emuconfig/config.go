// Package emuconfig loads and saves the host-level configuration that
// governs presentation and core behavioral switches, stored as TOML in the
// user's per-OS config directory.
package emuconfig

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/kirsle/configdir"
)

// Config holds every recognized core and presentation option. The core
// options (skip_bootrom, audio_sample_rate, audio_buffer_samples) are stored
// and round-tripped here, but the emulation packages read none of them: the
// bus always builds the APU at 44100 Hz, skip_bootrom and
// audio_buffer_samples are not read by any package, and audio_sample_rate
// only sets internal/ui's audio context rate. The rest are presentation-level
// and consumed by internal/ui.
type Config struct {
	Core  CoreConfig  `toml:"core"`
	Video VideoConfig `toml:"video"`
	Audio AudioConfig `toml:"audio"`
	Input InputConfig `toml:"input"`
}

type CoreConfig struct {
	SkipBootROM bool   `toml:"skip_bootrom"`
	BootROMPath string `toml:"boot_rom_path"`
}

type VideoConfig struct {
	WindowTitle string    `toml:"window_title"`
	Scale       int       `toml:"scale"`
	Palette     [4][3]int `toml:"palette"` // shade 0-3 -> RGB ramp
}

type AudioConfig struct {
	SampleRate     int `toml:"audio_sample_rate"`
	BufferSamples  int `toml:"audio_buffer_samples"`
}

type InputConfig struct {
	Up     string `toml:"up"`
	Down   string `toml:"down"`
	Left   string `toml:"left"`
	Right  string `toml:"right"`
	A      string `toml:"a"`
	B      string `toml:"b"`
	Select string `toml:"select"`
	Start  string `toml:"start"`
}

func Defaults() Config {
	return Config{
		Core: CoreConfig{SkipBootROM: true},
		Video: VideoConfig{
			WindowTitle: "dmgcore",
			Scale:       3,
			Palette: [4][3]int{
				{224, 248, 208},
				{136, 192, 112},
				{52, 104, 86},
				{8, 24, 32},
			},
		},
		Audio: AudioConfig{SampleRate: 44100, BufferSamples: 512},
		Input: InputConfig{
			Up: "Up", Down: "Down", Left: "Left", Right: "Right",
			A: "Z", B: "X", Select: "Shift", Start: "Enter",
		},
	}
}

var configDir = sync.OnceValue(func() string {
	dir := configdir.LocalConfig("dmgcore")
	_ = configdir.MakePath(dir)
	return dir
})

const filename = "config.toml"

// LoadOrDefault reads config.toml from the per-OS config directory, falling
// back to Defaults() if it is missing or malformed.
func LoadOrDefault() Config {
	cfg := Defaults()
	if _, err := toml.DecodeFile(filepath.Join(configDir(), filename), &cfg); err != nil {
		return Defaults()
	}
	return cfg
}

// Save writes cfg to the per-OS config directory as TOML.
func Save(cfg Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configDir(), filename), buf.Bytes(), 0o644)
}
