// Package emu ties the CPU, bus, and its subsystems into a runnable Machine
// and drives the per-frame scheduling loop described in the core's design:
// step the CPU, forward its cycle delta to the PPU/Timer/APU, repeat until a
// frame's worth of T-cycles has been consumed.
package emu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/oakmoss/dmgcore/internal/bus"
	"github.com/oakmoss/dmgcore/internal/cart"
	"github.com/oakmoss/dmgcore/internal/cpu"
	"github.com/oakmoss/dmgcore/internal/emulog"
)

const cyclesPerFrame = 70224

// Buttons mirrors the 8 physical DMG buttons as independent pressed states.
type Buttons struct {
	A, B, Select, Start         bool
	Right, Left, Up, Down       bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoyRight
	}
	if b.Left {
		m |= bus.JoyLeft
	}
	if b.Up {
		m |= bus.JoyUp
	}
	if b.Down {
		m |= bus.JoyDown
	}
	if b.A {
		m |= bus.JoyA
	}
	if b.B {
		m |= bus.JoyB
	}
	if b.Select {
		m |= bus.JoySelect
	}
	if b.Start {
		m |= bus.JoyStart
	}
	return m
}

// Machine is a complete, runnable Game Boy: cartridge, bus, and CPU.
type Machine struct {
	bus *bus.Bus
	cpu *cpu.CPU

	romPath string
}

// New loads rom and boots the machine straight into post-boot-ROM state
// (skip_bootrom semantics). Use NewWithBootROM to run a real boot ROM image.
func New(rom []byte) *Machine {
	b := bus.New(rom)
	c := cpu.New(b)
	b.ResetPostBoot()
	c.ResetNoBoot()
	emulog.Emu.Infof("loaded cartridge (%d bytes)", len(rom))
	return &Machine{bus: b, cpu: c}
}

// NewWithBootROM loads rom and runs the given 256-byte boot ROM image from
// address 0, falling through to post-boot state once it hands off control.
func NewWithBootROM(rom, bootROM []byte) *Machine {
	b := bus.New(rom)
	b.SetBootROM(bootROM)
	c := cpu.New(b)
	c.SetPC(0x0000)
	return &Machine{bus: b, cpu: c}
}

// LoadROMFromFile is a convenience constructor reading rom from disk.
func LoadROMFromFile(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rom: %w", err)
	}
	m := New(data)
	m.romPath = path
	return m, nil
}

func (m *Machine) ROMPath() string     { return m.romPath }
func (m *Machine) SetROMPath(p string) { m.romPath = p }

func (m *Machine) Bus() *bus.Bus { return m.bus }
func (m *Machine) CPU() *cpu.CPU { return m.cpu }

// SetButtons pushes the host's current button states into the joypad.
func (m *Machine) SetButtons(b Buttons) { m.bus.SetJoypadState(b.mask()) }

func (m *Machine) SetSerialWriter(w io.Writer) { m.bus.SetSerialWriter(w) }

// ResetPostBoot reinitializes the bus and CPU to the same post-boot-ROM
// state New produces, keeping the currently loaded cartridge.
func (m *Machine) ResetPostBoot() {
	m.bus.ResetPostBoot()
	m.cpu.ResetNoBoot()
}

// StepFrame runs the scheduler for one video frame: repeatedly step the CPU
// (each cpu.Step forwards its own cycle delta to the bus, which fans it out
// to PPU/Timer/APU) until at least 70224 T-cycles have elapsed.
func (m *Machine) StepFrame() {
	total := 0
	for total < cyclesPerFrame {
		total += m.cpu.Step()
	}
}

// Framebuffer returns the current 160x144 shade-index grid.
func (m *Machine) Framebuffer() *[144][160]byte { return m.bus.PPU().Framebuffer() }

// SaveBattery returns the cartridge's external RAM, for a host to persist
// alongside the ROM. Returns nil for cartridges with no battery-backed RAM.
func (m *Machine) SaveBattery() []byte {
	if bb, ok := m.bus.Cart().(cart.BatteryBacked); ok {
		return bb.SaveRAM()
	}
	return nil
}

func (m *Machine) LoadBattery(data []byte) {
	if bb, ok := m.bus.Cart().(cart.BatteryBacked); ok {
		bb.LoadRAM(data)
	}
}

// APUPullSamples drains up to len(dst) mono samples from the APU.
func (m *Machine) APUPullSamples(dst []int16) int { return m.bus.APU().PullSamples(dst) }

// APUPullStereo drains up to len(dst)/2 mono samples, duplicated to stereo.
func (m *Machine) APUPullStereo(dst []int16) int {
	mono := make([]int16, len(dst)/2)
	n := m.bus.APU().PullSamples(mono)
	for i := 0; i < len(mono); i++ {
		dst[i*2] = mono[i]
		dst[i*2+1] = mono[i]
	}
	return n
}

func (m *Machine) APUBufferedStereo() int { return m.bus.APU().Buffered() * 2 }

const (
	stateMagic   = "GBSTATE"
	stateVersion = byte(1)
)

type machineState struct {
	Bus []byte
	CPU []byte
}

// SaveState serializes the CPU and bus (which in turn serializes every
// subsystem) into the GBSTATE-enveloped save-state format.
func (m *Machine) SaveState() []byte {
	var payload bytes.Buffer
	s := machineState{Bus: m.bus.SaveState(), CPU: m.cpu.SaveState()}
	_ = gob.NewEncoder(&payload).Encode(s)

	var out bytes.Buffer
	out.WriteString(stateMagic)
	out.WriteByte(stateVersion)
	out.Write(payload.Bytes())
	return out.Bytes()
}

// LoadState restores a save state previously produced by SaveState.
func (m *Machine) LoadState(data []byte) error {
	if len(data) < len(stateMagic)+1 {
		return fmt.Errorf("save state too short")
	}
	if string(data[:len(stateMagic)]) != stateMagic {
		return fmt.Errorf("bad save state magic")
	}
	version := data[len(stateMagic)]
	if version != stateVersion {
		return fmt.Errorf("unsupported save state version %d", version)
	}
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data[len(stateMagic)+1:])).Decode(&s); err != nil {
		return fmt.Errorf("decode save state: %w", err)
	}
	m.bus.LoadState(s.Bus)
	m.cpu.LoadState(s.CPU)
	return nil
}

func (m *Machine) SaveStateToFile(path string) error {
	return os.WriteFile(path, m.SaveState(), 0o644)
}

func (m *Machine) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.LoadState(data)
}
