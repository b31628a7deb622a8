// Package bus implements the 64 KiB memory-mapped I/O bus that ties the
// CPU to the cartridge, PPU, APU, timer, and joypad. It owns WRAM, HRAM,
// and the IE register directly, and routes VRAM/OAM accesses and register
// reads through the PPU/APU/Timer/Joypad so each subsystem's internal
// layout stays private to its own package.
package bus

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/oakmoss/dmgcore/internal/apu"
	"github.com/oakmoss/dmgcore/internal/cart"
	"github.com/oakmoss/dmgcore/internal/joypad"
	"github.com/oakmoss/dmgcore/internal/ppu"
	"github.com/oakmoss/dmgcore/internal/timer"
)

const (
	JoyRight  = joypad.Right
	JoyLeft   = joypad.Left
	JoyUp     = joypad.Up
	JoyDown   = joypad.Down
	JoyA      = joypad.A
	JoyB      = joypad.B
	JoySelect = joypad.Select
	JoyStart  = joypad.Start
)

// Bus is the 64 KiB address space and the subsystems reachable through it.
type Bus struct {
	cart cart.Cartridge

	wram [0x2000]byte
	hram [0x7F]byte
	ie   byte
	ifr  byte

	ppu    *ppu.PPU
	apu    *apu.APU
	timer  *timer.Timer
	joypad *joypad.Joypad

	bootROM   []byte
	bootDone  bool
	serialOut io.Writer
}

// New builds a bus around the given cartridge ROM image.
func New(rom []byte) *Bus {
	c, _ := cart.New(rom)
	b := &Bus{
		cart:   c,
		ppu:    ppu.New(),
		apu:    apu.New(44100),
		timer:  timer.New(),
		joypad: joypad.New(),
		ifr:    0xE1,
	}
	b.timer.RequestInterrupt = b.requestInterrupt
	b.ppu.RequestInterrupt = b.requestInterrupt
	return b
}

func (b *Bus) Cart() cart.Cartridge  { return b.cart }
func (b *Bus) PPU() *ppu.PPU         { return b.ppu }
func (b *Bus) APU() *apu.APU         { return b.apu }
func (b *Bus) Timer() *timer.Timer   { return b.timer }
func (b *Bus) Joypad() *joypad.Joypad { return b.joypad }

func (b *Bus) requestInterrupt(bit byte) { b.ifr |= 1 << bit }

// SetBootROM installs a 256-byte DMG boot ROM image, mapped at 0x0000-0x00FF
// until the boot ROM writes a nonzero value to 0xFF50.
func (b *Bus) SetBootROM(rom []byte) { b.bootROM = rom; b.bootDone = false }

func (b *Bus) SetSerialWriter(w io.Writer) { b.serialOut = w }

func (b *Bus) SetJoypadState(mask byte) { b.joypad.SetButtons(mask) }

// Read returns the byte visible at addr to the CPU (or PPU DMA source).
func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x100 && len(b.bootROM) > 0 && !b.bootDone:
		return b.bootROM[addr]
	case addr < 0x8000:
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return b.wram[addr-0xC000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		return b.wram[addr-0xE000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		return b.ppu.CPURead(addr)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		return 0xFF
	case addr >= 0xFF00 && addr <= 0xFF7F:
		return b.readIO(addr)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFFFF:
		return b.ie
	}
	return 0xFF
}

// Write stores a byte at addr, applying the bespoke I/O-register semantics.
func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
	case addr >= 0xC000 && addr <= 0xDFFF:
		b.wram[addr-0xC000] = value
	case addr >= 0xE000 && addr <= 0xFDFF:
		b.wram[addr-0xE000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		// unusable: writes ignored
	case addr >= 0xFF00 && addr <= 0xFF7F:
		b.writeIO(addr, value)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	case addr == 0xFFFF:
		b.ie = value
	}
}

func (b *Bus) readIO(addr uint16) byte {
	switch {
	case addr == 0xFF00:
		return b.joypad.Read()
	case addr == 0xFF01 || addr == 0xFF02:
		return 0xFF // serial: not wired to any link partner
	case addr >= 0xFF04 && addr <= 0xFF07:
		return b.timer.Read(addr)
	case addr == 0xFF0F:
		return b.ifr | 0xE0
	case addr >= 0xFF10 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	case addr >= 0xFF40 && addr <= 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF50:
		if b.bootDone {
			return 0x01
		}
		return 0x00
	}
	return 0xFF
}

func (b *Bus) writeIO(addr uint16, value byte) {
	switch {
	case addr == 0xFF00:
		b.joypad.Write(value)
	case addr == 0xFF01:
		if b.serialOut != nil {
			_, _ = b.serialOut.Write([]byte{value})
		}
	case addr == 0xFF02:
		if value&0x80 != 0 {
			b.requestInterrupt(3) // serial transfer complete
		}
	case addr >= 0xFF04 && addr <= 0xFF07:
		b.timer.Write(addr, value)
	case addr == 0xFF0F:
		b.ifr = value & 0x1F
	case addr == 0xFF46:
		b.startDMA(value)
	case addr >= 0xFF10 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
	case addr >= 0xFF40 && addr <= 0xFF4B:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF50:
		if value != 0 {
			b.bootDone = true
		}
	}
}

func (b *Bus) startDMA(v byte) {
	src := uint16(v) * 0x100
	for i := 0; i < 160; i++ {
		b.ppu.WriteOAMByte(i, b.Read(src+uint16(i)))
	}
}

// IF/IE accessors used by the CPU's interrupt dispatch.
func (b *Bus) IF() byte      { return b.ifr }
func (b *Bus) SetIF(v byte)  { b.ifr = v & 0x1F }
func (b *Bus) IE() byte      { return b.ie }

// Tick advances every subsystem clocked off the CPU's T-cycle counter.
func (b *Bus) Tick(cycles int) {
	b.ppu.Tick(cycles)
	b.timer.Tick(cycles)
	b.apu.Tick(cycles)
	if b.ppu.FrameReady {
		b.apu.EndFrame()
	}
}

// ConsumeFrameReady reports and clears the PPU's frame-ready latch.
func (b *Bus) ConsumeFrameReady() bool {
	r := b.ppu.FrameReady
	b.ppu.FrameReady = false
	return r
}

// ResetPostBoot applies the post-boot-ROM IO register snapshot, matching
// what a real DMG boot ROM leaves behind in hardware registers.
func (b *Bus) ResetPostBoot() {
	b.writeIO(0xFF00, 0xCF)
	b.timer.Write(0xFF05, 0x00)
	b.timer.Write(0xFF06, 0x00)
	b.timer.Write(0xFF07, 0x00)
	b.ifr = 0xE1
	b.writeIO(0xFF40, 0x91)
	b.writeIO(0xFF42, 0x00)
	b.writeIO(0xFF43, 0x00)
	b.writeIO(0xFF45, 0x00)
	b.writeIO(0xFF47, 0xFC)
	b.writeIO(0xFF48, 0xFF)
	b.writeIO(0xFF49, 0xFF)
	b.writeIO(0xFF4A, 0x00)
	b.writeIO(0xFF4B, 0x00)
	b.ie = 0x00
	b.apu.CPUWrite(0xFF26, 0xF1)
	b.apu.CPUWrite(0xFF24, 0x77)
	b.apu.CPUWrite(0xFF25, 0xF3)
	b.bootDone = true
}

type busState struct {
	WRAM, HRAM   []byte
	IE, IF       byte
	BootDone     bool
	CartState    []byte
	PPUState     []byte
	APUState     []byte
	TimerState   timer.State
	JoypadState  []byte
}

// SaveState gob-encodes every bus-owned array plus each subsystem's own
// serialized state. The caller (internal/emu) wraps this in the GBSTATE
// envelope together with the CPU's state.
func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	s := busState{
		WRAM: append([]byte(nil), b.wram[:]...),
		HRAM: append([]byte(nil), b.hram[:]...),
		IE:   b.ie, IF: b.ifr, BootDone: b.bootDone,
		PPUState: b.ppu.SaveState(), APUState: b.apu.SaveState(),
		TimerState: b.timer.SaveState(), JoypadState: b.joypad.SaveState(),
	}
	s.CartState = b.cart.SaveState()
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	var s busState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	copy(b.wram[:], s.WRAM)
	copy(b.hram[:], s.HRAM)
	b.ie, b.ifr, b.bootDone = s.IE, s.IF, s.BootDone
	b.ppu.LoadState(s.PPUState)
	b.apu.LoadState(s.APUState)
	b.timer.LoadState(s.TimerState)
	b.joypad.LoadState(s.JoypadState)
	b.cart.LoadState(s.CartState)
}
