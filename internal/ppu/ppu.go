// Package ppu implements the DMG pixel processing unit as a scanline-granularity
// renderer: tiles and sprites are composited once per line, at the
// pixel-transfer to H-blank transition, rather than pixel by pixel. This
// matches real hardware timing and interrupt behavior but not true
// pixel-FIFO / sub-scanline raster tricks.
package ppu

import (
	"bytes"
	"encoding/gob"
)

const (
	ModeHBlank = 0
	ModeVBlank = 1
	ModeOAM    = 2
	ModeTransfer = 3

	oamScanDots   = 80
	transferDots  = 172
	hblankDots    = 204
	dotsPerLine   = oamScanDots + transferDots + hblankDots // 456
	linesPerFrame = 154
	visibleLines  = 144

	ScreenW = 160
	ScreenH = 144
)

// lineRegs snapshots the registers that affect rendering, captured when a
// line enters pixel-transfer so that writes made during H-blank/OAM-scan of
// the *next* line never retroactively disturb a line already drawn.
type lineRegs struct {
	lcdc, scy, scx, bgp, obp0, obp1, wy, wx byte
	winLine                                 byte // window's internal line counter value to use, if window drawn this line
}

// PPU owns VRAM, OAM, the LCD registers, and the 160x144 shade-index
// framebuffer.
type PPU struct {
	vram [0x2000]byte
	oam  [0xA0]byte

	lcdc, stat, scy, scx, lyc, bgp, obp0, obp1, wy, wx byte
	ly                                                 byte
	mode                                               byte
	dot                                                int

	winLineCounter byte
	lineSnap       [linesPerFrame]lineRegs

	fb         [ScreenH][ScreenW]byte
	FrameReady bool

	RequestInterrupt func(bit byte)
}

func New() *PPU {
	return &PPU{lcdc: 0x91, bgp: 0xFC, stat: 0x85}
}

func (p *PPU) lcdEnabled() bool { return p.lcdc&0x80 != 0 }

// Tick advances the PPU by the given number of T-cycles.
func (p *PPU) Tick(cycles int) {
	if !p.lcdEnabled() {
		p.ly = 0
		p.dot = 0
		p.setMode(ModeOAM)
		return
	}
	for cycles > 0 {
		step := cycles
		cycles = 0
		p.dot += step

		for p.dot >= dotsPerLine {
			p.dot -= dotsPerLine
			p.advanceLine()
		}
		p.updateModeWithinLine()
	}
}

func (p *PPU) updateModeWithinLine() {
	if p.ly >= visibleLines {
		p.setMode(ModeVBlank)
		return
	}
	switch {
	case p.dot < oamScanDots:
		if p.mode != ModeOAM {
			p.setMode(ModeOAM)
		}
	case p.dot < oamScanDots+transferDots:
		if p.mode != ModeTransfer {
			p.setMode(ModeTransfer)
			p.captureLineRegs()
		}
	default:
		if p.mode != ModeHBlank {
			p.renderScanline()
			p.setMode(ModeHBlank)
		}
	}
}

func (p *PPU) advanceLine() {
	p.ly++
	if p.ly == visibleLines {
		p.FrameReady = true
		if p.RequestInterrupt != nil {
			p.RequestInterrupt(0) // VBlank
		}
	}
	if p.ly >= linesPerFrame {
		p.ly = 0
		p.winLineCounter = 0
	}
	p.updateLYC()
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 0x04
		if p.stat&0x40 != 0 && p.RequestInterrupt != nil {
			p.RequestInterrupt(1) // STAT
		}
	} else {
		p.stat &^= 0x04
	}
}

func (p *PPU) setMode(m byte) {
	p.mode = m
	p.stat = (p.stat &^ 0x03) | m
	if p.RequestInterrupt == nil {
		return
	}
	switch m {
	case ModeHBlank:
		if p.stat&0x08 != 0 {
			p.RequestInterrupt(1)
		}
	case ModeOAM:
		if p.stat&0x20 != 0 {
			p.RequestInterrupt(1)
		}
	case ModeVBlank:
		if p.stat&0x10 != 0 {
			p.RequestInterrupt(1)
		}
	}
}

func (p *PPU) captureLineRegs() {
	lr := lineRegs{lcdc: p.lcdc, scy: p.scy, scx: p.scx, bgp: p.bgp, obp0: p.obp0, obp1: p.obp1, wy: p.wy, wx: p.wx}
	if p.lcdc&0x20 != 0 && p.wy <= p.ly {
		lr.winLine = p.winLineCounter
		p.winLineCounter++
	}
	p.lineSnap[p.ly] = lr
}

func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.mode == ModeTransfer {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if p.mode == ModeOAM || p.mode == ModeTransfer {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	}
	return p.readRegister(addr)
}

func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.mode != ModeTransfer {
			p.vram[addr-0x8000] = value
		}
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if p.mode != ModeOAM && p.mode != ModeTransfer {
			p.oam[addr-0xFE00] = value
		}
	default:
		p.writeRegister(addr, value)
	}
}

// RawVRAM/RawOAM give the renderer unrestricted access regardless of mode,
// mirroring how a real raster already has the pixel data latched.
func (p *PPU) RawVRAM(off int) byte { return p.vram[off] }
func (p *PPU) RawOAM(off int) byte  { return p.oam[off] }

// WriteOAMByte is used by the bus's OAM DMA, which bypasses mode blocking.
func (p *PPU) WriteOAMByte(off int, value byte) { p.oam[off] = value }

func (p *PPU) readRegister(addr uint16) byte {
	switch addr {
	case 0xFF40:
		return p.lcdc
	case 0xFF41:
		return p.stat | 0x80
	case 0xFF42:
		return p.scy
	case 0xFF43:
		return p.scx
	case 0xFF44:
		return p.ly
	case 0xFF45:
		return p.lyc
	case 0xFF47:
		return p.bgp
	case 0xFF48:
		return p.obp0
	case 0xFF49:
		return p.obp1
	case 0xFF4A:
		return p.wy
	case 0xFF4B:
		return p.wx
	}
	return 0xFF
}

func (p *PPU) writeRegister(addr uint16, value byte) {
	switch addr {
	case 0xFF40:
		p.lcdc = value
	case 0xFF41:
		p.stat = (p.stat & 0x07) | (value &^ 0x07)
	case 0xFF42:
		p.scy = value
	case 0xFF43:
		p.scx = value
	case 0xFF44:
		// LY is read-only; writes reset it.
		p.ly = 0
	case 0xFF45:
		p.lyc = value
		p.updateLYC()
	case 0xFF47:
		p.bgp = value
	case 0xFF48:
		p.obp0 = value
	case 0xFF49:
		p.obp1 = value
	case 0xFF4A:
		p.wy = value
	case 0xFF4B:
		p.wx = value
	}
}

// Framebuffer returns the 160x144 shade-index grid, row-major, values 0-3.
func (p *PPU) Framebuffer() *[ScreenH][ScreenW]byte { return &p.fb }

func shade(palette byte, index byte) byte {
	return (palette >> (index * 2)) & 0x03
}

func (p *PPU) renderScanline() {
	y := int(p.ly)
	if y >= visibleLines {
		return
	}
	lr := p.lineSnap[y]
	bgIndex := [ScreenW]byte{}

	if lr.lcdc&0x01 != 0 {
		p.renderBackground(y, lr, &bgIndex)
	} else {
		for x := range p.fb[y] {
			p.fb[y][x] = 0
		}
	}
	if lr.lcdc&0x20 != 0 && lr.wy <= byte(y) {
		p.renderWindow(y, lr, &bgIndex)
	}
	if lr.lcdc&0x02 != 0 {
		p.renderSprites(y, lr, &bgIndex)
	}
}

func (p *PPU) bgTilePixel(tileDataBase int, signedAddressing bool, tileIndex byte, row, col int) byte {
	var addr int
	if signedAddressing {
		addr = tileDataBase + int(int8(tileIndex))*16
	} else {
		addr = tileDataBase + int(tileIndex)*16
	}
	lo := p.vram[addr+row*2]
	hi := p.vram[addr+row*2+1]
	bit := 7 - col
	b := (lo >> bit) & 1
	h := (hi >> bit) & 1
	return b | (h << 1)
}

func (p *PPU) renderBackground(y int, lr lineRegs, bgIndex *[ScreenW]byte) {
	mapBase := 0x9800
	if lr.lcdc&0x08 != 0 {
		mapBase = 0x9C00
	}
	signed := lr.lcdc&0x10 == 0
	tileDataBase := 0x8000
	if signed {
		tileDataBase = 0x9000
	}
	srcY := (y + int(lr.scy)) & 0xFF
	tileRow := srcY / 8
	rowInTile := srcY % 8
	for x := 0; x < ScreenW; x++ {
		srcX := (x + int(lr.scx)) & 0xFF
		tileCol := srcX / 8
		colInTile := srcX % 8
		mapAddr := mapBase + tileRow*32 + tileCol
		tileIndex := p.vram[mapAddr-0x8000]
		idx := p.bgTilePixel(tileDataBase-0x8000, signed, tileIndex, rowInTile, colInTile)
		bgIndex[x] = idx
		p.fb[y][x] = shade(lr.bgp, idx)
	}
}

func (p *PPU) renderWindow(y int, lr lineRegs, bgIndex *[ScreenW]byte) {
	mapBase := 0x9800
	if lr.lcdc&0x40 != 0 {
		mapBase = 0x9C00
	}
	signed := lr.lcdc&0x10 == 0
	tileDataBase := 0x8000
	if signed {
		tileDataBase = 0x9000
	}
	winX := int(lr.wx) - 7
	tileRow := int(lr.winLine) / 8
	rowInTile := int(lr.winLine) % 8
	for x := 0; x < ScreenW; x++ {
		col := x - winX
		if col < 0 {
			continue
		}
		tileCol := col / 8
		colInTile := col % 8
		mapAddr := mapBase + tileRow*32 + tileCol
		tileIndex := p.vram[mapAddr-0x8000]
		idx := p.bgTilePixel(tileDataBase-0x8000, signed, tileIndex, rowInTile, colInTile)
		bgIndex[x] = idx
		p.fb[y][x] = shade(lr.bgp, idx)
	}
}

type spriteAttr struct {
	y, x, tile, flags byte
}

func (p *PPU) renderSprites(y int, lr lineRegs, bgIndex *[ScreenW]byte) {
	height := 8
	if lr.lcdc&0x04 != 0 {
		height = 16
	}
	for i := 0; i < 40; i++ {
		base := i * 4
		s := spriteAttr{y: p.oam[base], x: p.oam[base+1], tile: p.oam[base+2], flags: p.oam[base+3]}
		top := int(s.y) - 16
		if y < top || y >= top+height {
			continue
		}
		row := y - top
		if s.flags&0x40 != 0 { // Y flip
			row = height - 1 - row
		}
		tile := s.tile
		if height == 16 {
			tile &^= 0x01
			if row >= 8 {
				tile |= 0x01
				row -= 8
			}
		}
		addr := int(tile)*16 + row*2
		lo := p.vram[addr]
		hi := p.vram[addr+1]
		palette := lr.obp0
		if s.flags&0x10 != 0 {
			palette = lr.obp1
		}
		for col := 0; col < 8; col++ {
			screenX := int(s.x) - 8 + col
			if screenX < 0 || screenX >= ScreenW {
				continue
			}
			bit := 7 - col
			if s.flags&0x20 != 0 { // X flip
				bit = col
			}
			b := (lo >> bit) & 1
			h := (hi >> bit) & 1
			idx := b | (h << 1)
			if idx == 0 {
				continue
			}
			if s.flags&0x80 != 0 && bgIndex[screenX] != 0 {
				continue // BG-over-OBJ priority
			}
			p.fb[y][screenX] = shade(palette, idx)
		}
	}
}

type ppuState struct {
	VRAM                                          [0x2000]byte
	OAM                                            [0xA0]byte
	Lcdc, Stat, Scy, Scx, Lyc, Bgp, Obp0, Obp1, Wy, Wx byte
	Ly, Mode                                       byte
	Dot                                            int
	WinLineCounter                                 byte
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	s := ppuState{
		VRAM: p.vram, OAM: p.oam,
		Lcdc: p.lcdc, Stat: p.stat, Scy: p.scy, Scx: p.scx, Lyc: p.lyc,
		Bgp: p.bgp, Obp0: p.obp0, Obp1: p.obp1, Wy: p.wy, Wx: p.wx,
		Ly: p.ly, Mode: p.mode, Dot: p.dot, WinLineCounter: p.winLineCounter,
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat, p.scy, p.scx, p.lyc = s.Lcdc, s.Stat, s.Scy, s.Scx, s.Lyc
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.Bgp, s.Obp0, s.Obp1, s.Wy, s.Wx
	p.ly, p.mode, p.dot, p.winLineCounter = s.Ly, s.Mode, s.Dot, s.WinLineCounter
}
