package cart

import "github.com/oakmoss/dmgcore/internal/emulog"

// Cartridge defines the minimal interface the Bus needs for ROM/RAM banking.
// Implementations can be ROM-only or MBC variants. Addresses are CPU addresses.
type Cartridge interface {
	// Read returns a byte for ROM (0x0000-0x7FFF) and external RAM (0xA000-0xBFFF).
	Read(addr uint16) byte
	// Write handles MBC control writes (0x0000-0x7FFF) and external RAM writes (0xA000-0xBFFF).
	Write(addr uint16, value byte)
	// SaveState/LoadState serialize internal banking registers and external RAM for save states.
	SaveState() []byte
	LoadState(data []byte)
}

// BatteryBacked is an optional interface for cartridges with external RAM to be persisted.
// Implementations should return a copy of RAM bytes (may be empty if no RAM), and accept data to load.
type BatteryBacked interface {
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// New picks an implementation based on the ROM header's cartridge-type byte.
func New(rom []byte) (Cartridge, *Header) {
	h, err := ParseHeader(rom)
	if err != nil {
		emulog.Cart.Warnf("header parse failed, falling back to ROM-only: %v", err)
		return NewROMOnly(rom), nil
	}
	if h.RAMSizeCode > 0x05 {
		emulog.Cart.Warnf("unsupported RAM size code 0x%02X, defaulting to 32 KiB", h.RAMSizeCode)
	}
	switch h.CartType {
	case 0x00:
		return NewROMOnly(rom), h
	case 0x01, 0x02, 0x03: // MBC1 variants (RAM, RAM+battery transparent here)
		return NewMBC1(rom, h.RAMSizeBytes), h
	case 0x05, 0x06: // MBC2 (battery variant transparent here)
		return NewMBC2(rom), h
	case 0x0F, 0x10, 0x11, 0x12, 0x13: // MBC3 variants, 0x0F/0x10 add the RTC
		return NewMBC3(rom, h.RAMSizeBytes, h.CartType == 0x0F || h.CartType == 0x10), h
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E: // MBC5 variants
		return NewMBC5(rom, h.RAMSizeBytes), h
	default:
		emulog.Cart.Warnf("unknown MBC code 0x%02X, falling back to ROM-only behavior", h.CartType)
		return NewROMOnly(rom), h
	}
}
