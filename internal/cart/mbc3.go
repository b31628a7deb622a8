package cart

import (
	"bytes"
	"encoding/gob"
	"time"
)

// MBC3 implements ROM/RAM banking plus, for cart types 0x0F/0x10, a
// real-time clock. Banking behavior:
//   - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
//   - 2000-3FFF: ROM bank low 7 bits (0 maps to 1)
//   - 4000-5FFF: RAM bank 0-3, or RTC register select 0x08-0x0C
//   - 6000-7FFF: latch clock (0x00 then 0x01 copies live RTC into latched regs)
//   - A000-BFFF: external RAM, or the latched RTC register currently selected
type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	ramBank    byte // 0..3, or 0x08..0x0C to select an RTC register

	hasRTC     bool
	rtc        rtcRegisters
	rtcLatched rtcRegisters
	latchStep  byte  // tracks the 0x00 half of the 0x00->0x01 latch sequence
	epoch      int64 // unix seconds at which the live RTC registers were last folded forward
}

// rtcRegisters mirrors the five MBC3 clock registers (seconds, minutes,
// hours, day-counter low byte, day-counter high bit + halt + carry flags).
type rtcRegisters struct {
	Seconds, Minutes, Hours byte
	DayLow                  byte
	DayHigh                 byte // bit0: day counter bit 8; bit6: halt; bit7: day carry
}

func NewMBC3(rom []byte, ramSize int, hasRTC bool) *MBC3 {
	m := &MBC3{rom: rom, romBank: 1, hasRTC: hasRTC}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	if hasRTC {
		m.epoch = time.Now().Unix()
	}
	return m
}

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.hasRTC && m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			return m.readRTC(m.ramBank)
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) readRTC(reg byte) byte {
	m.tickRTC()
	switch reg {
	case 0x08:
		return m.rtcLatched.Seconds
	case 0x09:
		return m.rtcLatched.Minutes
	case 0x0A:
		return m.rtcLatched.Hours
	case 0x0B:
		return m.rtcLatched.DayLow
	case 0x0C:
		return m.rtcLatched.DayHigh
	}
	return 0xFF
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		if value <= 0x03 || (m.hasRTC && value >= 0x08 && value <= 0x0C) {
			m.ramBank = value
		} else {
			m.ramBank = 0
		}
	case addr < 0x8000:
		if !m.hasRTC {
			return
		}
		// Two-step latch: a 0x00 write arms the latch, a following 0x01
		// write copies the live RTC counters into the latched snapshot.
		if value == 0x00 {
			m.latchStep = 1
		} else if value == 0x01 && m.latchStep == 1 {
			m.tickRTC()
			m.rtcLatched = m.rtc
			m.latchStep = 0
		} else {
			m.latchStep = 0
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.hasRTC && m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			m.writeRTC(m.ramBank, value)
			return
		}
		if len(m.ram) == 0 {
			return
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

func (m *MBC3) writeRTC(reg, value byte) {
	m.tickRTC()
	switch reg {
	case 0x08:
		m.rtc.Seconds = value % 60
	case 0x09:
		m.rtc.Minutes = value % 60
	case 0x0A:
		m.rtc.Hours = value % 24
	case 0x0B:
		m.rtc.DayLow = value
	case 0x0C:
		m.rtc.DayHigh = value & 0xC1
	}
	m.epoch = time.Now().Unix()
}

// tickRTC folds elapsed wall-clock seconds into the live RTC registers,
// unless the halt bit (DayHigh bit 6) is set.
func (m *MBC3) tickRTC() {
	if !m.hasRTC || (m.rtc.DayHigh&0x40) != 0 {
		return
	}
	now := time.Now().Unix()
	elapsed := now - m.epoch
	if elapsed <= 0 {
		return
	}
	m.epoch = now

	total := int64(m.rtc.Seconds) + int64(m.rtc.Minutes)*60 + int64(m.rtc.Hours)*3600 +
		(int64(m.rtc.DayLow)+int64(m.rtc.DayHigh&0x01)<<8)*86400 + elapsed

	days := total / 86400
	rem := total % 86400
	m.rtc.Seconds = byte(rem % 60)
	m.rtc.Minutes = byte((rem / 60) % 60)
	m.rtc.Hours = byte((rem / 3600) % 24)
	if days > 0x1FF {
		m.rtc.DayHigh |= 0x80 // day counter overflow: carry flag
		days &= 0x1FF
	}
	m.rtc.DayLow = byte(days & 0xFF)
	m.rtc.DayHigh = (m.rtc.DayHigh &^ 0x01) | byte((days>>8)&0x01)
}

func (m *MBC3) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC3) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}

type mbc3State struct {
	RAM              []byte
	RomBank, RamBank byte
	RamEnabled       bool
	RTC, RTCLatched  rtcRegisters
	LatchStep        byte
	Epoch            int64
}

func (m *MBC3) SaveState() []byte {
	m.tickRTC()
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := mbc3State{
		RAM: append([]byte(nil), m.ram...), RomBank: m.romBank, RamBank: m.ramBank,
		RamEnabled: m.ramEnabled, RTC: m.rtc, RTCLatched: m.rtcLatched,
		LatchStep: m.latchStep, Epoch: m.epoch,
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	if len(m.ram) > 0 && len(s.RAM) > 0 {
		copy(m.ram, s.RAM)
	}
	m.romBank, m.ramBank, m.ramEnabled = s.RomBank, s.RamBank, s.RamEnabled
	m.rtc, m.rtcLatched, m.latchStep, m.epoch = s.RTC, s.RTCLatched, s.LatchStep, s.Epoch
}
