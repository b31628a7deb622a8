// Package apu implements the two square-wave sound channels (pulse 1 with
// sweep, pulse 2 without). Wave (channel 3) and noise (channel 4) are out of
// scope. Mixing uses github.com/arl/blip band-limited synthesis instead of a
// naive per-sample accumulator, so the output buffer does not carry aliasing
// artifacts from the square edges.
package apu

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/arl/blip"
)

var dutyTable = [4][8]byte{
	{0, 0, 0, 0, 0, 0, 0, 1}, // 12.5%
	{1, 0, 0, 0, 0, 0, 0, 1}, // 25%
	{1, 0, 0, 0, 0, 1, 1, 1}, // 50%
	{0, 1, 1, 1, 1, 1, 1, 0}, // 75%
}

const clockRate = 4194304

type square struct {
	hasSweep bool

	enabled, dacEnabled bool
	duty, dutyPos       byte
	length              byte
	lengthEnabled       bool

	volume, initialVolume byte
	envelopeDir           byte // 0 = decrease, 1 = increase
	envelopePeriod        byte
	envelopeTimer         byte

	freq      uint16
	freqTimer int

	sweepPeriod, sweepShift byte
	sweepDir                byte
	sweepTimer              byte
	sweepEnabled            bool
	sweepShadow             uint16

	lastOut int32
}

func (s *square) dacOn() bool { return s.dacEnabled }

func (s *square) output() int32 {
	if !s.enabled || !s.dacOn() {
		return 0
	}
	if dutyTable[s.duty][s.dutyPos] == 0 {
		return 0
	}
	return int32(s.volume)
}

func (s *square) trigger() {
	s.enabled = s.dacOn()
	if s.length == 0 {
		s.length = 64
	}
	s.reloadFreqTimer()
	s.volume = s.initialVolume
	s.envelopeTimer = s.envelopePeriod
	if s.hasSweep {
		s.sweepShadow = s.freq
		s.sweepTimer = s.sweepPeriod
		if s.sweepTimer == 0 {
			s.sweepTimer = 8
		}
		s.sweepEnabled = s.sweepPeriod != 0 || s.sweepShift != 0
		if s.sweepShift != 0 {
			s.calcSweepFreq()
		}
	}
}

func (s *square) reloadFreqTimer() {
	s.freqTimer = int(2048-s.freq) * 4
}

func (s *square) calcSweepFreq() uint16 {
	delta := s.sweepShadow >> s.sweepShift
	var newFreq uint16
	if s.sweepDir == 1 {
		newFreq = s.sweepShadow - delta
	} else {
		newFreq = s.sweepShadow + delta
	}
	if newFreq > 2047 {
		s.enabled = false
	}
	return newFreq
}

func (s *square) clockSweep() {
	if s.sweepTimer > 0 {
		s.sweepTimer--
	}
	if s.sweepTimer != 0 {
		return
	}
	s.sweepTimer = s.sweepPeriod
	if s.sweepTimer == 0 {
		s.sweepTimer = 8
	}
	if !s.sweepEnabled || s.sweepPeriod == 0 {
		return
	}
	newFreq := s.calcSweepFreq()
	if newFreq <= 2047 && s.sweepShift != 0 {
		s.sweepShadow = newFreq
		s.freq = newFreq
		s.calcSweepFreq()
	}
}

func (s *square) clockLength() {
	if s.lengthEnabled && s.length > 0 {
		s.length--
		if s.length == 0 {
			s.enabled = false
		}
	}
}

func (s *square) clockEnvelope() {
	if s.envelopePeriod == 0 {
		return
	}
	if s.envelopeTimer > 0 {
		s.envelopeTimer--
	}
	if s.envelopeTimer != 0 {
		return
	}
	s.envelopeTimer = s.envelopePeriod
	if s.envelopeDir == 1 && s.volume < 15 {
		s.volume++
	} else if s.envelopeDir == 0 && s.volume > 0 {
		s.volume--
	}
}

// tick advances the channel's frequency timer by cycles and reports the
// absolute T-cycle offsets (relative to frameStart) at which its output
// changed, for delta-based mixing.
func (s *square) tick(cycles int, frameStart int, emit func(t uint64, delta int32)) {
	remaining := cycles
	for remaining > 0 {
		step := remaining
		if s.freqTimer < step {
			step = s.freqTimer
		}
		if step <= 0 {
			step = 1
		}
		s.freqTimer -= step
		remaining -= step
		if s.freqTimer <= 0 {
			s.dutyPos = (s.dutyPos + 1) % 8
			s.reloadFreqTimer()
			out := s.output()
			if out != s.lastOut {
				emit(uint64(frameStart+(cycles-remaining)), out-s.lastOut)
				s.lastOut = out
			}
		}
	}
}

// APU owns both square channels, the frame sequencer, and the blip mixing
// buffer. Samples are pulled by the host through PullSamples, which drains a
// mutex-protected ring buffer fed by EndFrame.
type APU struct {
	ch1, ch2 square

	nr50, nr51 byte
	enabled    bool

	seqAcc  int
	seqStep byte

	frameClock int
	buf        *blip.Buffer
	sampleRate int

	mu      sync.Mutex
	ring    []int16
	ringLen int
	ringPos int
}

func New(sampleRate int) *APU {
	a := &APU{
		nr50: 0x77, nr51: 0xF3, enabled: true,
		sampleRate: sampleRate,
		buf:        blip.NewBuffer(sampleRate / 8),
		ring:       make([]int16, sampleRate*2),
	}
	a.ch1.hasSweep = true
	a.buf.SetRates(clockRate, float64(sampleRate))
	return a
}

func (a *APU) CPURead(addr uint16) byte {
	switch addr {
	case 0xFF10:
		return 0x80 | a.ch1.sweepPeriod<<4 | a.ch1.sweepDir<<3 | a.ch1.sweepShift
	case 0xFF11:
		return a.ch1.duty << 6
	case 0xFF12:
		return a.ch1.initialVolume<<4 | a.ch1.envelopeDir<<3 | a.ch1.envelopePeriod
	case 0xFF14:
		b := byte(0xBF)
		if a.ch1.lengthEnabled {
			b |= 0x40
		}
		return b
	case 0xFF16:
		return a.ch2.duty << 6
	case 0xFF17:
		return a.ch2.initialVolume<<4 | a.ch2.envelopeDir<<3 | a.ch2.envelopePeriod
	case 0xFF19:
		b := byte(0xBF)
		if a.ch2.lengthEnabled {
			b |= 0x40
		}
		return b
	case 0xFF24:
		return a.nr50
	case 0xFF25:
		return a.nr51
	case 0xFF26:
		b := byte(0x70)
		if a.enabled {
			b |= 0x80
		}
		if a.ch1.enabled {
			b |= 0x01
		}
		if a.ch2.enabled {
			b |= 0x02
		}
		return b
	}
	return 0xFF
}

func (a *APU) CPUWrite(addr uint16, value byte) {
	if addr == 0xFF26 {
		a.enabled = value&0x80 != 0
		if !a.enabled {
			a.ch1 = square{hasSweep: true}
			a.ch2 = square{}
		}
		return
	}
	if !a.enabled {
		return
	}
	switch addr {
	case 0xFF10:
		a.ch1.sweepPeriod = (value >> 4) & 0x07
		a.ch1.sweepDir = (value >> 3) & 0x01
		a.ch1.sweepShift = value & 0x07
	case 0xFF11:
		a.ch1.duty = value >> 6
		a.ch1.length = 64 - (value & 0x3F)
	case 0xFF12:
		a.ch1.initialVolume = value >> 4
		a.ch1.envelopeDir = (value >> 3) & 0x01
		a.ch1.envelopePeriod = value & 0x07
		a.ch1.dacEnabled = value&0xF8 != 0
		if !a.ch1.dacEnabled {
			a.ch1.enabled = false
		}
	case 0xFF13:
		a.ch1.freq = (a.ch1.freq & 0x700) | uint16(value)
	case 0xFF14:
		a.ch1.freq = (a.ch1.freq & 0xFF) | (uint16(value&0x07) << 8)
		a.ch1.lengthEnabled = value&0x40 != 0
		if value&0x80 != 0 {
			a.ch1.trigger()
		}
	case 0xFF16:
		a.ch2.duty = value >> 6
		a.ch2.length = 64 - (value & 0x3F)
	case 0xFF17:
		a.ch2.initialVolume = value >> 4
		a.ch2.envelopeDir = (value >> 3) & 0x01
		a.ch2.envelopePeriod = value & 0x07
		a.ch2.dacEnabled = value&0xF8 != 0
		if !a.ch2.dacEnabled {
			a.ch2.enabled = false
		}
	case 0xFF18:
		a.ch2.freq = (a.ch2.freq & 0x700) | uint16(value)
	case 0xFF19:
		a.ch2.freq = (a.ch2.freq & 0xFF) | (uint16(value&0x07) << 8)
		a.ch2.lengthEnabled = value&0x40 != 0
		if value&0x80 != 0 {
			a.ch2.trigger()
		}
	case 0xFF24:
		a.nr50 = value
	case 0xFF25:
		a.nr51 = value
	}
}

// Tick advances both channels and the frame sequencer by cycles T-cycles,
// emitting deltas into the blip buffer as channel outputs change.
func (a *APU) Tick(cycles int) {
	if !a.enabled {
		a.frameClock += cycles
		return
	}
	start := a.frameClock
	a.ch1.tick(cycles, start, a.emit)
	a.ch2.tick(cycles, start, a.emit)

	a.seqAcc += cycles
	for a.seqAcc >= 8192 {
		a.seqAcc -= 8192
		switch a.seqStep {
		case 0, 4:
			a.ch1.clockLength()
			a.ch2.clockLength()
		case 2, 6:
			a.ch1.clockLength()
			a.ch2.clockLength()
			a.ch1.clockSweep()
		case 7:
			a.ch1.clockEnvelope()
			a.ch2.clockEnvelope()
		}
		a.seqStep = (a.seqStep + 1) % 8
	}
	a.frameClock += cycles
}

func (a *APU) emit(t uint64, delta int32) {
	a.buf.AddDelta(t, delta*768)
}

// EndFrame flushes the current batch of deltas into resampled output and
// appends the resulting samples to the pull ring buffer. internal/bus calls
// this from Tick whenever the PPU's FrameReady latch is set; the latch stays
// set until Bus.ConsumeFrameReady clears it, so until then every Tick ends a
// blip frame.
func (a *APU) EndFrame() {
	a.buf.EndFrame(a.frameClock)
	a.frameClock = 0

	n := a.buf.SamplesAvailable()
	if n <= 0 {
		return
	}
	out := make([]int16, n)
	a.buf.ReadSamples(out, n, blip.Mono)

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range out {
		a.ring[a.ringPos] = s
		a.ringPos = (a.ringPos + 1) % len(a.ring)
		if a.ringLen < len(a.ring) {
			a.ringLen++
		}
	}
}

// PullSamples drains up to len(dst) samples into dst, zero-filling on
// underflow, and returns the number of real samples written.
func (a *APU) PullSamples(dst []int16) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(dst)
	if n > a.ringLen {
		n = a.ringLen
	}
	start := (a.ringPos - a.ringLen + len(a.ring)) % len(a.ring)
	for i := 0; i < n; i++ {
		dst[i] = a.ring[(start+i)%len(a.ring)]
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	a.ringLen -= n
	return n
}

// Buffered returns how many samples are currently queued.
func (a *APU) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ringLen
}

type squareState struct {
	Enabled, DacEnabled               bool
	Duty, DutyPos, Length             byte
	LengthEnabled                     bool
	Volume, InitialVolume             byte
	EnvelopeDir, EnvelopePeriod       byte
	EnvelopeTimer                     byte
	Freq                              uint16
	FreqTimer                         int
	SweepPeriod, SweepShift, SweepDir byte
	SweepTimer                        byte
	SweepEnabled                      bool
	SweepShadow                       uint16
	LastOut                           int32
}

func toState(s square) squareState {
	return squareState{
		s.enabled, s.dacEnabled, s.duty, s.dutyPos, s.length, s.lengthEnabled,
		s.volume, s.initialVolume, s.envelopeDir, s.envelopePeriod, s.envelopeTimer,
		s.freq, s.freqTimer, s.sweepPeriod, s.sweepShift, s.sweepDir, s.sweepTimer,
		s.sweepEnabled, s.sweepShadow, s.lastOut,
	}
}

func fromState(st squareState, hasSweep bool) square {
	return square{
		hasSweep: hasSweep, enabled: st.Enabled, dacEnabled: st.DacEnabled,
		duty: st.Duty, dutyPos: st.DutyPos, length: st.Length, lengthEnabled: st.LengthEnabled,
		volume: st.Volume, initialVolume: st.InitialVolume, envelopeDir: st.EnvelopeDir,
		envelopePeriod: st.EnvelopePeriod, envelopeTimer: st.EnvelopeTimer,
		freq: st.Freq, freqTimer: st.FreqTimer, sweepPeriod: st.SweepPeriod,
		sweepShift: st.SweepShift, sweepDir: st.SweepDir, sweepTimer: st.SweepTimer,
		sweepEnabled: st.SweepEnabled, sweepShadow: st.SweepShadow, lastOut: st.LastOut,
	}
}

type apuState struct {
	Ch1, Ch2           squareState
	Nr50, Nr51         byte
	Enabled            bool
	SeqAcc             int
	SeqStep            byte
}

func (a *APU) SaveState() []byte {
	var buf bytes.Buffer
	s := apuState{toState(a.ch1), toState(a.ch2), a.nr50, a.nr51, a.enabled, a.seqAcc, a.seqStep}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (a *APU) LoadState(data []byte) {
	var s apuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	a.ch1 = fromState(s.Ch1, true)
	a.ch2 = fromState(s.Ch2, false)
	a.nr50, a.nr51, a.enabled = s.Nr50, s.Nr51, s.Enabled
	a.seqAcc, a.seqStep = s.SeqAcc, s.SeqStep
}
