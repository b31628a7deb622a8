package ui

import (
	"encoding/binary"
	"time"

	"github.com/oakmoss/dmgcore/internal/emu"
)

// apuStream implements io.Reader by pulling stereo PCM samples from the
// emulator's APU and encoding them as 16-bit little-endian frames, the
// format ebiten's audio.Player expects.
type apuStream struct {
	m *emu.Machine
}

func (s *apuStream) Read(p []byte) (int, error) {
	if len(p) < 4 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	frames := len(p) / 4
	samples := make([]int16, frames*2)

	// Give the APU a brief moment to catch up on the first read of a burst
	// rather than immediately padding with silence.
	if s.m.APUBufferedStereo() == 0 {
		deadline := time.Now().Add(8 * time.Millisecond)
		for s.m.APUBufferedStereo() == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	n := s.m.APUPullStereo(samples)
	i := 0
	for j := 0; j < n*2; j++ {
		binary.LittleEndian.PutUint16(p[i:], uint16(samples[j]))
		i += 2
	}
	for ; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}
