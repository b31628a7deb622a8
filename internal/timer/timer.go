// Package timer implements the DIV/TIMA/TMA/TAC timer unit at 0xFF04-0xFF07.
//
// This is the accumulator model: DIV and TIMA each carry a running T-cycle
// counter that is compared against a fixed period every Tick. The real
// hardware instead free-runs a 16-bit system counter and derives both DIV
// and the TIMA clock from edge transitions of individual counter bits, which
// gives TIMA-overflow a reload a few T-cycles later than the increment that
// caused it and lets well-timed writes cancel a pending reload. That edge
// model is not implemented here. The periods, the overflow, the TMA reload
// and the interrupt request match it; the reload and interrupt happen in the
// same Tick as the overflowing increment, so the delayed reload and the
// write-cancellation window are not modelled.
package timer

// M-cycle periods from TAC bits 1-0, expressed in T-cycles (x4).
var timaPeriods = [4]int{1024, 16, 64, 256}

const divPeriod = 256

// Timer owns DIV/TIMA/TMA/TAC and requests the timer interrupt on overflow.
type Timer struct {
	div  byte
	tima byte
	tma  byte
	tac  byte

	divAcc  int
	timaAcc int

	RequestInterrupt func(bit byte)
}

func New() *Timer {
	return &Timer{tac: 0xF8}
}

func (t *Timer) Tick(cycles int) {
	t.divAcc += cycles
	for t.divAcc >= divPeriod {
		t.divAcc -= divPeriod
		t.div++
	}

	if t.tac&0x04 == 0 {
		return
	}
	period := timaPeriods[t.tac&0x03]
	t.timaAcc += cycles
	for t.timaAcc >= period {
		t.timaAcc -= period
		t.tima++
		if t.tima == 0 {
			t.tima = t.tma
			if t.RequestInterrupt != nil {
				t.RequestInterrupt(2)
			}
		}
	}
}

func (t *Timer) Read(addr uint16) byte {
	switch addr {
	case 0xFF04:
		return t.div
	case 0xFF05:
		return t.tima
	case 0xFF06:
		return t.tma
	case 0xFF07:
		return t.tac | 0xF8
	}
	return 0xFF
}

func (t *Timer) Write(addr uint16, value byte) {
	switch addr {
	case 0xFF04:
		t.div = 0
		t.divAcc = 0
	case 0xFF05:
		t.tima = value
	case 0xFF06:
		t.tma = value
	case 0xFF07:
		t.tac = value & 0x07
	}
}

// State is the gob-serializable snapshot of the timer's registers.
type State struct {
	Div, Tima, Tma, Tac byte
	DivAcc, TimaAcc     int
}

func (t *Timer) SaveState() State {
	return State{t.div, t.tima, t.tma, t.tac, t.divAcc, t.timaAcc}
}

func (t *Timer) LoadState(s State) {
	t.div, t.tima, t.tma, t.tac = s.Div, s.Tima, s.Tma, s.Tac
	t.divAcc, t.timaAcc = s.DivAcc, s.TimaAcc
}
