// Package joypad models the 8-bit button matrix exposed at 0xFF00 (JOYP).
package joypad

import (
	"bytes"
	"encoding/gob"
)

const (
	Right byte = 1 << iota
	Left
	Up
	Down
	A
	B
	Select
	Start
)

// Joypad tracks which of the 8 buttons are currently pressed (active-high)
// and the select bits (4-5) last written to JOYP.
type Joypad struct {
	buttons byte // active-high bitmask: Right|Left|Up|Down|A|B|Select|Start
	select_ byte // bits 4-5 as last written, rest of JOYP is derived
}

func New() *Joypad {
	return &Joypad{select_: 0x30}
}

// SetButtons replaces the full pressed-button bitmask.
func (j *Joypad) SetButtons(mask byte) { j.buttons = mask }

// Read returns the JOYP byte: selection bits as stored, low nibble derived
// from the currently selected button group (0 = pressed).
func (j *Joypad) Read() byte {
	out := byte(0xC0) | (j.select_ & 0x30) | 0x0F
	if j.select_&0x20 == 0 { // select action buttons
		if j.buttons&A != 0 {
			out &^= 0x01
		}
		if j.buttons&B != 0 {
			out &^= 0x02
		}
		if j.buttons&Select != 0 {
			out &^= 0x04
		}
		if j.buttons&Start != 0 {
			out &^= 0x08
		}
	}
	if j.select_&0x10 == 0 { // select d-pad
		if j.buttons&Right != 0 {
			out &^= 0x01
		}
		if j.buttons&Left != 0 {
			out &^= 0x02
		}
		if j.buttons&Up != 0 {
			out &^= 0x04
		}
		if j.buttons&Down != 0 {
			out &^= 0x08
		}
	}
	return out
}

// Write stores bits 4-5 (the group-select bits); the rest of JOYP is read-only.
func (j *Joypad) Write(value byte) {
	j.select_ = (j.select_ & 0xCF) | (value & 0x30)
}

type joypadState struct {
	Buttons byte
	Select  byte
}

func (j *Joypad) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(joypadState{Buttons: j.buttons, Select: j.select_})
	return buf.Bytes()
}

func (j *Joypad) LoadState(data []byte) {
	var s joypadState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	j.buttons, j.select_ = s.Buttons, s.Select
}
