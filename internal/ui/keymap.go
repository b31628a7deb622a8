package ui

import (
	"github.com/hajimehoshi/ebiten/v2"

	"github.com/oakmoss/dmgcore/internal/emuconfig"
)

type keymap struct {
	up, down, left, right ebiten.Key
	a, b, selectKey, start ebiten.Key
}

// keyNames maps the key names recognized in config.toml's [input] table to
// ebiten key constants. Only the subset used by the default keymap and
// common remaps is covered; unrecognized names fall back to the default.
var keyNames = map[string]ebiten.Key{
	"Up": ebiten.KeyUp, "Down": ebiten.KeyDown, "Left": ebiten.KeyLeft, "Right": ebiten.KeyRight,
	"Z": ebiten.KeyZ, "X": ebiten.KeyX, "A": ebiten.KeyA, "S": ebiten.KeyS,
	"Enter": ebiten.KeyEnter, "Space": ebiten.KeySpace,
	"Shift": ebiten.KeyShiftRight, "ShiftLeft": ebiten.KeyShiftLeft, "ShiftRight": ebiten.KeyShiftRight,
	"Tab": ebiten.KeyTab, "Backspace": ebiten.KeyBackspace,
}

func lookupKey(name string, fallback ebiten.Key) ebiten.Key {
	if k, ok := keyNames[name]; ok {
		return k
	}
	return fallback
}

func newKeymap(cfg emuconfig.InputConfig) keymap {
	return keymap{
		up:        lookupKey(cfg.Up, ebiten.KeyUp),
		down:      lookupKey(cfg.Down, ebiten.KeyDown),
		left:      lookupKey(cfg.Left, ebiten.KeyLeft),
		right:     lookupKey(cfg.Right, ebiten.KeyRight),
		a:         lookupKey(cfg.A, ebiten.KeyZ),
		b:         lookupKey(cfg.B, ebiten.KeyX),
		selectKey: lookupKey(cfg.Select, ebiten.KeyShiftRight),
		start:     lookupKey(cfg.Start, ebiten.KeyEnter),
	}
}
