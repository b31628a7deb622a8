// Package emulog provides one logrus entry per core subsystem, in the
// module-tagged style of arl-nestor's emu/log package.
package emulog

import "github.com/sirupsen/logrus"

// base is the shared logger; subsystems attach a "mod" field to it so log
// lines can be filtered by component without separate logger instances.
var base = logrus.StandardLogger()

func init() {
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Module is a logrus entry pre-tagged with a subsystem name.
type Module = *logrus.Entry

var (
	Cart  Module = base.WithField("mod", "cart")
	Bus   Module = base.WithField("mod", "bus")
	CPU   Module = base.WithField("mod", "cpu")
	PPU   Module = base.WithField("mod", "ppu")
	APU   Module = base.WithField("mod", "apu")
	Emu   Module = base.WithField("mod", "emu")
	UI    Module = base.WithField("mod", "ui")
	CLI   Module = base.WithField("mod", "cli")
)

// SetLevel adjusts the verbosity of every module at once.
func SetLevel(level logrus.Level) { base.SetLevel(level) }
