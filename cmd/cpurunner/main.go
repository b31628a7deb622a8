// Command cpurunner drives the CPU/bus directly against blargg-style test
// ROMs, watching the serial port for a pass/fail marker instead of opening a
// window.
package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/oakmoss/dmgcore/internal/bus"
	"github.com/oakmoss/dmgcore/internal/cpu"
)

type cli struct {
	ROM     string        `arg:"" help:"path to ROM (.gb)"`
	BootROM string        `help:"optional DMG boot ROM to run from 0x0000 until FF50 disables it"`
	Steps   int           `help:"max CPU steps to run" default:"5000000"`
	PC      int           `help:"initial PC value when not booting from a boot ROM" default:"0x0100"`
	Trace   bool          `help:"print PC/opcode/register state every step"`
	Until   string        `help:"stop when serial output contains this substring, case-insensitive; empty disables" default:"Passed"`
	Auto    bool          `help:"detect 'Passed'/'Failed N tests' in serial output and exit 0/1 accordingly"`
	Timeout time.Duration `help:"optional wall-clock timeout, e.g. 30s; 0 disables"`

	TraceOnFail  bool `help:"with --auto, dump a recent trace window on detected failure"`
	TraceWindow  int  `help:"instructions kept for --trace-on-fail" default:"200"`
	SerialWindow int  `help:"serial bytes kept for failure diagnostics" default:"8192"`
}

// writerFunc adapts a function to io.Writer.
type writerFunc func(p []byte) (n int, err error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

type traceEntry struct {
	pc                     uint16
	op                     byte
	cyc                    int
	a, f, b, c, d, e, h, l byte
	sp                     uint16
	ime                    bool
	ifreg                  byte
	ie                     byte
}

func (te traceEntry) String() string {
	return fmt.Sprintf("PC=%04X OP=%02X cyc=%d A=%02X F=%02X B=%02X C=%02X D=%02X E=%02X H=%02X L=%02X SP=%04X IME=%t IF=%02X IE=%02X",
		te.pc, te.op, te.cyc, te.a, te.f, te.b, te.c, te.d, te.e, te.h, te.l, te.sp, te.ime, te.ifreg, te.ie)
}

func main() {
	var c cli
	kong.Parse(&c, kong.Description("Run a test ROM against the CPU/bus, watching serial output."))

	rom, err := os.ReadFile(c.ROM)
	if err != nil {
		log.Fatalf("read rom: %v", err)
	}
	var boot []byte
	if c.BootROM != "" {
		if boot, err = os.ReadFile(c.BootROM); err != nil {
			log.Fatalf("read bootrom: %v", err)
		}
	}

	b := bus.New(rom)
	if len(boot) >= 0x100 {
		b.SetBootROM(boot)
	}

	serialWindow := c.SerialWindow
	if serialWindow < 256 {
		serialWindow = 256
	}
	serRing := make([]byte, serialWindow)
	serRingIdx, serRingFill := 0, 0
	var ser bytes.Buffer
	w := io.Writer(os.Stdout)
	if c.Until != "" || c.Auto {
		w = io.MultiWriter(os.Stdout, &ser, writerFunc(func(p []byte) (int, error) {
			for _, ch := range p {
				serRing[serRingIdx] = ch
				serRingIdx = (serRingIdx + 1) % serialWindow
				if serRingFill < serialWindow {
					serRingFill++
				}
			}
			return len(p), nil
		}))
	}
	b.SetSerialWriter(w)

	cp := cpu.New(b)
	if len(boot) >= 0x100 {
		cp.SP = 0xFFFE
		cp.PC = 0x0000
		cp.IME = false
	} else {
		cp.ResetNoBoot()
		cp.PC = uint16(c.PC)
	}

	start := time.Now()
	var deadline time.Time
	if c.Timeout > 0 {
		deadline = start.Add(c.Timeout)
	}
	failRe := regexp.MustCompile(`(?i)failed\s+(\d+)\s+tests?`)
	stageRe := regexp.MustCompile(`\b(\d{2}:\d{2})\b`)
	lastStage := ""

	ring := make([]traceEntry, max(c.TraceWindow, 1))
	ringIdx, ringFill := 0, 0
	var cycles int

	for i := 0; i < c.Steps; i++ {
		pc := cp.PC
		var op byte
		if c.Trace || c.TraceOnFail {
			op = b.Read(pc)
		}
		cyc := cp.Step()
		cycles += cyc

		if c.Trace || c.TraceOnFail {
			te := traceEntry{
				pc: pc, op: op, cyc: cyc,
				a: cp.A, f: cp.F, b: cp.B, c: cp.C, d: cp.D, e: cp.E, h: cp.H, l: cp.L,
				sp: cp.SP, ime: cp.IME, ifreg: b.Read(0xFF0F), ie: b.Read(0xFFFF),
			}
			if c.Trace {
				fmt.Println(te.String())
			}
			if c.TraceOnFail {
				ring[ringIdx] = te
				ringIdx = (ringIdx + 1) % len(ring)
				if ringFill < len(ring) {
					ringFill++
				}
			}
		}

		if c.Auto {
			s := ser.String()
			if mm := stageRe.FindAllString(s, -1); len(mm) > 0 {
				lastStage = mm[len(mm)-1]
			}
			if strings.Contains(strings.ToLower(s), "passed") {
				reportDone(i+1, cycles, start, "Detected PASS in serial output.", lastStage)
				os.Exit(0)
			}
			if m := failRe.FindStringSubmatch(s); m != nil {
				reportDone(i+1, cycles, start, fmt.Sprintf("Detected %s in serial output.", m[0]), lastStage)
				if c.TraceOnFail && ringFill > 0 {
					dumpTrace(ring, ringIdx, ringFill)
				}
				if serRingFill > 0 {
					dumpSerial(serRing, serRingIdx, serRingFill, serialWindow)
				}
				os.Exit(1)
			}
		} else if c.Until != "" && strings.Contains(strings.ToLower(ser.String()), strings.ToLower(c.Until)) {
			reportDone(i+1, cycles, start, fmt.Sprintf("Detected %q in serial output.", c.Until), lastStage)
			return
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			reportDone(i+1, cycles, start, "Timeout.", lastStage)
			os.Exit(2)
		}
	}
	reportDone(c.Steps, cycles, start, "Step limit reached.", lastStage)
}

func reportDone(steps, cycles int, start time.Time, headline, lastStage string) {
	fmt.Printf("\n%s\n", headline)
	if lastStage != "" {
		fmt.Printf("Last stage seen: %s\n", lastStage)
	}
	fmt.Printf("Done: steps=%d cycles~=%d elapsed=%s\n", steps, cycles, time.Since(start).Truncate(time.Millisecond))
}

func dumpTrace(ring []traceEntry, ringIdx, ringFill int) {
	fmt.Printf("\n--- recent trace (last %d instructions) ---\n", ringFill)
	start := (ringIdx - ringFill + len(ring)) % len(ring)
	for j := 0; j < ringFill; j++ {
		fmt.Println(ring[(start+j)%len(ring)].String())
	}
	fmt.Println("--- end trace ---")
}

func dumpSerial(ring []byte, idx, fill, size int) {
	fmt.Printf("\n--- recent serial (last %d bytes) ---\n", fill)
	start := (idx - fill + size) % size
	for j := 0; j < fill; j++ {
		fmt.Printf("%c", ring[(start+j)%size])
	}
	fmt.Println("\n--- end serial ---")
}
