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

	"github.com/gbcore/dmgcore/internal/bus"
	"github.com/gbcore/dmgcore/internal/cpu"
	"github.com/urfave/cli"
)

// writerFunc adapts a function to io.Writer
type writerFunc func(p []byte) (n int, err error)

func (f writerFunc) Write(p []byte) (n int, err error) { return f(p) }

func main() {
	app := cli.NewApp()
	app.Name = "cpurunner"
	app.Usage = "headless SM83 runner for Mooneye/Blargg-style test ROMs"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "rom", Usage: "path to ROM (.gb)"},
		cli.StringFlag{Name: "bootrom", Usage: "optional DMG boot ROM to run from 0x0000 until FF50 disables it"},
		cli.IntFlag{Name: "steps", Usage: "max CPU steps to run", Value: 5_000_000},
		cli.IntFlag{Name: "pc", Usage: "initial PC value", Value: 0x0100},
		cli.BoolFlag{Name: "trace", Usage: "print PC/opcodes"},
		cli.StringFlag{Name: "until", Usage: "stop when serial output contains this substring (case-insensitive); empty to disable", Value: "Passed"},
		cli.BoolFlag{Name: "auto", Usage: "auto-detect 'Passed' or 'Failed N tests' in serial output and exit with code 0/1"},
		cli.DurationFlag{Name: "timeout", Usage: "optional wall-clock timeout (e.g. 30s, 2m); 0 disables"},
		cli.BoolFlag{Name: "traceOnFail", Usage: "when -auto detects failure, print a recent trace window (slows down)"},
		cli.IntFlag{Name: "traceWindow", Usage: "number of recent instructions to include in 'traceOnFail' dump", Value: 200},
		cli.IntFlag{Name: "serialWindow", Usage: "number of recent serial bytes to retain for diagnostics on fail", Value: 8192},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	romPath := c.String("rom")
	bootPath := c.String("bootrom")
	steps := c.Int("steps")
	startPC := c.Int("pc")
	trace := c.Bool("trace")
	until := c.String("until")
	auto := c.Bool("auto")
	timeout := c.Duration("timeout")
	traceOnFail := c.Bool("traceOnFail")
	traceWindow := c.Int("traceWindow")
	serialWindowFlag := c.Int("serialWindow")

	if romPath == "" {
		return cli.NewExitError("-rom is required", 1)
	}
	rom, err := os.ReadFile(romPath)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("read rom: %v", err), 1)
	}
	var boot []byte
	if bootPath != "" {
		b, err := os.ReadFile(bootPath)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("read bootrom: %v", err), 1)
		}
		boot = b
	}

	b := bus.New(rom)
	if len(boot) >= 0x100 {
		b.SetBootROM(boot)
	}
	// Stream serial to stdout and capture in-memory for pattern detection
	var ser bytes.Buffer
	// Keep a compact serial ring for last N bytes to print on failure
	serialWindow := serialWindowFlag
	if serialWindow < 256 {
		serialWindow = 256
	}
	serRing := make([]byte, serialWindow)
	serRingIdx := 0
	serRingFill := 0
	w := io.Writer(os.Stdout)
	if until != "" || auto {
		w = io.MultiWriter(os.Stdout, &ser)
	}
	// Wrap writer to also update the ring
	if until != "" || auto {
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
		// Boot ROM path: start at 0x0000; rely on boot to init IO
		cp.SP = 0xFFFE
		cp.PC = 0x0000
		b.Interrupts().IME = false
	} else {
		// No boot ROM: initialize to DMG post-boot defaults
		cp.ResetNoBoot()
		cp.SetPC(uint16(startPC))
		// Minimal DMG post-boot IO defaults (LCD on, palettes, scroll=0, timers off)
		b.Write(0xFF00, 0xCF)
		b.Write(0xFF05, 0x00) // TIMA
		b.Write(0xFF06, 0x00) // TMA
		b.Write(0xFF07, 0x00) // TAC
		b.Write(0xFF40, 0x91) // LCDC on with BG (tile data at 0x8000); sprites off
		b.Write(0xFF42, 0x00) // SCY
		b.Write(0xFF43, 0x00) // SCX
		b.Write(0xFF45, 0x00) // LYC
		b.Write(0xFF47, 0xFC) // BGP
		b.Write(0xFF48, 0xFF) // OBP0
		b.Write(0xFF49, 0xFF) // OBP1
		b.Write(0xFF4A, 0x00) // WY
		b.Write(0xFF4B, 0x00) // WX
		b.Write(0xFFFF, 0x00) // IE
	}

	start := time.Now()
	var deadline time.Time
	if timeout > 0 {
		deadline = start.Add(timeout)
	}
	// Regex for failure summary: "Failed <n> tests"
	failRe := regexp.MustCompile(`(?i)failed\s+(\d+)\s+tests?`)
	// Regex to capture test markers like "11:01"
	stageRe := regexp.MustCompile(`\b(\d{2}:\d{2})\b`)
	lastStage := ""

	// ring buffer for recent traces
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
	ring := make([]traceEntry, traceWindow)
	ringIdx := 0
	ringFill := 0
	var cycles int
	for i := 0; i < steps; i++ {
		pc := cp.PC
		var op byte
		if trace || traceOnFail {
			op = b.Read(pc)
		}
		cyc, stepErr := cp.Step()
		cycles += cyc
		if stepErr != nil {
			fmt.Printf("PC=%04X: %v\n", pc, stepErr)
			break
		}
		if trace || traceOnFail {
			te := traceEntry{
				pc:  pc,
				op:  op,
				cyc: cyc,
				a:   cp.A, f: cp.F, b: cp.B, c: cp.C, d: cp.D, e: cp.E, h: cp.H, l: cp.L,
				sp: cp.SP, ime: b.Interrupts().IME, ifreg: b.Read(0xFF0F), ie: b.Read(0xFFFF),
			}
			if trace {
				fmt.Printf("PC=%04X OP=%02X cyc=%d A=%02X F=%02X B=%02X C=%02X D=%02X E=%02X H=%02X L=%02X SP=%04X IME=%t IF=%02X IE=%02X\n",
					te.pc, te.op, te.cyc, te.a, te.f, te.b, te.c, te.d, te.e, te.h, te.l, te.sp, te.ime, te.ifreg, te.ie)
			}
			if traceOnFail && traceWindow > 0 {
				ring[ringIdx] = te
				ringIdx = (ringIdx + 1) % traceWindow
				if ringFill < traceWindow {
					ringFill++
				}
			}
		}
		if auto {
			s := ser.String()
			if mm := stageRe.FindAllString(s, -1); len(mm) > 0 {
				lastStage = mm[len(mm)-1]
			}
			if strings.Contains(strings.ToLower(s), "passed") {
				fmt.Printf("\nDetected PASS in serial output.\n")
				if lastStage != "" {
					fmt.Printf("Last stage seen: %s\n", lastStage)
				}
				fmt.Printf("\nDone: steps=%d cycles~=%d elapsed=%s\n", i+1, cycles, time.Since(start).Truncate(time.Millisecond))
				return nil
			}
			if m := failRe.FindStringSubmatch(s); m != nil {
				fmt.Printf("\nDetected %s in serial output.\n", m[0])
				if lastStage != "" {
					fmt.Printf("Last stage seen: %s\n", lastStage)
				}
				if traceOnFail && ringFill > 0 {
					fmt.Printf("\n--- recent trace (last %d instructions) ---\n", ringFill)
					// print in chronological order
					startIdx := (ringIdx - ringFill + traceWindow) % traceWindow
					for j := 0; j < ringFill; j++ {
						idx := (startIdx + j) % traceWindow
						te := ring[idx]
						fmt.Printf("PC=%04X OP=%02X cyc=%d A=%02X F=%02X B=%02X C=%02X D=%02X E=%02X H=%02X L=%02X SP=%04X IME=%t IF=%02X IE=%02X\n",
							te.pc, te.op, te.cyc, te.a, te.f, te.b, te.c, te.d, te.e, te.h, te.l, te.sp, te.ime, te.ifreg, te.ie)
					}
					fmt.Printf("--- end trace ---\n")
				}
				if serRingFill > 0 {
					fmt.Printf("\n--- recent serial (last %d bytes) ---\n", serRingFill)
					start := (serRingIdx - serRingFill + serialWindow) % serialWindow
					for j := 0; j < serRingFill; j++ {
						idx := (start + j) % serialWindow
						fmt.Printf("%c", serRing[idx])
					}
					fmt.Printf("\n--- end serial ---\n")
				}
				fmt.Printf("\nDone: steps=%d cycles~=%d elapsed=%s\n", i+1, cycles, time.Since(start).Truncate(time.Millisecond))
				return cli.NewExitError("", 1)
			}
		} else if until != "" {
			if strings.Contains(strings.ToLower(ser.String()), strings.ToLower(until)) {
				fmt.Printf("\nDetected '%s' in serial output.\n", until)
				fmt.Printf("\nDone: steps=%d cycles~=%d elapsed=%s\n", i+1, cycles, time.Since(start).Truncate(time.Millisecond))
				return nil
			}
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			fmt.Printf("\nTimeout after %s.\n", time.Since(start).Truncate(time.Millisecond))
			fmt.Printf("\nDone: steps=%d cycles~=%d elapsed=%s\n", i+1, cycles, time.Since(start).Truncate(time.Millisecond))
			return cli.NewExitError("", 2)
		}
	}
	dur := time.Since(start)
	fmt.Printf("\nDone: steps=%d cycles~=%d elapsed=%s\n", steps, cycles, dur.Truncate(time.Millisecond))
	return nil
}
