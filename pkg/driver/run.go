package driver

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/rv32i-sim/rv32i-sim/pkg/cpu"
)

// MaxImageSize is the largest program image the Driver will load.
const MaxImageSize = cpu.MemorySize

// expectedResultsSize is the exact size of a valid .res file: 32
// little-endian 32-bit integers, register 0 first through register 31.
const expectedResultsSize = cpu.NumRegisters * 4

// Result is the outcome of a single Run.
type Result struct {
	// Registers is the final register snapshot, register 0 first.
	Registers [cpu.NumRegisters]uint32
	// ExitCode is the program's requested exit code (service 93), or 0.
	ExitCode int32
	// HaltReason explains why the loop stopped.
	HaltReason string
	// Expected holds the loaded golden register values, if a .res
	// file was found and loaded. Nil if comparison was skipped.
	Expected *[cpu.NumRegisters]uint32
	// Passed is true iff Expected is non-nil and matches Registers
	// exactly. Meaningless when Expected is nil.
	Passed bool
}

// Run loads the program at binPath, executes it to completion, and
// compares the final register state against the companion .res file
// (binPath with its trailing ".bin" replaced by ".res"), if one
// exists. It returns an error only for load-time failures (missing
// file, oversized image, malformed .res); runtime diagnostics and
// fatal runtime errors are folded into the returned Result instead, matching
// this simulator's permissive termination-is-always-reported behaviour.
func (d *Driver) Run(binPath string) (*Result, error) {
	return d.run(binPath, resPathFor(binPath))
}

// RunAgainst is Run, but compares against resPath instead of the path
// Run derives automatically from binPath.
func (d *Driver) RunAgainst(binPath, resPath string) (*Result, error) {
	return d.run(binPath, resPath)
}

func (d *Driver) run(binPath, resPath string) (*Result, error) {
	program, err := os.ReadFile(binPath)
	if err != nil {
		return nil, fmt.Errorf("driver: cannot read program image: %w", err)
	}
	if len(program) > MaxImageSize {
		return nil, fmt.Errorf("driver: program image of %d bytes exceeds the %d byte limit", len(program), MaxImageSize)
	}

	expected, err := loadExpectedResults(resPath)
	if err != nil {
		return nil, err
	}

	c := d.newCPU()
	if err := c.Mem.LoadImage(program); err != nil {
		return nil, fmt.Errorf("driver: %w", err)
	}

	reason := d.runLoop(c, uint32(len(program)))

	snap := c.Regs.Snapshot()
	result := &Result{
		Registers:  snap,
		ExitCode:   c.ExitCode,
		HaltReason: reason,
		Expected:   expected,
	}
	if expected != nil {
		result.Passed = snap == *expected
	}
	return result, nil
}

// runLoop drives fetch-decode-execute until the PC runs past the
// program, the step limit is reached, a strict-mode halt or a halting
// ECALL occurs, or a fatal error is returned, and returns a
// human-readable description of which one. programSize bounds the PC-out-of-bounds
// halt independent of the full memory size, so a short program halts
// as soon as it runs off the end of its own image.
func (d *Driver) runLoop(c *cpu.CPU, programSize uint32) string {
	steps := 0
	for {
		if c.PC >= programSize {
			return "PC ran past the end of the program"
		}
		if d.maxSteps > 0 && steps >= d.maxSteps {
			return fmt.Sprintf("exceeded maximum step count (%d)", d.maxSteps)
		}
		pc := c.PC
		err := c.Step()
		steps++
		if err == nil {
			if c.Halted {
				return fmt.Sprintf("halted on unknown instruction at 0x%08x (strict mode)", pc)
			}
			continue
		}
		if errors.Is(err, cpu.ErrHalted) {
			return "program executed a halting ECALL"
		}
		return fmt.Sprintf("fatal: %s", err.Error())
	}
}

// resPathFor derives the companion expected-results path by replacing
// a trailing ".bin" with ".res". If binPath does not end in ".bin",
// ".res" is simply appended.
func resPathFor(binPath string) string {
	if strings.HasSuffix(binPath, ".bin") {
		return strings.TrimSuffix(binPath, ".bin") + ".res"
	}
	return binPath + ".res"
}

// loadExpectedResults loads and validates a .res golden file. A
// missing file is not an error: comparison is simply skipped.
func loadExpectedResults(path string) (*[cpu.NumRegisters]uint32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("driver: cannot read expected-results file %s: %w", path, err)
	}
	if len(raw) != expectedResultsSize {
		return nil, fmt.Errorf("driver: expected-results file %s has %d bytes, want %d", path, len(raw), expectedResultsSize)
	}
	var out [cpu.NumRegisters]uint32
	for i := range out {
		off := i * 4
		out[i] = uint32(raw[off]) | uint32(raw[off+1])<<8 | uint32(raw[off+2])<<16 | uint32(raw[off+3])<<24
	}
	return &out, nil
}

// Report renders Result as a header line, the set of non-zero
// registers, and, when a golden file was compared, either
// "TEST PASSED" or a per-register mismatch listing followed by
// "TEST FAILED".
func (r *Result) Report() string {
	var b strings.Builder
	fmt.Fprintln(&b, "=== simulation halted ===")
	fmt.Fprintf(&b, "reason: %s\n", r.HaltReason)
	if r.ExitCode != 0 {
		fmt.Fprintf(&b, "exit code: %d\n", r.ExitCode)
	}
	for i, v := range r.Registers {
		if v != 0 {
			fmt.Fprintf(&b, "x%d: %d (0x%08x)\n", i, int32(v), v)
		}
	}
	if r.Expected == nil {
		return b.String()
	}
	if r.Passed {
		fmt.Fprintln(&b, "TEST PASSED")
		return b.String()
	}
	fmt.Fprintln(&b, cmp.Diff(*r.Expected, r.Registers))
	fmt.Fprintln(&b, "TEST FAILED")
	return b.String()
}
