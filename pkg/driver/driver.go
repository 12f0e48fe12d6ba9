// Package driver loads a program image, runs it to completion on a
// cpu.CPU, and reports final register state, optionally against a
// golden expected-results file.
package driver

import (
	"io"
	"log"
	"os"

	"github.com/rv32i-sim/rv32i-sim/pkg/cpu"
)

// defaultStackPointer is the value x2 (sp) is pre-initialised to when
// WithStackPointer is not supplied: left at zero like every other
// register, so that a program which never touches sp still ends with
// "all others 0" (spec.md section 2) and a golden comparison against a
// .res file with x2==0 is meaningful. Programs that need a real stack
// set it explicitly via WithStackPointer/--stack-pointer.
const defaultStackPointer = 0

// Driver owns the machine state for the lifetime of a single run: it
// loads the program, drives the fetch-decode-execute loop to
// completion, and reports the outcome.
type Driver struct {
	stackPointer uint32
	strict       bool
	stdout       io.Writer
	stderr       io.Writer
	maxSteps     int
}

// Option configures a Driver at construction time.
type Option func(*Driver)

// WithStackPointer overrides the default stack-pointer initialisation.
func WithStackPointer(v uint32) Option {
	return func(d *Driver) { d.stackPointer = v }
}

// WithStrict switches the underlying CPU into halt-on-unknown-opcode mode.
func WithStrict(strict bool) Option {
	return func(d *Driver) { d.strict = strict }
}

// WithStdout redirects the program's console output (print-integer and
// print-string ECALL services).
func WithStdout(w io.Writer) Option {
	return func(d *Driver) { d.stdout = w }
}

// WithStderr redirects load-time error and diagnostic output.
func WithStderr(w io.Writer) Option {
	return func(d *Driver) { d.stderr = w }
}

// WithMaxSteps bounds the number of fetch-decode-execute cycles run
// before the Driver gives up and reports a runaway-program error. Zero
// (the default) means unbounded, relying on PC running past the end
// of the program image to terminate a program that never halts.
func WithMaxSteps(n int) Option {
	return func(d *Driver) { d.maxSteps = n }
}

// New constructs a Driver with the documented defaults: stack pointer
// left at zero, permissive (non-strict) unknown-opcode handling,
// console output to os.Stdout, diagnostics to os.Stderr.
func New(opts ...Option) *Driver {
	d := &Driver{
		stackPointer: defaultStackPointer,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) newCPU() *cpu.CPU {
	diagLog := log.New(d.stderr, "", 0)
	return cpu.New(
		cpu.WithStackPointer(d.stackPointer),
		cpu.WithStrictMode(d.strict),
		cpu.WithStdout(d.stdout),
		cpu.WithDiagnostics(func(diag *cpu.Diagnostic) { diagLog.Print(diag.Error()) }),
	)
}
