package cpu

import (
	"fmt"
	"io"
	"os"
)

// DiagnosticFunc receives non-fatal runtime diagnostics (unknown
// opcode, unknown funct3/funct7 combination, unknown ECALL service).
// The default implementation prints to stderr.
type DiagnosticFunc func(*Diagnostic)

// CPU is a single RV32I machine instance: a register file, a flat
// memory, and the PC plus halt state. Tests can instantiate fresh
// machines without any teardown ritual, and multiple simulators can
// coexist in the same process.
//
// A CPU is not goroutine-safe: a single goroutine should drive Step.
type CPU struct {
	Regs *RegisterFile
	Mem  *Memory
	PC   uint32

	Halted   bool
	ExitCode int32

	strict   bool
	envCalls EnvCallRegistry
	diag     DiagnosticFunc
	stderr   io.Writer
}

// Option configures a CPU at construction time.
type Option func(*CPU)

// WithMemorySize overrides the default 1 MiB memory size.
func WithMemorySize(size uint32) Option {
	return func(c *CPU) { c.Mem = NewMemory(size) }
}

// WithStackPointer pre-initialises x2 (sp) to the given value. Stack
// pointer policy is left to the driver; the documented default (see
// driver.New) leaves it at zero.
func WithStackPointer(v uint32) Option {
	return func(c *CPU) { c.Regs.Write(RegSP, v) }
}

// WithStrictMode switches unknown-opcode handling from the default
// diagnose-and-continue policy to halt-on-unknown.
func WithStrictMode(strict bool) Option {
	return func(c *CPU) { c.strict = strict }
}

// WithStdout redirects the output of the print-integer and
// print-string ECALL services, letting tests capture program output
// without touching os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(c *CPU) { c.envCalls = NewDefaultEnvCallRegistry(w) }
}

// WithEnvCalls installs a custom environment-call registry, letting
// callers substitute or extend the ABI.
func WithEnvCalls(r EnvCallRegistry) Option {
	return func(c *CPU) { c.envCalls = r }
}

// WithDiagnostics installs a custom sink for non-fatal diagnostics.
func WithDiagnostics(f DiagnosticFunc) Option {
	return func(c *CPU) { c.diag = f }
}

// New creates a zero-initialised CPU: memory zeroed, all registers
// zero, PC at 0. Options are applied in order after these defaults.
func New(opts ...Option) *CPU {
	c := &CPU{
		Regs:   &RegisterFile{},
		Mem:    NewMemory(MemorySize),
		stderr: os.Stderr,
	}
	c.envCalls = NewDefaultEnvCallRegistry(os.Stdout)
	c.diag = func(d *Diagnostic) { fmt.Fprintln(c.stderr, d.Error()) }
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MisalignedPCError indicates the fetch PC was not a multiple of 4.
// This cannot arise from straight-line execution (every instruction
// advances PC by exactly 4) but can from a JALR/branch/JAL target
// computed from a misaligned base; per spec.md section 3 this is a
// fatal decode error rather than a diagnostic.
type MisalignedPCError struct {
	PC uint32
}

// Error implements the error interface.
func (e *MisalignedPCError) Error() string {
	return fmt.Sprintf("vm: fatal: PC 0x%08x is not a multiple of 4", e.PC)
}

// Fetch fetches the word at PC and advances PC by 4. The caller is
// responsible for decoding and executing it; Fetch itself never
// mutates anything but PC. It fails with a MisalignedPCError if PC is
// not a multiple of 4 (spec.md section 3; the absence of compressed
// instructions makes this a fatal condition rather than a diagnostic).
func (c *CPU) Fetch() (uint32, error) {
	if c.PC%4 != 0 {
		return 0, &MisalignedPCError{PC: c.PC}
	}
	word, err := c.Mem.ReadWord(c.PC)
	if err != nil {
		return 0, err
	}
	c.PC += 4
	return word, nil
}

// Step performs one fetch-decode-execute cycle. It returns ErrHalted
// when the program executes a halting ECALL, nil with c.Halted set to
// true when strict mode stops on an unrecognised instruction, and any
// other error for a fatal condition (bus error). register[0] is
// guaranteed to read as zero after every Step.
func (c *CPU) Step() error {
	pc := c.PC
	word, err := c.Fetch()
	if err != nil {
		return err
	}
	inst := Decode(word)
	defer func() { c.Regs.Write(0, 0) }()
	return c.execute(pc, inst)
}

// String renders a human-readable snapshot of the CPU state for
// debugging.
func (c *CPU) String() string {
	snap := c.Regs.Snapshot()
	return fmt.Sprintf("{PC:0x%08x GPR:%+v Halted:%v ExitCode:%d}", c.PC, snap, c.Halted, c.ExitCode)
}
