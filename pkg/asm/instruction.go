// Package asm assembles a small RV32I mnemonic subset into the flat
// program images pkg/cpu's Memory loads and executes.
package asm

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rv32i-sim/rv32i-sim/pkg/cpu"
)

// ErrCannotEncode indicates an instruction could not be encoded: an
// unresolvable label, a malformed register name, or an unrecognised
// mnemonic.
var ErrCannotEncode = errors.New("asm: cannot encode instruction")

// ErrOutOfRange indicates an immediate or branch/jump offset does not
// fit the field width the encoding allows.
var ErrOutOfRange = errors.New("asm: value out of range")

// ErrTooManyInstructions indicates the program exceeds the address
// space representable by a uint32 byte offset.
var ErrTooManyInstructions = errors.New("asm: program has too many instructions")

// Instruction is a single parsed line of source, not yet resolved
// against the label table (a forward branch target may not exist yet
// when the line is parsed).
type Instruction interface {
	// Label returns the label this instruction defines (appears before
	// a ':' at the start of the line), or nil if it defines none.
	Label() *string

	// Line returns the 1-based source line number, for diagnostics.
	Line() int

	// Encode resolves labels and renders the final 32-bit word. pc is
	// the byte address this instruction will occupy.
	Encode(labels map[string]int64, pc uint32) (uint32, error)
}

// ResolveImmediate resolves name either as a numeric literal or as a
// label address, then range-checks it against a signed field of the
// given bit width.
func ResolveImmediate(labels map[string]int64, name string, bits, lineno int) (uint32, error) {
	value, err := strconv.ParseInt(name, 0, 64)
	if err != nil {
		v, found := labels[name]
		if !found {
			return 0, fmt.Errorf("%w: line %d: label %q is undefined", ErrCannotEncode, lineno, name)
		}
		value = v
	}
	return CastToUint32(value, bits, lineno)
}

// ResolveBranchOffset resolves target as a label relative to pc
// (target's address - pc), or as a literal byte offset, then
// range-checks it against a signed field of the given bit width.
func ResolveBranchOffset(labels map[string]int64, target string, pc uint32, bits, lineno int) (uint32, error) {
	if v, found := labels[target]; found {
		return CastToUint32(v-int64(pc), bits, lineno)
	}
	value, err := strconv.ParseInt(target, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: line %d: label %q is undefined", ErrCannotEncode, lineno, target)
	}
	return CastToUint32(value, bits, lineno)
}

// CastToUint32 range-checks a signed value against a bits-wide signed
// field and returns its two's complement bit pattern.
func CastToUint32(value int64, bits, lineno int) (uint32, error) {
	if bits < 1 || bits > 32 {
		panic("asm: bits out of range")
	}
	if value < -(1<<(bits-1)) || value > (1<<(bits-1))-1 {
		return 0, fmt.Errorf("%w: line %d: %d does not fit a %d-bit signed field", ErrOutOfRange, lineno, value, bits)
	}
	return uint32(value) & ((1 << uint(bits)) - 1), nil
}

// ResolveUnsignedImmediate resolves name as a numeric literal and
// range-checks it against an unsigned field of the given bit width.
// Used for shift amounts, which are unsigned 0..31 rather than a
// signed field.
func ResolveUnsignedImmediate(name string, bits, lineno int) (uint32, error) {
	value, err := strconv.ParseInt(name, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: line %d: %q is not a shift amount", ErrCannotEncode, lineno, name)
	}
	return checkUnsignedRange(value, bits, lineno)
}

// ResolveUpperImmediate resolves name, either a label address or a
// numeric literal, against the unsigned 20-bit field LUI/AUIPC place
// at bits [31:12].
func ResolveUpperImmediate(labels map[string]int64, name string, lineno int) (uint32, error) {
	value, err := strconv.ParseInt(name, 0, 64)
	if err != nil {
		v, found := labels[name]
		if !found {
			return 0, fmt.Errorf("%w: line %d: label %q is undefined", ErrCannotEncode, lineno, name)
		}
		value = v >> 12
	}
	return checkUnsignedRange(value, 20, lineno)
}

func checkUnsignedRange(value int64, bits, lineno int) (uint32, error) {
	if value < 0 || value > (1<<uint(bits))-1 {
		return 0, fmt.Errorf("%w: line %d: %d does not fit a %d-bit unsigned field", ErrOutOfRange, lineno, value, bits)
	}
	return uint32(value), nil
}

// parseRegister accepts either an "x<n>" numeric form or an ABI name
// (zero, ra, sp, a0, t3, ...) and returns the register index.
func parseRegister(tok string) (uint32, error) {
	if len(tok) > 1 && (tok[0] == 'x' || tok[0] == 'X') {
		if n, err := strconv.Atoi(tok[1:]); err == nil && n >= 0 && n < cpu.NumRegisters {
			return uint32(n), nil
		}
	}
	for i := uint32(0); i < cpu.NumRegisters; i++ {
		if cpu.RegisterName(i) == tok {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q is not a register name", ErrCannotEncode, tok)
}

// instructionR is a register-register arithmetic instruction (ADD,
// SUB, SLL, SLT, SLTU, XOR, SRL, SRA, OR, AND).
type instructionR struct {
	lineno       int
	maybeLabel   *string
	funct3       uint32
	funct7       uint32
	rd, rs1, rs2 uint32
}

func (ia instructionR) Label() *string { return ia.maybeLabel }
func (ia instructionR) Line() int      { return ia.lineno }

func (ia instructionR) Encode(labels map[string]int64, pc uint32) (uint32, error) {
	var w uint32
	w |= cpu.OpcodeRType & 0x7F
	w |= (ia.rd & 0x1F) << 7
	w |= (ia.funct3 & 0x7) << 12
	w |= (ia.rs1 & 0x1F) << 15
	w |= (ia.rs2 & 0x1F) << 20
	w |= (ia.funct7 & 0x7F) << 25
	return w, nil
}

var _ Instruction = instructionR{}

// instructionIArith is an immediate arithmetic instruction (ADDI,
// SLTI, SLTIU, XORI, ORI, ANDI) or an immediate shift (SLLI, SRLI,
// SRAI), distinguished by isShift.
type instructionIArith struct {
	lineno     int
	maybeLabel *string
	funct3     uint32
	funct7     uint32 // only meaningful when isShift
	isShift    bool
	rd, rs1    uint32
	immOrLabel string
}

func (ia instructionIArith) Label() *string { return ia.maybeLabel }
func (ia instructionIArith) Line() int      { return ia.lineno }

func (ia instructionIArith) Encode(labels map[string]int64, pc uint32) (uint32, error) {
	var w uint32
	w |= cpu.OpcodeIType & 0x7F
	w |= (ia.rd & 0x1F) << 7
	w |= (ia.funct3 & 0x7) << 12
	w |= (ia.rs1 & 0x1F) << 15
	if ia.isShift {
		shamt, err := ResolveUnsignedImmediate(ia.immOrLabel, 5, ia.lineno)
		if err != nil {
			return 0, err
		}
		w |= (shamt & 0x1F) << 20
		w |= (ia.funct7 & 0x7F) << 25
		return w, nil
	}
	imm, err := ResolveImmediate(labels, ia.immOrLabel, 12, ia.lineno)
	if err != nil {
		return 0, err
	}
	w |= (imm & 0xFFF) << 20
	return w, nil
}

var _ Instruction = instructionIArith{}

// instructionLoad is LB, LH, LW, LBU, or LHU.
type instructionLoad struct {
	lineno     int
	maybeLabel *string
	funct3     uint32
	rd, rs1    uint32
	immOrLabel string
}

func (ia instructionLoad) Label() *string { return ia.maybeLabel }
func (ia instructionLoad) Line() int      { return ia.lineno }

func (ia instructionLoad) Encode(labels map[string]int64, pc uint32) (uint32, error) {
	imm, err := ResolveImmediate(labels, ia.immOrLabel, 12, ia.lineno)
	if err != nil {
		return 0, err
	}
	var w uint32
	w |= cpu.OpcodeLoad & 0x7F
	w |= (ia.rd & 0x1F) << 7
	w |= (ia.funct3 & 0x7) << 12
	w |= (ia.rs1 & 0x1F) << 15
	w |= (imm & 0xFFF) << 20
	return w, nil
}

var _ Instruction = instructionLoad{}

// instructionStore is SB, SH, or SW.
type instructionStore struct {
	lineno     int
	maybeLabel *string
	funct3     uint32
	rs1, rs2   uint32
	immOrLabel string
}

func (ia instructionStore) Label() *string { return ia.maybeLabel }
func (ia instructionStore) Line() int      { return ia.lineno }

func (ia instructionStore) Encode(labels map[string]int64, pc uint32) (uint32, error) {
	imm, err := ResolveImmediate(labels, ia.immOrLabel, 12, ia.lineno)
	if err != nil {
		return 0, err
	}
	var w uint32
	w |= cpu.OpcodeSType & 0x7F
	w |= (imm & 0x1F) << 7
	w |= (ia.funct3 & 0x7) << 12
	w |= (ia.rs1 & 0x1F) << 15
	w |= (ia.rs2 & 0x1F) << 20
	w |= ((imm >> 5) & 0x7F) << 25
	return w, nil
}

var _ Instruction = instructionStore{}

// instructionBranch is BEQ, BNE, BLT, BGE, BLTU, or BGEU.
type instructionBranch struct {
	lineno     int
	maybeLabel *string
	funct3     uint32
	rs1, rs2   uint32
	target     string
}

func (ia instructionBranch) Label() *string { return ia.maybeLabel }
func (ia instructionBranch) Line() int      { return ia.lineno }

func (ia instructionBranch) Encode(labels map[string]int64, pc uint32) (uint32, error) {
	offset, err := ResolveBranchOffset(labels, ia.target, pc, 13, ia.lineno)
	if err != nil {
		return 0, err
	}
	bit12 := (offset >> 12) & 0x1
	bit11 := (offset >> 11) & 0x1
	bits10_5 := (offset >> 5) & 0x3F
	bits4_1 := (offset >> 1) & 0xF
	var w uint32
	w |= cpu.OpcodeBranch & 0x7F
	w |= bit11 << 7
	w |= bits4_1 << 8
	w |= (ia.funct3 & 0x7) << 12
	w |= (ia.rs1 & 0x1F) << 15
	w |= (ia.rs2 & 0x1F) << 20
	w |= bits10_5 << 25
	w |= bit12 << 31
	return w, nil
}

var _ Instruction = instructionBranch{}

// instructionUpper is LUI or AUIPC.
type instructionUpper struct {
	lineno     int
	maybeLabel *string
	opcode     uint32
	rd         uint32
	immOrLabel string
}

func (ia instructionUpper) Label() *string { return ia.maybeLabel }
func (ia instructionUpper) Line() int      { return ia.lineno }

func (ia instructionUpper) Encode(labels map[string]int64, pc uint32) (uint32, error) {
	imm, err := ResolveUpperImmediate(labels, ia.immOrLabel, ia.lineno)
	if err != nil {
		return 0, err
	}
	var w uint32
	w |= ia.opcode & 0x7F
	w |= (ia.rd & 0x1F) << 7
	w |= (imm & 0xFFFFF) << 12
	return w, nil
}

var _ Instruction = instructionUpper{}

// instructionJAL is JAL.
type instructionJAL struct {
	lineno     int
	maybeLabel *string
	rd         uint32
	target     string
}

func (ia instructionJAL) Label() *string { return ia.maybeLabel }
func (ia instructionJAL) Line() int      { return ia.lineno }

func (ia instructionJAL) Encode(labels map[string]int64, pc uint32) (uint32, error) {
	offset, err := ResolveBranchOffset(labels, ia.target, pc, 21, ia.lineno)
	if err != nil {
		return 0, err
	}
	bit20 := (offset >> 20) & 0x1
	bits10_1 := (offset >> 1) & 0x3FF
	bit11 := (offset >> 11) & 0x1
	bits19_12 := (offset >> 12) & 0xFF
	var w uint32
	w |= cpu.OpcodeJAL & 0x7F
	w |= (ia.rd & 0x1F) << 7
	w |= bits19_12 << 12
	w |= bit11 << 20
	w |= bits10_1 << 21
	w |= bit20 << 31
	return w, nil
}

var _ Instruction = instructionJAL{}

// instructionJALR is JALR.
type instructionJALR struct {
	lineno     int
	maybeLabel *string
	rd, rs1    uint32
	immOrLabel string
}

func (ia instructionJALR) Label() *string { return ia.maybeLabel }
func (ia instructionJALR) Line() int      { return ia.lineno }

func (ia instructionJALR) Encode(labels map[string]int64, pc uint32) (uint32, error) {
	imm, err := ResolveImmediate(labels, ia.immOrLabel, 12, ia.lineno)
	if err != nil {
		return 0, err
	}
	var w uint32
	w |= cpu.OpcodeJALR & 0x7F
	w |= (ia.rd & 0x1F) << 7
	w |= (ia.rs1 & 0x1F) << 15
	w |= (imm & 0xFFF) << 20
	return w, nil
}

var _ Instruction = instructionJALR{}

// instructionECALL is ECALL. It carries no operands: the service
// number and its argument live in registers a7/a0 at run time.
type instructionECALL struct {
	lineno     int
	maybeLabel *string
}

func (ia instructionECALL) Label() *string { return ia.maybeLabel }
func (ia instructionECALL) Line() int      { return ia.lineno }

func (ia instructionECALL) Encode(labels map[string]int64, pc uint32) (uint32, error) {
	return cpu.OpcodeSystem & 0x7F, nil
}

var _ Instruction = instructionECALL{}
