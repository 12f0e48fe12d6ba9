package asm

import (
	"fmt"
	"strings"

	"github.com/rv32i-sim/rv32i-sim/pkg/cpu"
)

type rFields struct{ funct3, funct7 uint32 }

var rTypeMnemonics = map[string]rFields{
	"add": {0x0, 0x00}, "sub": {0x0, 0x20},
	"sll":  {0x1, 0x00},
	"slt":  {0x2, 0x00},
	"sltu": {0x3, 0x00},
	"xor":  {0x4, 0x00},
	"srl":  {0x5, 0x00}, "sra": {0x5, 0x20},
	"or":  {0x6, 0x00},
	"and": {0x7, 0x00},
}

var iArithMnemonics = map[string]uint32{
	"addi": 0x0, "slti": 0x2, "sltiu": 0x3, "xori": 0x4, "ori": 0x6, "andi": 0x7,
}

type shiftFields struct{ funct3, funct7 uint32 }

var shiftMnemonics = map[string]shiftFields{
	"slli": {0x1, 0x00},
	"srli": {0x5, 0x00},
	"srai": {0x5, 0x20},
}

var loadMnemonics = map[string]uint32{"lb": 0x0, "lh": 0x1, "lw": 0x2, "lbu": 0x4, "lhu": 0x5}
var storeMnemonics = map[string]uint32{"sb": 0x0, "sh": 0x1, "sw": 0x2}
var branchMnemonics = map[string]uint32{"beq": 0x0, "bne": 0x1, "blt": 0x4, "bge": 0x5, "bltu": 0x6, "bgeu": 0x7}

// stripComment removes a trailing "#" or ";" comment from a source line.
func stripComment(line string) string {
	for _, marker := range []string{"#", ";"} {
		if i := strings.Index(line, marker); i >= 0 {
			line = line[:i]
		}
	}
	return line
}

// splitFields tokenizes an instruction line on whitespace and commas.
func splitFields(line string) []string {
	line = strings.ReplaceAll(line, ",", " ")
	return strings.Fields(line)
}

// ParseLine parses a single source line into an Instruction. An empty
// line (after comment stripping) returns a nil Instruction and should
// be skipped by the caller; it is not an error.
func ParseLine(line string, lineno int) (Instruction, error) {
	line = strings.TrimSpace(stripComment(line))
	var label *string
	if i := strings.Index(line, ":"); i >= 0 {
		name := strings.TrimSpace(line[:i])
		label = &name
		line = strings.TrimSpace(line[i+1:])
	}
	if line == "" {
		if label == nil {
			return nil, nil
		}
		return instructionLabelOnly{lineno: lineno, label: label}, nil
	}

	fields := splitFields(line)
	mnemonic := strings.ToLower(fields[0])
	args := fields[1:]

	switch {
	case mnemonic == "ecall":
		return instructionECALL{lineno: lineno, maybeLabel: label}, nil

	case mnemonic == "nop":
		return instructionIArith{lineno: lineno, maybeLabel: label, funct3: 0x0, rd: 0, rs1: 0, immOrLabel: "0"}, nil

	case mnemonic == "jal":
		return parseJAL(args, label, lineno)

	case mnemonic == "jalr":
		return parseJALR(args, label, lineno)

	case mnemonic == "lui" || mnemonic == "auipc":
		return parseUpper(mnemonic, args, label, lineno)
	}

	if f, ok := rTypeMnemonics[mnemonic]; ok {
		return parseR(f, args, label, lineno)
	}
	if _, ok := iArithMnemonics[mnemonic]; ok {
		return parseIArith(mnemonic, args, label, lineno)
	}
	if _, ok := shiftMnemonics[mnemonic]; ok {
		return parseShift(mnemonic, args, label, lineno)
	}
	if f3, ok := loadMnemonics[mnemonic]; ok {
		return parseLoad(f3, args, label, lineno)
	}
	if f3, ok := storeMnemonics[mnemonic]; ok {
		return parseStore(f3, args, label, lineno)
	}
	if f3, ok := branchMnemonics[mnemonic]; ok {
		return parseBranch(f3, args, label, lineno)
	}

	return nil, fmt.Errorf("%w: line %d: unrecognised mnemonic %q", ErrCannotEncode, lineno, mnemonic)
}

// instructionLabelOnly represents a line that defines a label but no
// instruction (e.g. a bare "loop:" on its own line before the next
// real instruction). It contributes no word to the final image.
type instructionLabelOnly struct {
	lineno int
	label  *string
}

func (ia instructionLabelOnly) Label() *string { return ia.label }
func (ia instructionLabelOnly) Line() int      { return ia.lineno }
func (ia instructionLabelOnly) Encode(labels map[string]int64, pc uint32) (uint32, error) {
	return 0, fmt.Errorf("%w: line %d: label-only line emits no word", ErrCannotEncode, ia.lineno)
}

func needArgs(mnemonic string, args []string, n int, lineno int) error {
	if len(args) != n {
		return fmt.Errorf("%w: line %d: %s wants %d operands, got %d", ErrCannotEncode, lineno, mnemonic, n, len(args))
	}
	return nil
}

func parseR(f rFields, args []string, label *string, lineno int) (Instruction, error) {
	if err := needArgs("r-type instruction", args, 3, lineno); err != nil {
		return nil, err
	}
	rd, err := parseRegister(args[0])
	if err != nil {
		return nil, err
	}
	rs1, err := parseRegister(args[1])
	if err != nil {
		return nil, err
	}
	rs2, err := parseRegister(args[2])
	if err != nil {
		return nil, err
	}
	return instructionR{lineno: lineno, maybeLabel: label, funct3: f.funct3, funct7: f.funct7, rd: rd, rs1: rs1, rs2: rs2}, nil
}

func parseIArith(mnemonic string, args []string, label *string, lineno int) (Instruction, error) {
	if err := needArgs(mnemonic, args, 3, lineno); err != nil {
		return nil, err
	}
	rd, err := parseRegister(args[0])
	if err != nil {
		return nil, err
	}
	rs1, err := parseRegister(args[1])
	if err != nil {
		return nil, err
	}
	return instructionIArith{lineno: lineno, maybeLabel: label, funct3: iArithMnemonics[mnemonic], rd: rd, rs1: rs1, immOrLabel: args[2]}, nil
}

func parseShift(mnemonic string, args []string, label *string, lineno int) (Instruction, error) {
	if err := needArgs(mnemonic, args, 3, lineno); err != nil {
		return nil, err
	}
	rd, err := parseRegister(args[0])
	if err != nil {
		return nil, err
	}
	rs1, err := parseRegister(args[1])
	if err != nil {
		return nil, err
	}
	f := shiftMnemonics[mnemonic]
	return instructionIArith{lineno: lineno, maybeLabel: label, funct3: f.funct3, funct7: f.funct7, isShift: true, rd: rd, rs1: rs1, immOrLabel: args[2]}, nil
}

// parseMemOperand splits a "offset(base)" operand, e.g. "4(sp)" or "0(x2)".
func parseMemOperand(tok string, lineno int) (string, string, error) {
	open := strings.IndexByte(tok, '(')
	shut := strings.IndexByte(tok, ')')
	if open < 0 || shut < 0 || shut < open {
		return "", "", fmt.Errorf("%w: line %d: expected offset(base), got %q", ErrCannotEncode, lineno, tok)
	}
	offset := tok[:open]
	if offset == "" {
		offset = "0"
	}
	base := tok[open+1 : shut]
	return offset, base, nil
}

func parseLoad(funct3 uint32, args []string, label *string, lineno int) (Instruction, error) {
	if err := needArgs("load instruction", args, 2, lineno); err != nil {
		return nil, err
	}
	rd, err := parseRegister(args[0])
	if err != nil {
		return nil, err
	}
	offset, baseTok, err := parseMemOperand(args[1], lineno)
	if err != nil {
		return nil, err
	}
	rs1, err := parseRegister(baseTok)
	if err != nil {
		return nil, err
	}
	return instructionLoad{lineno: lineno, maybeLabel: label, funct3: funct3, rd: rd, rs1: rs1, immOrLabel: offset}, nil
}

func parseStore(funct3 uint32, args []string, label *string, lineno int) (Instruction, error) {
	if err := needArgs("store instruction", args, 2, lineno); err != nil {
		return nil, err
	}
	rs2, err := parseRegister(args[0])
	if err != nil {
		return nil, err
	}
	offset, baseTok, err := parseMemOperand(args[1], lineno)
	if err != nil {
		return nil, err
	}
	rs1, err := parseRegister(baseTok)
	if err != nil {
		return nil, err
	}
	return instructionStore{lineno: lineno, maybeLabel: label, funct3: funct3, rs1: rs1, rs2: rs2, immOrLabel: offset}, nil
}

func parseBranch(funct3 uint32, args []string, label *string, lineno int) (Instruction, error) {
	if err := needArgs("branch instruction", args, 3, lineno); err != nil {
		return nil, err
	}
	rs1, err := parseRegister(args[0])
	if err != nil {
		return nil, err
	}
	rs2, err := parseRegister(args[1])
	if err != nil {
		return nil, err
	}
	return instructionBranch{lineno: lineno, maybeLabel: label, funct3: funct3, rs1: rs1, rs2: rs2, target: args[2]}, nil
}

func parseUpper(mnemonic string, args []string, label *string, lineno int) (Instruction, error) {
	if err := needArgs(mnemonic, args, 2, lineno); err != nil {
		return nil, err
	}
	rd, err := parseRegister(args[0])
	if err != nil {
		return nil, err
	}
	opcode := uint32(cpu.OpcodeLUI)
	if mnemonic == "auipc" {
		opcode = cpu.OpcodeAUIPC
	}
	return instructionUpper{lineno: lineno, maybeLabel: label, opcode: opcode, rd: rd, immOrLabel: args[1]}, nil
}

func parseJAL(args []string, label *string, lineno int) (Instruction, error) {
	if err := needArgs("jal", args, 2, lineno); err != nil {
		return nil, err
	}
	rd, err := parseRegister(args[0])
	if err != nil {
		return nil, err
	}
	return instructionJAL{lineno: lineno, maybeLabel: label, rd: rd, target: args[1]}, nil
}

func parseJALR(args []string, label *string, lineno int) (Instruction, error) {
	if err := needArgs("jalr", args, 2, lineno); err != nil {
		return nil, err
	}
	rd, err := parseRegister(args[0])
	if err != nil {
		return nil, err
	}
	offset, baseTok, err := parseMemOperand(args[1], lineno)
	if err != nil {
		return nil, err
	}
	rs1, err := parseRegister(baseTok)
	if err != nil {
		return nil, err
	}
	return instructionJALR{lineno: lineno, maybeLabel: label, rd: rd, rs1: rs1, immOrLabel: offset}, nil
}
