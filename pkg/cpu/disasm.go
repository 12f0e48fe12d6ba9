package cpu

import "fmt"

// rTypeMnemonic maps (funct3, funct7) pairs, and iArithMnemonic maps
// funct3 values, to their textual mnemonic for disassembly and
// diagnostics.
var rTypeMnemonic = map[[2]uint32]string{
	{0x0, 0x00}: "add", {0x0, 0x20}: "sub",
	{0x1, 0x00}: "sll",
	{0x2, 0x00}: "slt",
	{0x3, 0x00}: "sltu",
	{0x4, 0x00}: "xor",
	{0x5, 0x00}: "srl", {0x5, 0x20}: "sra",
	{0x6, 0x00}: "or",
	{0x7, 0x00}: "and",
}

var iArithMnemonic = map[uint32]string{
	0x0: "addi", 0x2: "slti", 0x3: "sltiu", 0x4: "xori", 0x6: "ori", 0x7: "andi",
}

var loadMnemonic = map[uint32]string{0x0: "lb", 0x1: "lh", 0x2: "lw", 0x4: "lbu", 0x5: "lhu"}
var storeMnemonic = map[uint32]string{0x0: "sb", 0x1: "sh", 0x2: "sw"}
var branchMnemonic = map[uint32]string{0x0: "beq", 0x1: "bne", 0x4: "blt", 0x5: "bge", 0x6: "bltu", 0x7: "bgeu"}

// Disassemble renders a single decoded instruction as assembly text.
// Unrecognised encodings render as "<unknown 0xXXXXXXXX>", matching
// the permissive posture of the rest of the decoder/executor.
func Disassemble(word uint32) string {
	in := Decode(word)
	rname := RegisterName

	switch in.Format {
	case FormatR:
		if mn, ok := rTypeMnemonic[[2]uint32{in.Funct3, in.Funct7}]; ok {
			return fmt.Sprintf("%s %s, %s, %s", mn, rname(in.RD), rname(in.RS1), rname(in.RS2))
		}
	case FormatI:
		switch in.Opcode {
		case OpcodeIType:
			if mn, ok := iArithMnemonic[in.Funct3]; ok {
				return fmt.Sprintf("%s %s, %s, %d", mn, rname(in.RD), rname(in.RS1), int32(in.Imm))
			}
			switch in.Funct3 {
			case 0x1:
				return fmt.Sprintf("slli %s, %s, %d", rname(in.RD), rname(in.RS1), in.Raw>>20&0x1F)
			case 0x5:
				if (in.Raw>>25)&0x7F == 0x20 {
					return fmt.Sprintf("srai %s, %s, %d", rname(in.RD), rname(in.RS1), in.Raw>>20&0x1F)
				}
				return fmt.Sprintf("srli %s, %s, %d", rname(in.RD), rname(in.RS1), in.Raw>>20&0x1F)
			}
		case OpcodeLoad:
			if mn, ok := loadMnemonic[in.Funct3]; ok {
				return fmt.Sprintf("%s %s, %d(%s)", mn, rname(in.RD), int32(in.Imm), rname(in.RS1))
			}
		case OpcodeJALR:
			return fmt.Sprintf("jalr %s, %d(%s)", rname(in.RD), int32(in.Imm), rname(in.RS1))
		case OpcodeSystem:
			return "ecall"
		}
	case FormatS:
		if mn, ok := storeMnemonic[in.Funct3]; ok {
			return fmt.Sprintf("%s %s, %d(%s)", mn, rname(in.RS2), int32(in.Imm), rname(in.RS1))
		}
	case FormatB:
		if mn, ok := branchMnemonic[in.Funct3]; ok {
			return fmt.Sprintf("%s %s, %s, %d", mn, rname(in.RS1), rname(in.RS2), int32(in.Imm))
		}
	case FormatU:
		switch in.Opcode {
		case OpcodeLUI:
			return fmt.Sprintf("lui %s, 0x%x", rname(in.RD), in.Imm>>12)
		case OpcodeAUIPC:
			return fmt.Sprintf("auipc %s, 0x%x", rname(in.RD), in.Imm>>12)
		}
	case FormatJ:
		return fmt.Sprintf("jal %s, %d", rname(in.RD), int32(in.Imm))
	}
	return fmt.Sprintf("<unknown 0x%08x>", word)
}
