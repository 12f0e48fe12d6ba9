package cpu

// Format identifies which of the RV32I instruction encodings a word
// belongs to.
type Format uint8

// The instruction formats defined by the base RV32I encoding.
const (
	FormatUnknown Format = iota
	FormatR
	FormatI
	FormatS
	FormatB
	FormatU
	FormatJ
)

// String renders the format tag for diagnostics.
func (f Format) String() string {
	switch f {
	case FormatR:
		return "R"
	case FormatI:
		return "I"
	case FormatS:
		return "S"
	case FormatB:
		return "B"
	case FormatU:
		return "U"
	case FormatJ:
		return "J"
	default:
		return "Unknown"
	}
}

// Opcodes, by their low 7 bits.
const (
	OpcodeRType   = 0x33
	OpcodeIType   = 0x13
	OpcodeLoad    = 0x03
	OpcodeJALR    = 0x67
	OpcodeSystem  = 0x73
	OpcodeSType   = 0x23
	OpcodeBranch  = 0x63
	OpcodeLUI     = 0x37
	OpcodeAUIPC   = 0x17
	OpcodeJAL     = 0x6F
)

// Instruction is the tagged, fully-decoded form of a 32-bit instruction
// word: the format variant plus every field relevant to that format,
// with immediates already sign-extended (except U-type, which is
// pre-shifted into place).
type Instruction struct {
	Raw    uint32
	Opcode uint32
	Format Format

	RD     uint32
	RS1    uint32
	RS2    uint32
	Funct3 uint32
	Funct7 uint32
	Imm    uint32 // sign-extended (I/S/B/J) or pre-shifted (U)
}

// signExtend interprets the low n bits of v as two's complement and
// extends the sign to fill a 32-bit word, by shifting the value's MSB
// up to bit 31 and then arithmetic-shifting back down.
func signExtend(v uint32, n uint) uint32 {
	shift := 32 - n
	return uint32(int32(v<<shift) >> shift)
}

// Decode maps a 32-bit instruction word to its typed decoded form. This
// function is pure and total: it never fails. An unrecognised opcode
// yields FormatUnknown, leaving the disposition to the executor.
func Decode(word uint32) Instruction {
	opcode := word & 0x7F
	in := Instruction{Raw: word, Opcode: opcode}

	switch opcode {
	case OpcodeRType:
		in.Format = FormatR
		in.Funct7 = (word >> 25) & 0x7F
		in.RS2 = (word >> 20) & 0x1F
		in.RS1 = (word >> 15) & 0x1F
		in.Funct3 = (word >> 12) & 0x7
		in.RD = (word >> 7) & 0x1F

	case OpcodeIType, OpcodeLoad, OpcodeJALR, OpcodeSystem:
		in.Format = FormatI
		in.RD = (word >> 7) & 0x1F
		in.Funct3 = (word >> 12) & 0x7
		in.RS1 = (word >> 15) & 0x1F
		in.Funct7 = (word >> 25) & 0x7F // only meaningful for shift-immediate variants
		in.Imm = signExtend(word>>20, 12)

	case OpcodeSType:
		in.Format = FormatS
		in.Funct3 = (word >> 12) & 0x7
		in.RS1 = (word >> 15) & 0x1F
		in.RS2 = (word >> 20) & 0x1F
		imm := ((word >> 25) << 5) | ((word >> 7) & 0x1F)
		in.Imm = signExtend(imm, 12)

	case OpcodeBranch:
		in.Format = FormatB
		in.Funct3 = (word >> 12) & 0x7
		in.RS1 = (word >> 15) & 0x1F
		in.RS2 = (word >> 20) & 0x1F
		bit31 := (word >> 31) & 0x1
		bit7 := (word >> 7) & 0x1
		bits30_25 := (word >> 25) & 0x3F
		bits11_8 := (word >> 8) & 0xF
		imm := (bit31 << 12) | (bit7 << 11) | (bits30_25 << 5) | (bits11_8 << 1)
		in.Imm = signExtend(imm, 13)

	case OpcodeLUI, OpcodeAUIPC:
		in.Format = FormatU
		in.RD = (word >> 7) & 0x1F
		in.Imm = word & 0xFFFFF000

	case OpcodeJAL:
		in.Format = FormatJ
		in.RD = (word >> 7) & 0x1F
		bit31 := (word >> 31) & 0x1
		bits19_12 := (word >> 12) & 0xFF
		bit20 := (word >> 20) & 0x1
		bits30_21 := (word >> 21) & 0x3FF
		imm := (bit31 << 20) | (bits19_12 << 12) | (bit20 << 11) | (bits30_21 << 1)
		in.Imm = signExtend(imm, 21)

	default:
		in.Format = FormatUnknown
	}

	return in
}
