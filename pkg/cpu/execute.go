package cpu

import "fmt"

// execute dispatches a decoded instruction fetched at address pc. It
// updates the register file and memory in place and sets c.PC to the
// next instruction address before returning. Dispatch is by format,
// then opcode, then funct3/funct7 where the format carries them.
func (c *CPU) execute(pc uint32, in Instruction) error {
	nextPC := pc + 4 // default next-PC rule; overridden by JAL/JALR/taken branch

	switch in.Format {
	case FormatR:
		if err := c.executeR(pc, in); err != nil {
			return err
		}

	case FormatI:
		switch in.Opcode {
		case OpcodeIType:
			if err := c.executeIArith(pc, in); err != nil {
				return err
			}
		case OpcodeLoad:
			if err := c.executeLoad(pc, in); err != nil {
				return err
			}
		case OpcodeJALR:
			target := (c.Regs.Read(in.RS1) + in.Imm) &^ 1
			c.Regs.Write(in.RD, pc+4)
			nextPC = target
		case OpcodeSystem:
			if err := c.executeSystem(pc, in); err != nil {
				return err
			}
		default:
			c.unknown(pc, fmt.Sprintf("unknown I-type opcode 0x%02x", in.Opcode))
		}

	case FormatS:
		if err := c.executeStore(pc, in); err != nil {
			return err
		}

	case FormatB:
		taken, err := c.branchTaken(pc, in)
		if err != nil {
			return err
		}
		if taken {
			nextPC = pc + in.Imm
		}

	case FormatU:
		switch in.Opcode {
		case OpcodeLUI:
			c.Regs.Write(in.RD, in.Imm)
		case OpcodeAUIPC:
			c.Regs.Write(in.RD, pc+in.Imm)
		}

	case FormatJ:
		if in.RD != 0 {
			c.Regs.Write(in.RD, pc+4)
		}
		nextPC = pc + in.Imm

	default:
		c.unknown(pc, fmt.Sprintf("unknown opcode 0x%02x", in.Opcode))
	}

	c.PC = nextPC
	return nil
}

// unknown reports a non-fatal diagnostic for an unrecognised opcode or
// sub-op. In strict mode this instead halts the machine.
func (c *CPU) unknown(pc uint32, message string) {
	d := &Diagnostic{PC: pc, Message: fmt.Sprintf("vm: at 0x%08x: %s", pc, message)}
	if c.strict {
		c.Halted = true
		return
	}
	c.diag(d)
}

func (c *CPU) executeR(pc uint32, in Instruction) error {
	a, b := c.Regs.Read(in.RS1), c.Regs.Read(in.RS2)
	switch in.Funct3 {
	case 0x0:
		switch in.Funct7 {
		case 0x00:
			c.Regs.Write(in.RD, a+b) // ADD, wraps mod 2^32
		case 0x20:
			c.Regs.Write(in.RD, a-b) // SUB, wraps mod 2^32
		default:
			c.unknown(pc, fmt.Sprintf("unknown R-type funct7 0x%02x for funct3 0x0", in.Funct7))
		}
	case 0x1:
		c.Regs.Write(in.RD, a<<(b&0x1F)) // SLL
	case 0x2:
		c.Regs.Write(in.RD, boolToWord(int32(a) < int32(b))) // SLT
	case 0x3:
		c.Regs.Write(in.RD, boolToWord(a < b)) // SLTU
	case 0x4:
		c.Regs.Write(in.RD, a^b) // XOR
	case 0x5:
		switch in.Funct7 {
		case 0x00:
			c.Regs.Write(in.RD, a>>(b&0x1F)) // SRL, logical
		case 0x20:
			c.Regs.Write(in.RD, uint32(int32(a)>>(b&0x1F))) // SRA, arithmetic
		default:
			c.unknown(pc, fmt.Sprintf("unknown R-type funct7 0x%02x for funct3 0x5", in.Funct7))
		}
	case 0x6:
		c.Regs.Write(in.RD, a|b) // OR
	case 0x7:
		c.Regs.Write(in.RD, a&b) // AND
	default:
		c.unknown(pc, fmt.Sprintf("unknown R-type funct3 0x%x", in.Funct3))
	}
	return nil
}

func (c *CPU) executeIArith(pc uint32, in Instruction) error {
	a := c.Regs.Read(in.RS1)
	switch in.Funct3 {
	case 0x0:
		c.Regs.Write(in.RD, a+in.Imm) // ADDI, wraps mod 2^32
	case 0x1:
		shamt := in.Raw >> 20 & 0x1F
		if in.Funct7 != 0x00 {
			c.unknown(pc, fmt.Sprintf("illegal SLLI funct7 0x%02x", in.Funct7))
			return nil
		}
		c.Regs.Write(in.RD, a<<shamt)
	case 0x2:
		c.Regs.Write(in.RD, boolToWord(int32(a) < int32(in.Imm))) // SLTI
	case 0x3:
		// SLTIU: the sign-extended immediate is compared as unsigned,
		// so SLTIU(x, -1) compares against 0xFFFFFFFF.
		c.Regs.Write(in.RD, boolToWord(a < in.Imm))
	case 0x4:
		c.Regs.Write(in.RD, a^in.Imm) // XORI
	case 0x5:
		shamt := in.Raw >> 20 & 0x1F
		switch (in.Raw >> 25) & 0x7F {
		case 0x00:
			c.Regs.Write(in.RD, a>>shamt) // SRLI
		case 0x20:
			c.Regs.Write(in.RD, uint32(int32(a)>>shamt)) // SRAI
		default:
			c.unknown(pc, fmt.Sprintf("illegal shift-immediate funct7 0x%02x", (in.Raw>>25)&0x7F))
		}
	case 0x6:
		c.Regs.Write(in.RD, a|in.Imm) // ORI
	case 0x7:
		c.Regs.Write(in.RD, a&in.Imm) // ANDI
	default:
		c.unknown(pc, fmt.Sprintf("unknown I-type arith funct3 0x%x", in.Funct3))
	}
	return nil
}

func (c *CPU) executeLoad(pc uint32, in Instruction) error {
	addr := c.Regs.Read(in.RS1) + in.Imm
	switch in.Funct3 {
	case 0x0: // LB
		v, err := c.Mem.ReadByte(addr)
		if err != nil {
			return err
		}
		c.Regs.Write(in.RD, signExtend(uint32(v), 8))
	case 0x1: // LH
		v, err := c.Mem.ReadHalf(addr)
		if err != nil {
			return err
		}
		c.Regs.Write(in.RD, signExtend(uint32(v), 16))
	case 0x2: // LW
		v, err := c.Mem.ReadWord(addr)
		if err != nil {
			return err
		}
		c.Regs.Write(in.RD, v)
	case 0x4: // LBU
		v, err := c.Mem.ReadByte(addr)
		if err != nil {
			return err
		}
		c.Regs.Write(in.RD, uint32(v))
	case 0x5: // LHU
		v, err := c.Mem.ReadHalf(addr)
		if err != nil {
			return err
		}
		c.Regs.Write(in.RD, uint32(v))
	default:
		c.unknown(pc, fmt.Sprintf("unknown load funct3 0x%x", in.Funct3))
	}
	return nil
}

func (c *CPU) executeStore(pc uint32, in Instruction) error {
	addr := c.Regs.Read(in.RS1) + in.Imm
	v := c.Regs.Read(in.RS2)
	switch in.Funct3 {
	case 0x0: // SB
		return c.Mem.WriteByte(addr, v)
	case 0x1: // SH
		return c.Mem.WriteHalf(addr, v)
	case 0x2: // SW
		return c.Mem.WriteWord(addr, v)
	default:
		c.unknown(pc, fmt.Sprintf("unknown store funct3 0x%x", in.Funct3))
		return nil
	}
}

func (c *CPU) branchTaken(pc uint32, in Instruction) (bool, error) {
	a, b := c.Regs.Read(in.RS1), c.Regs.Read(in.RS2)
	switch in.Funct3 {
	case 0x0:
		return a == b, nil // BEQ
	case 0x1:
		return a != b, nil // BNE
	case 0x4:
		return int32(a) < int32(b), nil // BLT
	case 0x5:
		return int32(a) >= int32(b), nil // BGE
	case 0x6:
		return a < b, nil // BLTU
	case 0x7:
		return a >= b, nil // BGEU
	default:
		c.unknown(pc, fmt.Sprintf("unknown branch funct3 0x%x", in.Funct3))
		return false, nil
	}
}

// executeSystem handles the I-type opcode 0x73 (ECALL). The service
// selector is register 17 (a7). An unrecognised service number is a
// diagnostic; execution continues with PC advanced by 4.
func (c *CPU) executeSystem(pc uint32, in Instruction) error {
	a7 := c.Regs.Read(RegA7)
	svc, ok := c.envCalls[a7]
	if !ok {
		c.unknown(pc, fmt.Sprintf("unknown ECALL service a7=%d", a7))
		return nil
	}
	return svc.Handle(c)
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
