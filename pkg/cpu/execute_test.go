package cpu

import (
	"bytes"
	"testing"
)

func loadAndRunUntilHalt(t *testing.T, c *CPU, words []uint32, maxSteps int) error {
	t.Helper()
	buf := wordsToBytes(words)
	if err := c.Mem.LoadImage(buf); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	var err error
	for i := 0; i < maxSteps; i++ {
		if c.PC >= uint32(len(buf)) {
			return nil // PC-out-of-bounds halt
		}
		err = c.Step()
		if err != nil {
			return err
		}
	}
	t.Fatalf("did not halt within %d steps", maxSteps)
	return nil
}

// encodeR/encodeI/encodeS/encodeB/encodeJ are minimal raw-word
// builders used only by tests, independent of the adapted assembler.

func encodeR(opcode, funct3, funct7, rd, rs1, rs2 uint32) uint32 {
	var w uint32
	w |= opcode & 0x7F
	w |= (rd & 0x1F) << 7
	w |= (funct3 & 0x7) << 12
	w |= (rs1 & 0x1F) << 15
	w |= (rs2 & 0x1F) << 20
	w |= (funct7 & 0x7F) << 25
	return w
}

func encodeI(opcode, funct3, rd, rs1 uint32, imm int32) uint32 {
	var w uint32
	w |= opcode & 0x7F
	w |= (rd & 0x1F) << 7
	w |= (funct3 & 0x7) << 12
	w |= (rs1 & 0x1F) << 15
	w |= (uint32(imm) & 0xFFF) << 20
	return w
}

func encodeS(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm) & 0xFFF
	var w uint32
	w |= opcode & 0x7F
	w |= (u & 0x1F) << 7
	w |= (funct3 & 0x7) << 12
	w |= (rs1 & 0x1F) << 15
	w |= (rs2 & 0x1F) << 20
	w |= (u >> 5) << 25
	return w
}

func encodeB(funct3, rs1, rs2 uint32, offset int32) uint32 {
	return encodeBTypeForTest(OpcodeBranch, funct3, rs1, rs2, offset)
}

func encodeJ(rd uint32, offset int32) uint32 {
	return encodeJTypeForTest(OpcodeJAL, rd, offset)
}

func TestThreeInstructionAddition(t *testing.T) {
	c := New()
	words := []uint32{
		encodeI(OpcodeIType, 0x0, 1, 0, 2), // addi x1, x0, 2
		encodeI(OpcodeIType, 0x0, 2, 0, 3), // addi x2, x0, 3
		encodeR(OpcodeRType, 0x0, 0x00, 3, 1, 2), // add x3, x1, x2
	}
	if err := loadAndRunUntilHalt(t, c, words, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.PC != 12 {
		t.Fatalf("expected PC 12, got %d", c.PC)
	}
	if c.Regs.Read(1) != 2 || c.Regs.Read(2) != 3 || c.Regs.Read(3) != 5 {
		t.Fatalf("unexpected registers: x1=%d x2=%d x3=%d", c.Regs.Read(1), c.Regs.Read(2), c.Regs.Read(3))
	}
	for i := uint32(4); i < NumRegisters; i++ {
		if c.Regs.Read(i) != 0 {
			t.Fatalf("expected x%d == 0, got %d", i, c.Regs.Read(i))
		}
	}
}

func TestUnsignedCompare(t *testing.T) {
	c := New()
	words := []uint32{
		encodeI(OpcodeIType, 0x0, 1, 0, -1), // addi x1, x0, -1
		encodeI(OpcodeIType, 0x0, 2, 0, 1),  // addi x2, x0, 1
		encodeR(OpcodeRType, 0x3, 0x00, 3, 1, 2), // sltu x3, x1, x2
	}
	if err := loadAndRunUntilHalt(t, c, words, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Regs.Read(3) != 0 {
		t.Fatalf("expected x3 == 0 (0xFFFFFFFF > 1 unsigned), got %d", c.Regs.Read(3))
	}
}

func TestBackwardBranchLoop(t *testing.T) {
	c := New()
	words := []uint32{
		encodeI(OpcodeIType, 0x0, 1, 0, 3),  // addi x1, x0, 3
		encodeI(OpcodeIType, 0x0, 1, 1, -1), // addi x1, x1, -1
		encodeB(0x1, 1, 0, -4),              // bne x1, x0, -4
	}
	if err := loadAndRunUntilHalt(t, c, words, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Regs.Read(1) != 0 {
		t.Fatalf("expected x1 == 0, got %d", c.Regs.Read(1))
	}
	if c.PC != 12 {
		t.Fatalf("expected halt via PC-out-of-bounds at 12, got %d", c.PC)
	}
}

func TestJALLinkAndReturn(t *testing.T) {
	var stdout bytes.Buffer
	c := New(WithStdout(&stdout))
	prog := []uint32{
		encodeJ(1, 8),                        // 0: jal x1, +8
		encodeI(OpcodeIType, 0x0, 31, 0, 0),   // 4: skipped by the jump
		encodeI(OpcodeSystem, 0x0, 0, 0, 0),   // 8: ecall (a7 must be 10)
	}
	// a7 is set directly so the jump target's ecall halts cleanly
	// without needing an extra instruction to load it.
	c.Regs.Write(RegA7, ServiceExit)
	if err := loadAndRunUntilHalt(t, c, prog, 10); err == nil {
		t.Fatalf("expected ErrHalted")
	} else if err != ErrHalted {
		t.Fatalf("expected ErrHalted, got %v", err)
	}
	if c.Regs.Read(1) != 4 {
		t.Fatalf("expected x1 == 4 (link value), got %d", c.Regs.Read(1))
	}
	// Fetch has already advanced PC past the halting ecall at 8.
	if c.PC != 12 {
		t.Fatalf("expected PC 12 after the halting ecall at 8, got %d", c.PC)
	}
}

func TestPrintStringECALL(t *testing.T) {
	var stdout bytes.Buffer
	c := New(WithStdout(&stdout))
	// Place "Hi\0" at 0x100.
	if err := c.Mem.WriteByte(0x100, 'H'); err != nil {
		t.Fatal(err)
	}
	if err := c.Mem.WriteByte(0x101, 'i'); err != nil {
		t.Fatal(err)
	}
	if err := c.Mem.WriteByte(0x102, 0); err != nil {
		t.Fatal(err)
	}
	c.Regs.Write(RegA0, 0x100)
	c.Regs.Write(RegA7, ServicePrintString)
	prog := []uint32{
		encodeI(OpcodeSystem, 0x0, 0, 0, 0), // ecall (print string)
		encodeI(OpcodeSystem, 0x0, 0, 0, 0), // ecall (exit)
	}
	if err := c.Mem.LoadImage(wordsToBytes(prog)); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("unexpected error on print-string ecall: %v", err)
	}
	if stdout.String() != "Hi" {
		t.Fatalf("expected stdout %q, got %q", "Hi", stdout.String())
	}
	c.Regs.Write(RegA7, ServiceExit)
	if err := c.Step(); err != ErrHalted {
		t.Fatalf("expected ErrHalted, got %v", err)
	}
}

func TestLoadStoreRoundTrip(t *testing.T) {
	c := New()
	c.Regs.Write(2, 0x200) // x2 pre-loaded to a valid aligned address
	prog := []uint32{
		encodeI(OpcodeIType, 0x0, 1, 0, 0x123),  // addi x1, x0, 0x123
		encodeS(OpcodeSType, 0x2, 2, 1, 0),      // sw x1, 0(x2)
		encodeI(OpcodeLoad, 0x2, 3, 2, 0),       // lw x3, 0(x2)
	}
	if err := loadAndRunUntilHalt(t, c, prog, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Regs.Read(3) != 0x123 {
		t.Fatalf("expected x3 == 0x123, got 0x%x", c.Regs.Read(3))
	}
}

func TestSRAPreservesSign(t *testing.T) {
	c := New()
	c.Regs.Write(1, 0x80000000) // negative in two's complement
	c.Regs.Write(2, 4)
	prog := []uint32{encodeR(OpcodeRType, 0x5, 0x20, 3, 1, 2)} // sra x3, x1, x2
	if err := c.Mem.LoadImage(wordsToBytes(prog)); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Regs.Read(3)&0x80000000 == 0 {
		t.Fatalf("expected sign bit preserved, got 0x%x", c.Regs.Read(3))
	}
}

func TestSRLDoesNotPreserveSign(t *testing.T) {
	c := New()
	c.Regs.Write(1, 0x80000000)
	c.Regs.Write(2, 4)
	prog := []uint32{encodeR(OpcodeRType, 0x5, 0x00, 3, 1, 2)} // srl x3, x1, x2
	if err := c.Mem.LoadImage(wordsToBytes(prog)); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Regs.Read(3) != 0x08000000 {
		t.Fatalf("expected 0x08000000, got 0x%x", c.Regs.Read(3))
	}
}

func TestSLTIUComparesAgainstMaxUnsigned(t *testing.T) {
	c := New()
	c.Regs.Write(1, 0xFFFFFFFF)
	prog := []uint32{encodeI(OpcodeIType, 0x3, 2, 1, -1)} // sltiu x2, x1, -1
	if err := c.Mem.LoadImage(wordsToBytes(prog)); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Regs.Read(2) != 0 {
		t.Fatalf("expected x2 == 0 (x1 == 0xFFFFFFFF), got %d", c.Regs.Read(2))
	}

	c2 := New()
	c2.Regs.Write(1, 0x1)
	if err := c2.Mem.LoadImage(wordsToBytes(prog)); err != nil {
		t.Fatal(err)
	}
	if err := c2.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c2.Regs.Read(2) != 1 {
		t.Fatalf("expected x2 == 1 (x1 != 0xFFFFFFFF), got %d", c2.Regs.Read(2))
	}
}

func TestJALRClearsLowBit(t *testing.T) {
	c := New()
	c.Regs.Write(1, 0x1001) // odd address
	prog := []uint32{encodeI(OpcodeJALR, 0x0, 5, 1, 0)} // jalr x5, 0(x1)
	if err := c.Mem.LoadImage(wordsToBytes(prog)); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.PC != 0x1000 {
		t.Fatalf("expected target with low bit cleared 0x1000, got 0x%x", c.PC)
	}
	if c.Regs.Read(5) != 4 {
		t.Fatalf("expected link value 4, got %d", c.Regs.Read(5))
	}
}

func TestFetchRejectsMisalignedPC(t *testing.T) {
	c := New()
	c.Regs.Write(1, 0x1002) // low bit already clear, but PC%4 != 0
	prog := []uint32{encodeI(OpcodeJALR, 0x0, 5, 1, 0)} // jalr x5, 0(x1)
	if err := c.Mem.LoadImage(wordsToBytes(prog)); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("unexpected error on the jump itself: %v", err)
	}
	if c.PC != 0x1002 {
		t.Fatalf("expected PC 0x1002, got 0x%x", c.PC)
	}
	if err := c.Step(); err == nil {
		t.Fatal("expected a fatal error fetching at a misaligned PC")
	} else if _, ok := err.(*MisalignedPCError); !ok {
		t.Fatalf("expected *MisalignedPCError, got %T: %v", err, err)
	}
}

func TestJALSuppressesX0Write(t *testing.T) {
	c := New()
	prog := []uint32{encodeJ(0, 8)} // jal x0, +8
	if err := c.Mem.LoadImage(wordsToBytes(prog)); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Regs.Read(0) != 0 {
		t.Fatalf("expected x0 to remain 0, got %d", c.Regs.Read(0))
	}
}

func TestShiftUsesOnlyLow5Bits(t *testing.T) {
	c := New()
	c.Regs.Write(1, 1)
	c.Regs.Write(2, 0x21) // 33 decimal; low 5 bits == 1
	prog := []uint32{encodeR(OpcodeRType, 0x1, 0x00, 3, 1, 2)} // sll x3, x1, x2
	if err := c.Mem.LoadImage(wordsToBytes(prog)); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Regs.Read(3) != 2 {
		t.Fatalf("expected x3 == 2 (shift amount masked to 1), got %d", c.Regs.Read(3))
	}
}

func TestStrictModeHaltsOnUnknownOpcode(t *testing.T) {
	c := New(WithStrictMode(true))
	prog := []uint32{0x7F} // opcode 0x7F is unrecognised
	if err := c.Mem.LoadImage(wordsToBytes(prog)); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("Step itself does not return an error for strict halts: %v", err)
	}
	if !c.Halted {
		t.Fatal("expected c.Halted == true in strict mode after unknown opcode")
	}
}

func TestPermissiveModeContinuesOnUnknownOpcode(t *testing.T) {
	var diags []string
	c := New(WithDiagnostics(func(d *Diagnostic) { diags = append(diags, d.Error()) }))
	prog := []uint32{0x7F, encodeI(OpcodeIType, 0x0, 1, 0, 5)}
	if err := c.Mem.LoadImage(wordsToBytes(prog)); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.PC != 4 {
		t.Fatalf("expected PC to advance by 4 after unknown opcode, got %d", c.PC)
	}
	if len(diags) != 1 {
		t.Fatalf("expected one diagnostic, got %d", len(diags))
	}
	if err := c.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Regs.Read(1) != 5 {
		t.Fatalf("expected execution to continue, x1 == 5, got %d", c.Regs.Read(1))
	}
}

func wordsToBytes(words []uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		buf[i*4+0] = byte(w)
		buf[i*4+1] = byte(w >> 8)
		buf[i*4+2] = byte(w >> 16)
		buf[i*4+3] = byte(w >> 24)
	}
	return buf
}
