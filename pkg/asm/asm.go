package asm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// InstructionOrError carries either one assembled 32-bit word or the
// error that prevented its assembly, tagged with its source line for
// diagnostics.
type InstructionOrError struct {
	Instruction uint32
	Error       error
	Lineno      int
}

// StartAssembler starts the assembler in a background goroutine and
// returns a channel of InstructionOrError, one per non-label-only
// source line, in program order.
func StartAssembler(r io.Reader) <-chan InstructionOrError {
	out := make(chan InstructionOrError)
	go AssemblerAsync(r, out)
	return out
}

// AssemblerAsync runs the two-pass assembler: the first pass resolves
// every label to its byte address, the second pass encodes each
// instruction against the completed label table. It reads source
// lines from r and writes one InstructionOrError per emitted word to
// out, closing out when done.
func AssemblerAsync(r io.Reader, out chan<- InstructionOrError) {
	defer close(out)

	var instructions []Instruction
	var pcs []uint32
	labels := make(map[string]int64)
	var pc uint32

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		instr, err := ParseLine(scanner.Text(), lineno)
		if err != nil {
			out <- InstructionOrError{Error: err, Lineno: lineno}
			return
		}
		if instr == nil {
			continue
		}
		if _, labelOnly := instr.(instructionLabelOnly); labelOnly {
			labels[*instr.Label()] = int64(pc)
			continue
		}
		if instr.Label() != nil {
			labels[*instr.Label()] = int64(pc)
		}
		instructions = append(instructions, instr)
		pcs = append(pcs, pc)
		if pc > math.MaxUint32-4 {
			out <- InstructionOrError{Error: ErrTooManyInstructions, Lineno: lineno}
			return
		}
		pc += 4
	}
	if err := scanner.Err(); err != nil {
		out <- InstructionOrError{Error: fmt.Errorf("asm: %w", err), Lineno: lineno}
		return
	}

	for i, instr := range instructions {
		word, err := instr.Encode(labels, pcs[i])
		if err != nil {
			out <- InstructionOrError{Error: err, Lineno: instr.Line()}
			continue
		}
		out <- InstructionOrError{Instruction: word, Lineno: instr.Line()}
	}
}

// Assemble drains StartAssembler synchronously into a flat program
// image: each word is appended little-endian, matching the byte
// layout pkg/cpu's Memory expects. The channel is always drained to
// completion so the assembler goroutine never blocks sending to a
// reader that has stopped listening; the first error encountered is
// returned once draining finishes.
func Assemble(r io.Reader) ([]byte, error) {
	var buf []byte
	var firstErr error
	for ioe := range StartAssembler(r) {
		if ioe.Error != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("line %d: %w", ioe.Lineno, ioe.Error)
			}
			continue
		}
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], ioe.Instruction)
		buf = append(buf, word[:]...)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return buf, nil
}
