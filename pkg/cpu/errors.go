package cpu

import "errors"

// ErrHalted indicates the program executed a halting ECALL. A strict-mode
// halt on an unrecognised opcode/funct3/funct7/ECALL service is instead
// signalled by c.Halted becoming true with Step returning a nil error,
// since the offending instruction isn't itself a fault: see WithStrictMode.
var ErrHalted = errors.New("vm: halted")

// Diagnostic describes a non-fatal runtime anomaly: an unknown opcode,
// unknown funct3/funct7 combination, or unknown ECALL service number.
// Per the permissive default policy, the instruction that produced a
// Diagnostic is treated as a no-op and PC still advances by 4.
type Diagnostic struct {
	PC      uint32
	Message string
}

// Error implements the error interface.
func (d *Diagnostic) Error() string {
	return d.Message
}
