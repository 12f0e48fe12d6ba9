package cpu

import (
	"encoding/binary"
	"fmt"
)

// MemorySize is the default memory size in bytes.
const MemorySize = 1 << 20 // 1,048,576 bytes

// BusError indicates an out-of-range memory access. It carries the
// offending address and access width so diagnostics can name the fault.
type BusError struct {
	Addr  uint32
	Width uint32
}

// Error implements the error interface.
func (e *BusError) Error() string {
	return fmt.Sprintf("vm: bus error: address 0x%08x width %d is out of range", e.Addr, e.Width)
}

// Memory is a fixed-size flat byte array supporting little-endian
// byte/half/word reads and writes. Unaligned accesses are permitted;
// RV32I does not forbid them and this simulator simply issues the
// component byte reads/writes.
type Memory struct {
	bytes []byte
}

// NewMemory allocates a zero-initialised memory of the given size.
func NewMemory(size uint32) *Memory {
	return &Memory{bytes: make([]byte, size)}
}

// Size returns the memory size in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.bytes))
}

func (m *Memory) bounds(addr, width uint32) error {
	if addr > uint32(len(m.bytes)) || uint64(addr)+uint64(width) > uint64(len(m.bytes)) {
		return &BusError{Addr: addr, Width: width}
	}
	return nil
}

// ReadByte reads a single byte at addr.
func (m *Memory) ReadByte(addr uint32) (uint8, error) {
	if err := m.bounds(addr, 1); err != nil {
		return 0, err
	}
	return m.bytes[addr], nil
}

// WriteByte writes the low 8 bits of v at addr.
func (m *Memory) WriteByte(addr uint32, v uint32) error {
	if err := m.bounds(addr, 1); err != nil {
		return err
	}
	m.bytes[addr] = byte(v)
	return nil
}

// ReadHalf reads a little-endian 16-bit halfword at addr.
func (m *Memory) ReadHalf(addr uint32) (uint16, error) {
	if err := m.bounds(addr, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.bytes[addr:]), nil
}

// WriteHalf writes the low 16 bits of v as a little-endian halfword at addr.
func (m *Memory) WriteHalf(addr uint32, v uint32) error {
	if err := m.bounds(addr, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.bytes[addr:], uint16(v))
	return nil
}

// ReadWord reads a little-endian 32-bit word at addr.
func (m *Memory) ReadWord(addr uint32) (uint32, error) {
	if err := m.bounds(addr, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.bytes[addr:]), nil
}

// WriteWord writes v as a little-endian word at addr.
func (m *Memory) WriteWord(addr uint32, v uint32) error {
	if err := m.bounds(addr, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.bytes[addr:], v)
	return nil
}

// LoadImage copies program starting at address 0. It fails if the
// image does not fit in memory.
func (m *Memory) LoadImage(program []byte) error {
	if uint64(len(program)) > uint64(len(m.bytes)) {
		return fmt.Errorf("vm: program of %d bytes exceeds memory size %d", len(program), len(m.bytes))
	}
	copy(m.bytes, program)
	return nil
}

// Bytes returns the raw backing array. Callers must not retain it
// beyond the lifetime of a single inspection.
func (m *Memory) Bytes() []byte {
	return m.bytes
}
