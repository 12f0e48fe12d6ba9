package cpu

import (
	"fmt"
	"io"
	"strconv"
)

// Service numbers for the environment-call ABI, selected by a7 (x17).
const (
	ServicePrintInt    = 1
	ServicePrintString = 4
	ServiceExit        = 10
	ServiceExitCode    = 93
)

// EnvCall is a single environment-call service. Handle may mutate the
// CPU (halt it, record an exit code) and perform I/O. A halting
// service returns ErrHalted; any other error (such as the *BusError
// print-string returns when the string runs off the end of memory) is
// passed back by Step as a fatal condition.
type EnvCall interface {
	Handle(c *CPU) error
}

// EnvCallRegistry maps a7 service numbers to their EnvCall
// implementation, mirroring a small handler registry rather than a
// bare switch, so individual services are substitutable in tests
// (e.g. to capture printed output without touching os.Stdout).
type EnvCallRegistry map[uint32]EnvCall

// NewDefaultEnvCallRegistry returns the registry implementing the
// four services defined by this spec's minimal ABI, writing console
// output to stdout.
func NewDefaultEnvCallRegistry(stdout io.Writer) EnvCallRegistry {
	return EnvCallRegistry{
		ServicePrintInt:    printIntCall{stdout: stdout},
		ServicePrintString: printStringCall{stdout: stdout},
		ServiceExit:        exitCall{},
		ServiceExitCode:    exitCodeCall{},
	}
}

type printIntCall struct{ stdout io.Writer }

func (s printIntCall) Handle(c *CPU) error {
	v := int32(c.Regs.Read(RegA0))
	fmt.Fprint(s.stdout, strconv.FormatInt(int64(v), 10))
	return nil
}

type printStringCall struct{ stdout io.Writer }

func (s printStringCall) Handle(c *CPU) error {
	addr := c.Regs.Read(RegA0)
	for {
		b, err := c.Mem.ReadByte(addr)
		if err != nil {
			return err
		}
		if b == 0 {
			break
		}
		fmt.Fprintf(s.stdout, "%c", b)
		addr++
	}
	return nil
}

type exitCall struct{}

func (exitCall) Handle(c *CPU) error {
	c.Halted = true
	return ErrHalted
}

type exitCodeCall struct{}

func (exitCodeCall) Handle(c *CPU) error {
	c.Halted = true
	c.ExitCode = int32(c.Regs.Read(RegA0))
	return ErrHalted
}
