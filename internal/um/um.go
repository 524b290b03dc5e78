// Package um implements the UM-32 execution core: eight registers, a
// program counter, and the fetch-decode-execute loop that binds the
// instruction decoder to the segmented memory store.
package um

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sitararao/um32/internal/decode"
	"github.com/sitararao/um32/internal/segment"
)

// Outcome reports how a run ended.
type Outcome int

const (
	// Halted means the run stopped without cancellation: on HALT when the
	// accompanying error is nil, on a fail-stop fault otherwise.
	Halted Outcome = iota
	// Cancelled means the run was stopped via context cancellation.
	Cancelled
)

// Sentinel error kinds; ProgramFault, HostError and ResourceError are
// wrapped with PC/opcode context via fmt.Errorf("%w", ...) before being
// returned from Run/Step.
var (
	ErrIllegalInstruction = errors.New("illegal instruction")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrOutOfRange         = errors.New("output value exceeds one byte")
	ErrPCOverrun          = errors.New("program counter ran past end of segment 0")
)

const numRegisters = 8

// Machine is the UM-32 execution core: registers, PC, and a bound segment
// store. It is single-threaded and non-reentrant (spec §5) — callers must
// not call Run/Step concurrently on the same Machine.
type Machine struct {
	registers [numRegisters]uint32
	pc        uint32

	store *segment.Store

	stdin  *bufio.Reader
	stdout *bufio.Writer

	eof bool
}

// New constructs a Machine bound to store, reading IN bytes from in and
// writing OUT bytes to out.
func New(store *segment.Store, in io.Reader, out io.Writer) *Machine {
	return &Machine{
		store:  store,
		stdin:  bufio.NewReader(in),
		stdout: bufio.NewWriter(out),
	}
}

// PC returns the current program counter, mostly useful to debuggers.
func (m *Machine) PC() uint32 { return m.pc }

// Flush writes any OUT bytes still sitting in the output buffer. Run does
// this itself on every return path; callers driving the machine one Step
// at a time (the step debugger) must call it explicitly before exiting.
func (m *Machine) Flush() error {
	return m.stdout.Flush()
}

// Registers returns a copy of the register file, mostly useful to
// debuggers and tests.
func (m *Machine) Registers() [numRegisters]uint32 { return m.registers }

// Run executes instructions until HALT, a fail-stop ProgramFault/HostError,
// or ctx is cancelled. It flushes stdout before returning in every case.
func (m *Machine) Run(ctx context.Context) (Outcome, error) {
	defer m.stdout.Flush()

	for {
		select {
		case <-ctx.Done():
			return Cancelled, ctx.Err()
		default:
		}

		halted, err := m.Step()
		if err != nil {
			return Halted, err
		}
		if halted {
			return Halted, nil
		}
	}
}

// Step performs one fetch-decode-execute cycle. It reports halted == true
// when the instruction just executed was HALT, and returns a wrapped
// ProgramFault/HostError/ResourceError on any precondition violation.
func (m *Machine) Step() (halted bool, err error) {
	if m.pc >= m.store.ProgramLen() {
		return false, fmt.Errorf("%w at pc=%d", ErrPCOverrun, m.pc)
	}

	word, ferr := m.store.Fetch(m.pc)
	if ferr != nil {
		return false, m.fault(ferr)
	}

	instr := decode.Decode(word)
	nextPC := m.pc + 1

	switch instr.Op {
	case decode.CMOV:
		if m.registers[instr.C] != 0 {
			m.registers[instr.A] = m.registers[instr.B]
		}

	case decode.SLOAD:
		value, err := m.store.Load(m.registers[instr.B], m.registers[instr.C])
		if err != nil {
			return false, m.fault(err)
		}
		m.registers[instr.A] = value

	case decode.SSTORE:
		if err := m.store.StoreWord(m.registers[instr.A], m.registers[instr.B], m.registers[instr.C]); err != nil {
			return false, m.fault(err)
		}

	case decode.ADD:
		m.registers[instr.A] = m.registers[instr.B] + m.registers[instr.C]

	case decode.MUL:
		m.registers[instr.A] = m.registers[instr.B] * m.registers[instr.C]

	case decode.DIV:
		if m.registers[instr.C] == 0 {
			return false, m.fault(ErrDivisionByZero)
		}
		m.registers[instr.A] = m.registers[instr.B] / m.registers[instr.C]

	case decode.NAND:
		m.registers[instr.A] = ^(m.registers[instr.B] & m.registers[instr.C])

	case decode.HALT:
		return true, nil

	case decode.MAP:
		id, err := m.store.Map(m.registers[instr.C])
		if err != nil {
			return false, m.fault(err)
		}
		m.registers[instr.B] = id

	case decode.UNMAP:
		if err := m.store.Unmap(m.registers[instr.C]); err != nil {
			return false, m.fault(err)
		}

	case decode.OUT:
		value := m.registers[instr.C]
		if value > 255 {
			return false, m.fault(ErrOutOfRange)
		}
		if err := m.stdout.WriteByte(byte(value)); err != nil {
			return false, m.fault(fmt.Errorf("host write: %w", err))
		}

	case decode.IN:
		b, err := m.readByte()
		if err != nil {
			return false, m.fault(fmt.Errorf("host read: %w", err))
		}
		m.registers[instr.C] = b

	case decode.LOADP:
		if err := m.store.CloneToZero(m.registers[instr.B]); err != nil {
			return false, m.fault(err)
		}
		nextPC = m.registers[instr.C]

	case decode.LV:
		m.registers[instr.A] = instr.Value

	default:
		return false, m.fault(fmt.Errorf("%w: opcode %d", ErrIllegalInstruction, instr.Op))
	}

	m.pc = nextPC
	return false, nil
}

// readByte reads one byte from stdin. Once EOF is seen it persists: every
// subsequent IN returns the all-ones sentinel (spec §6).
func (m *Machine) readByte() (uint32, error) {
	if m.eof {
		return 0xFFFFFFFF, nil
	}

	b, err := m.stdin.ReadByte()
	if err == io.EOF {
		m.eof = true
		return 0xFFFFFFFF, nil
	}
	if err != nil {
		return 0, err
	}
	return uint32(b), nil
}

// fault wraps a lower-layer error with the PC and decoded-instruction
// context required by spec §7.
func (m *Machine) fault(cause error) error {
	word, ferr := m.store.Fetch(m.pc)
	if ferr != nil {
		return fmt.Errorf("%w at pc=%d", cause, m.pc)
	}
	return fmt.Errorf("%w at pc=%d instr=%s", cause, m.pc, decode.Decode(word))
}
