package um

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/sitararao/um32/internal/decode"
	"github.com/sitararao/um32/internal/segment"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// threeReg and lv assemble the two UM-32 instruction shapes into a word, the
// inverse of decode.Decode. Kept local to the test file: production code
// only ever decodes, it never needs to encode.
func threeReg(op decode.Op, a, b, c uint32) uint32 {
	return uint32(op)<<28 | a<<6 | b<<3 | c
}

func lv(a, value uint32) uint32 {
	return uint32(decode.LV)<<28 | a<<25 | (value & ((1 << 25) - 1))
}

func assemble(words ...uint32) *bytes.Reader {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint32(buf[i*4:], w)
	}
	return bytes.NewReader(buf)
}

func newMachine(t *testing.T, in string, words ...uint32) (*Machine, *bytes.Buffer) {
	t.Helper()
	store := segment.New()
	assert(t, store.LoadProgram(assemble(words...)) == nil, "LoadProgram failed")
	out := &bytes.Buffer{}
	return New(store, strings.NewReader(in), out), out
}

func runAndExpect(t *testing.T, m *Machine, wantErr error) {
	t.Helper()
	_, err := m.Run(context.Background())
	if wantErr == nil {
		assert(t, err == nil, "unexpected run error: %v", err)
		return
	}
	assert(t, errors.Is(err, wantErr), "got error %v, want %v", err, wantErr)
}

func TestHaltOnly(t *testing.T) {
	m, _ := newMachine(t, "", threeReg(decode.HALT, 0, 0, 0))
	runAndExpect(t, m, nil)
	assert(t, m.PC() == 0, "got PC=%d after halt, want 0 (PC not advanced past HALT)", m.PC())
}

func TestHelloWorld(t *testing.T) {
	// r0 := 'H'; out r0; r0 := 'i'; out r0; r0 := '\n'; out r0; halt
	m, out := newMachine(t, "",
		lv(0, 'H'),
		threeReg(decode.OUT, 0, 0, 0),
		lv(0, 'i'),
		threeReg(decode.OUT, 0, 0, 0),
		lv(0, '\n'),
		threeReg(decode.OUT, 0, 0, 0),
		threeReg(decode.HALT, 0, 0, 0),
	)
	runAndExpect(t, m, nil)
	assert(t, out.String() == "Hi\n", "got output %q, want %q", out.String(), "Hi\n")
}

func TestAddAndOutput(t *testing.T) {
	// r1 := 2; r2 := 3; r0 := r1 + r2; out r0; halt
	m, out := newMachine(t, "",
		lv(1, 2),
		lv(2, 3),
		threeReg(decode.ADD, 0, 1, 2),
		threeReg(decode.OUT, 0, 0, 0),
		threeReg(decode.HALT, 0, 0, 0),
	)
	runAndExpect(t, m, nil)
	assert(t, out.Bytes()[0] == 5, "got byte %d, want 5", out.Bytes()[0])
}

func TestAddWrapsModulo2to32(t *testing.T) {
	// r1 starts at 0; NAND r1,r1,r1 = ^(0 & 0) = 0xFFFFFFFF. Adding 2 must
	// wrap around to 1 rather than overflow into a wider type.
	m, out := newMachine(t, "",
		threeReg(decode.NAND, 1, 1, 1), // r1 = 0xFFFFFFFF
		lv(2, 2),
		threeReg(decode.ADD, 0, 1, 2), // r0 = 0xFFFFFFFF + 2, wraps to 1
		threeReg(decode.OUT, 0, 0, 0),
		threeReg(decode.HALT, 0, 0, 0),
	)
	runAndExpect(t, m, nil)
	assert(t, out.Bytes()[0] == 1, "got byte %d, want 1 (wrapped sum)", out.Bytes()[0])
}

func TestMapStoreLoadRoundTrip(t *testing.T) {
	// r1 := 4 (segment size); map r2, r1; r3 := 123; sstore r2, [0], r3;
	// sload r0, r2, [0]; out r0; halt
	m, out := newMachine(t, "",
		lv(1, 4),
		threeReg(decode.MAP, 0, 2, 1),
		lv(3, 123),
		lv(4, 0),
		threeReg(decode.SSTORE, 2, 4, 3),
		threeReg(decode.SLOAD, 0, 2, 4),
		threeReg(decode.OUT, 0, 0, 0),
		threeReg(decode.HALT, 0, 0, 0),
	)
	runAndExpect(t, m, nil)
	assert(t, out.Bytes()[0] == 123, "got byte %d, want 123", out.Bytes()[0])
}

func TestLoadpSelfModification(t *testing.T) {
	// Replacement program that will become the new segment 0:
	// lv r0, 'A'; out r0; halt.
	replacement := []uint32{
		lv(0, 'A'),
		threeReg(decode.OUT, 0, 0, 0),
		threeReg(decode.HALT, 0, 0, 0),
	}

	store := segment.New()
	assert(t, store.LoadProgram(assemble(
		lv(1, uint32(len(replacement))), // pc 0: r1 := replacement length
		threeReg(decode.MAP, 0, 2, 1),   // pc 1: r2 := new segment id
		threeReg(decode.LOADP, 0, 2, 4), // pc 2: clone segment r2 to 0, jump to r4 (0)
	)) == nil, "LoadProgram failed")

	out := &bytes.Buffer{}
	m := New(store, strings.NewReader(""), out)

	halted, err := m.Step() // lv r1, len(replacement)
	assert(t, err == nil && !halted, "step 1 failed: %v", err)
	halted, err = m.Step() // map r2, r1
	assert(t, err == nil && !halted, "step 2 failed: %v", err)

	seg2 := m.Registers()[2]
	for i, w := range replacement {
		assert(t, store.StoreWord(seg2, uint32(i), w) == nil, "priming segment %d failed", seg2)
	}

	halted, err = m.Step() // loadp r2, r4 (r4 defaults to 0)
	assert(t, err == nil && !halted, "loadp step failed: %v", err)
	assert(t, m.PC() == 0, "got PC=%d after loadp, want 0", m.PC())

	outcome, err := m.Run(context.Background())
	assert(t, err == nil, "run after loadp failed: %v", err)
	assert(t, outcome == Halted, "got outcome %v, want Halted", outcome)
	assert(t, out.String() == "A", "got output %q, want %q", out.String(), "A")
}

func TestInputEchoUntilEOF(t *testing.T) {
	// in r0; out r0 (three times); in r1; in r2; halt.
	// Kept simple: read exactly 3 known bytes then confirm sentinel repeats
	// after EOF rather than encoding a branch (UM-32 has no branch opcode
	// other than CMOV-based tricks; three IN/OUT pairs plus two direct IN
	// reads past EOF is enough to exercise the sentinel-persistence rule).
	m, out := newMachine(t, "xyz",
		threeReg(decode.IN, 0, 0, 0),
		threeReg(decode.OUT, 0, 0, 0),
		threeReg(decode.IN, 0, 0, 0),
		threeReg(decode.OUT, 0, 0, 0),
		threeReg(decode.IN, 0, 0, 0),
		threeReg(decode.OUT, 0, 0, 0),
		threeReg(decode.IN, 0, 0, 1),
		threeReg(decode.IN, 0, 0, 2),
		threeReg(decode.HALT, 0, 0, 0),
	)
	runAndExpect(t, m, nil)
	assert(t, out.String() == "xyz", "got output %q, want %q", out.String(), "xyz")
	assert(t, m.Registers()[1] == 0xFFFFFFFF, "got r1=%#x after EOF, want all-ones sentinel", m.Registers()[1])
	assert(t, m.Registers()[2] == 0xFFFFFFFF, "got r2=%#x after EOF, want all-ones sentinel (persists)", m.Registers()[2])
}

func TestDivisionByZero(t *testing.T) {
	m, _ := newMachine(t, "",
		lv(1, 0),
		threeReg(decode.DIV, 0, 1, 1),
	)
	runAndExpect(t, m, ErrDivisionByZero)
}

func TestOutOfRangeOutputValue(t *testing.T) {
	m, _ := newMachine(t, "",
		lv(0, 256),
		threeReg(decode.OUT, 0, 0, 0),
	)
	runAndExpect(t, m, ErrOutOfRange)
}

func TestUnknownOpcodeIsIllegalInstruction(t *testing.T) {
	m, _ := newMachine(t, "", threeReg(decode.Op(15), 0, 0, 0))
	runAndExpect(t, m, ErrIllegalInstruction)
}

func TestInvalidSegmentFaultsThroughSload(t *testing.T) {
	m, _ := newMachine(t, "",
		lv(1, 99),
		threeReg(decode.SLOAD, 0, 1, 1),
	)
	runAndExpect(t, m, segment.ErrInvalidSegment)
}

func TestPCOverrunWithoutHalt(t *testing.T) {
	m, _ := newMachine(t, "", lv(0, 1))
	runAndExpect(t, m, ErrPCOverrun)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	store := segment.New()
	// An infinite loop: loadp clones segment r1 (=0, a no-op) and jumps to
	// r2 (defaults to 0), landing back on this same instruction forever.
	assert(t, store.LoadProgram(assemble(
		threeReg(decode.LOADP, 0, 1, 2),
	)) == nil, "LoadProgram failed")

	m := New(store, strings.NewReader(""), &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := m.Run(ctx)
	assert(t, outcome == Cancelled, "got outcome %v, want Cancelled", outcome)
	assert(t, errors.Is(err, context.Canceled), "got %v, want context.Canceled", err)
}

func TestStepDoesNotFlushUntilExplicitlyAsked(t *testing.T) {
	m, out := newMachine(t, "",
		lv(0, 'A'),
		threeReg(decode.OUT, 0, 0, 0),
		threeReg(decode.HALT, 0, 0, 0),
	)

	halted, err := m.Step() // lv r0, 'A'
	assert(t, err == nil && !halted, "step 1 failed: %v", err)
	halted, err = m.Step() // out r0
	assert(t, err == nil && !halted, "step 2 failed: %v", err)

	assert(t, out.Len() == 0, "OUT byte leaked into the buffer's backing writer before Flush")

	assert(t, m.Flush() == nil, "Flush failed")
	assert(t, out.String() == "A", "got output %q after Flush, want %q", out.String(), "A")
}
