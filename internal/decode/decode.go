// Package decode turns a 32-bit UM-32 instruction word into a decoded
// record. Decoding is pure and total: every word, including the two
// undefined opcodes, produces an Instruction. Legality is judged by the
// execution core, not here.
package decode

import "fmt"

// Op identifies one of the 16 possible 4-bit opcodes (14 defined, 2
// undefined).
type Op uint8

const (
	CMOV Op = iota
	SLOAD
	SSTORE
	ADD
	MUL
	DIV
	NAND
	HALT
	MAP
	UNMAP
	OUT
	IN
	LOADP
	LV
	opUndefined14
	opUndefined15
)

var opNames = map[Op]string{
	CMOV:   "cmov",
	SLOAD:  "sload",
	SSTORE: "sstore",
	ADD:    "add",
	MUL:    "mul",
	DIV:    "div",
	NAND:   "nand",
	HALT:   "halt",
	MAP:    "map",
	UNMAP:  "unmap",
	OUT:    "out",
	IN:     "in",
	LOADP:  "loadp",
	LV:     "lv",
}

// String renders the opcode's mnemonic, or "?unknown?" for 14/15.
func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "?unknown?"
}

// Defined reports whether op is one of the 14 assigned opcodes.
func (op Op) Defined() bool {
	_, ok := opNames[op]
	return ok
}

// Instruction is the decoded form of one 32-bit word.
type Instruction struct {
	Op Op
	A  uint32
	B  uint32
	C  uint32
	// Value holds the 25-bit immediate; only meaningful when Op == LV.
	Value uint32
}

func (i Instruction) String() string {
	if i.Op == LV {
		return fmt.Sprintf("lv r%d, %d", i.A, i.Value)
	}
	return fmt.Sprintf("%s r%d, r%d, r%d", i.Op, i.A, i.B, i.C)
}

const (
	opLSB  = 28
	opMask = 0xF

	regMask = 0x7
	aLSB    = 6
	bLSB    = 3
	cLSB    = 0

	lvALSB    = 25
	lvValMask = (1 << 25) - 1
)

// Decode extracts the opcode and operand fields from word per the UM-32
// bit layout: op = bits[28:32); for op in 0..=12, A/B/C are the three
// 3-bit register fields at bits[6:9)/[3:6)/[0:3); for op == LV (13), A is
// bits[25:28) and Value is the 25-bit immediate in bits[0:25).
func Decode(word uint32) Instruction {
	op := Op((word >> opLSB) & opMask)
	if op == LV {
		return Instruction{
			Op:    op,
			A:     (word >> lvALSB) & regMask,
			Value: word & lvValMask,
		}
	}

	return Instruction{
		Op: op,
		A:  (word >> aLSB) & regMask,
		B:  (word >> bLSB) & regMask,
		C:  (word >> cLSB) & regMask,
	}
}
