package main

import (
	"bufio"
	"fmt"
	"io"

	"github.com/sitararao/um32/internal/decode"
	"github.com/sitararao/um32/internal/segment"
)

// disassemble walks segment 0 word by word and prints one decoded
// instruction per line. Static, ahead-of-time disassembly of the image as
// loaded; it knows nothing about LOADP rewriting segment 0 at runtime.
func disassemble(store *segment.Store, out io.Writer) {
	w := bufio.NewWriter(out)
	defer w.Flush()

	for pc := uint32(0); pc < store.ProgramLen(); pc++ {
		word, err := store.Fetch(pc)
		if err != nil {
			fmt.Fprintf(w, "%6d  <fault: %v>\n", pc, err)
			return
		}
		instr := decode.Decode(word)
		if !instr.Op.Defined() {
			fmt.Fprintf(w, "%6d  .word %#08x\n", pc, word)
			continue
		}
		fmt.Fprintf(w, "%6d  %s\n", pc, instr)
	}
}
