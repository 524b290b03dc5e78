package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/sitararao/um32/internal/decode"
	"github.com/sitararao/um32/internal/segment"
	"github.com/sitararao/um32/internal/um"
)

// runDebug drives the machine one instruction at a time, printing registers
// and the next instruction before each step. Commands:
//
//	n, next        execute the next instruction
//	r, run         run to completion (or to a breakpoint)
//	b <pc>         toggle a breakpoint at the given program counter
//	(blank line)   repeat the previous command
func runDebug(ctx context.Context, store *segment.Store, machine *um.Machine, logger *slog.Logger) int {
	defer machine.Flush()

	fmt.Println("Commands: n/next, r/run, b <pc> (toggle breakpoint), q/quit")
	printState(machine, store)

	reader := bufio.NewReader(os.Stdin)
	breakpoints := make(map[uint32]struct{})
	running := false
	lastLine := ""

	for {
		if running {
			if _, atBreak := breakpoints[machine.PC()]; atBreak {
				running = false
				fmt.Println("breakpoint")
				printState(machine, store)
				continue
			}
		} else {
			fmt.Print("\n-> ")
			line, _ := reader.ReadString('\n')
			line = strings.ToLower(strings.TrimSpace(line))
			if line == "" {
				line = lastLine
			}
			lastLine = line

			switch {
			case line == "q" || line == "quit":
				return exitOK
			case line == "r" || line == "run":
				running = true
				continue
			case strings.HasPrefix(line, "b"):
				toggleBreakpoint(breakpoints, line)
				continue
			case line != "n" && line != "next":
				fmt.Println("unknown command")
				continue
			}
		}

		halted, err := machine.Step()
		if err != nil {
			logger.Error("machine halted with fault", "pc", machine.PC(), "error", err)
			return exitCodeFor(err)
		}
		if !running {
			printState(machine, store)
		}
		if halted {
			logger.Info("machine halted cleanly", "pc", machine.PC())
			return exitOK
		}

		select {
		case <-ctx.Done():
			logger.Info("machine cancelled", "pc", machine.PC())
			return exitOK
		default:
		}
	}
}

func toggleBreakpoint(breakpoints map[uint32]struct{}, line string) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		fmt.Println("usage: b <pc>")
		return
	}
	pc, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		fmt.Println("invalid pc:", err)
		return
	}
	if _, ok := breakpoints[uint32(pc)]; ok {
		delete(breakpoints, uint32(pc))
	} else {
		breakpoints[uint32(pc)] = struct{}{}
	}
}

func printState(machine *um.Machine, store *segment.Store) {
	regs := machine.Registers()
	fmt.Printf("pc=%-6d regs=%v\n", machine.PC(), regs)

	if machine.PC() >= store.ProgramLen() {
		fmt.Println("  <pc past end of segment 0>")
		return
	}
	word, err := store.Fetch(machine.PC())
	if err != nil {
		fmt.Printf("  <fault: %v>\n", err)
		return
	}
	fmt.Printf("  next: %s\n", decode.Decode(word))
}
