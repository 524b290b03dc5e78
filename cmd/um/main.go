// Command um runs a UM-32 program image.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/sitararao/um32/internal/obslog"
	"github.com/sitararao/um32/internal/segment"
	"github.com/sitararao/um32/internal/um"
)

const version = "um32 0.1.0"

// Exit codes distinguish the four fail-stop kinds at the process boundary,
// since the shell only gets to see a number.
const (
	exitOK = iota
	exitImageError
	exitProgramFault
	exitHostError
	exitResourceError
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	optVersion := getopt.BoolLong("version", 'v', "Print version and exit")
	optDebug := getopt.BoolLong("debug", 'd', "Step through the program interactively")
	optDisasm := getopt.BoolLong("disassemble", 'S', "Print a disassembly of the program image and exit")
	optVerbose := getopt.BoolLong("verbose", 'V', "Mirror log output to stderr")
	getopt.SetParameters("<program-image>")
	getopt.Parse()

	if *optVersion {
		fmt.Println(version)
		return exitOK
	}

	logger := obslog.New(nil, *optVerbose)

	args := getopt.Args()
	if len(args) != 1 {
		getopt.Usage()
		return exitImageError
	}

	f, err := os.Open(args[0])
	if err != nil {
		logger.Error("cannot open program image", "error", err)
		return exitImageError
	}
	defer f.Close()

	store := segment.New()
	if err := store.LoadProgram(f); err != nil {
		logger.Error("cannot load program image", "error", err)
		return exitImageError
	}

	if *optDisasm {
		disassemble(store, os.Stdout)
		return exitOK
	}

	machine := um.New(store, os.Stdin, os.Stdout)
	logger.Info("machine starting", "words", store.ProgramLen())

	// Instruction dispatch is the hot loop; disable the GC while it runs and
	// restore the prior setting once the program halts or faults.
	prevGCPercent := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(prevGCPercent)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *optDebug {
		return runDebug(ctx, store, machine, logger)
	}
	return run(ctx, machine, logger)
}

func run(ctx context.Context, machine *um.Machine, logger *slog.Logger) int {
	outcome, err := machine.Run(ctx)
	if outcome == um.Cancelled {
		logger.Info("machine cancelled", "pc", machine.PC())
		return exitOK
	}
	if err != nil {
		logger.Error("machine halted with fault", "pc", machine.PC(), "error", err)
		return exitCodeFor(err)
	}
	logger.Info("machine halted cleanly", "pc", machine.PC())
	return exitOK
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, segment.ErrSegmentLimitExceeded):
		return exitResourceError
	case errors.Is(err, um.ErrIllegalInstruction),
		errors.Is(err, um.ErrDivisionByZero),
		errors.Is(err, um.ErrOutOfRange),
		errors.Is(err, um.ErrPCOverrun),
		errors.Is(err, segment.ErrInvalidSegment),
		errors.Is(err, segment.ErrOutOfBounds):
		return exitProgramFault
	default:
		return exitHostError
	}
}
