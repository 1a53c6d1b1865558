// Command cockpit-vm loads and runs bytecode programs against Core A's
// virtual machine. It supports a single-step debug REPL and a cooperative
// mode that round-robins several VM instances one instruction at a time.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cms-pm/cockpit-sub008/internal/vm"
	"github.com/cms-pm/cockpit-sub008/internal/vm/simhost"
)

func main() {
	debug := flag.Bool("debug", false, "single-step the program interactively")
	cooperative := flag.Int("cooperative", 0, "run N copies of the program cooperatively, one instruction each per round")
	globals := flag.Int("globals", 64, "G_MAX: global slot count")
	arrays := flag.Int("arrays", 16, "A_MAX: array descriptor count")
	elems := flag.Int("elems", 256, "E_MAX: pooled array element count")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: cockpit-vm [flags] <program.bin>")
		os.Exit(1)
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "cockpit-vm:", err)
		os.Exit(1)
	}
	program, err := vm.LoadProgramBytes(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cockpit-vm:", err)
		os.Exit(1)
	}

	if *cooperative > 0 {
		runCooperative(program, *cooperative, *globals, *arrays, *elems)
		return
	}

	mem, err := vm.NewMemoryContext(*globals, *arrays, *elems)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cockpit-vm:", err)
		os.Exit(1)
	}
	engine := vm.NewEngine(program, mem, simhost.New())

	if *debug {
		runDebugREPL(engine)
		return
	}

	if err := engine.ExecuteProgram(); err != nil {
		fmt.Fprintln(os.Stderr, "cockpit-vm: halted with error:", err)
		os.Exit(1)
	}
}

// runCooperative demonstrates §5's single-step scheduling model: n
// independent engines run the same program, each advancing by exactly one
// instruction per round, none ever blocking on another.
func runCooperative(program []vm.Instruction, n, globals, arrays, elems int) {
	engines := make([]*vm.Engine, n)
	for i := range engines {
		mem, err := vm.NewMemoryContext(globals, arrays, elems)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cockpit-vm:", err)
			os.Exit(1)
		}
		engines[i] = vm.NewEngine(program, mem, simhost.New())
	}

	for round := 0; ; round++ {
		anyRunning := false
		for i, e := range engines {
			cont, err := e.ExecuteSingleStep()
			if err != nil {
				fmt.Fprintf(os.Stderr, "cockpit-vm: instance %d halted with error: %v\n", i, err)
				continue
			}
			anyRunning = anyRunning || cont
		}
		if !anyRunning {
			break
		}
	}

	for i, e := range engines {
		fmt.Printf("instance %d: stack=%v\n", i, e.Stack())
	}
}
