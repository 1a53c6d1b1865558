package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/cms-pm/cockpit-sub008/internal/vm"
)

// runDebugREPL implements the n/next, r/run, b/break <line> command
// vocabulary in GVM's execProgramDebugMode, but reads keystrokes from a raw
// terminal (golang.org/x/term, as in IntuitionEngine's terminal_host.go)
// instead of line-buffered input, so single-letter commands don't need an
// Enter key.
func runDebugREPL(e *vm.Engine) {
	fmt.Println("cockpit-vm debug: n=next, r=run, b <line>=toggle breakpoint, q=quit")
	printState(e)

	fd := int(os.Stdin.Fd())
	oldState, rawErr := term.MakeRaw(fd)
	if rawErr == nil {
		defer term.Restore(fd, oldState)
	}
	reader := bufio.NewReader(os.Stdin)

	breakpoints := make(map[uint32]struct{})
	running := false

	for {
		if !running {
			line := readLine(reader, rawErr == nil)
			line = strings.ToLower(strings.TrimSpace(line))
			switch {
			case line == "n" || line == "next":
				step(e)
				printState(e)
			case line == "r" || line == "run":
				running = true
			case line == "q" || line == "quit":
				return
			case strings.HasPrefix(line, "b "):
				toggleBreakpoint(breakpoints, line)
			default:
				fmt.Println("unknown command")
			}
			if e.Halted() {
				return
			}
			continue
		}

		if _, atBreak := breakpoints[e.PC()]; atBreak {
			fmt.Println("breakpoint hit")
			printState(e)
			running = false
			continue
		}
		step(e)
		if e.Halted() {
			printState(e)
			return
		}
	}
}

func step(e *vm.Engine) {
	if _, err := e.ExecuteSingleStep(); err != nil {
		fmt.Println("fault:", err)
	}
}

func printState(e *vm.Engine) {
	fmt.Printf("pc=%d sp=%d stack=%v state=%s\n", e.PC(), e.SP(), e.Stack(), e.State())
}

func toggleBreakpoint(breakpoints map[uint32]struct{}, line string) {
	arg := strings.TrimSpace(strings.TrimPrefix(line, "b "))
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		fmt.Println("bad line number:", err)
		return
	}
	pc := uint32(n)
	if _, ok := breakpoints[pc]; ok {
		delete(breakpoints, pc)
	} else {
		breakpoints[pc] = struct{}{}
	}
}

// readLine reads one command. In raw mode terminals deliver unbuffered
// keystrokes, so a bare command letter (n, r, q) is read without an Enter;
// the "b <line>" form still needs the rest of the line typed before Enter.
func readLine(r *bufio.Reader, raw bool) string {
	if !raw {
		line, _ := r.ReadString('\n')
		return line
	}
	b, err := r.ReadByte()
	if err != nil {
		return "q"
	}
	if b == 'b' {
		rest, _ := r.ReadString('\r')
		return "b " + strings.TrimSpace(rest)
	}
	if b == '\r' || b == '\n' {
		return ""
	}
	return string(b)
}
