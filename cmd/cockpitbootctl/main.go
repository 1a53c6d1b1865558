// Command cockpitbootctl is the host-side counterpart to Core B's
// bootloader protocol engine: it drives handshake, device-info, flash
// readback, flash programming, and error recovery over a framed serial
// link (§6.5).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cms-pm/cockpit-sub008/internal/diag"
	"github.com/cms-pm/cockpit-sub008/internal/transport"
)

// session bundles the framed link and the monotonically increasing
// sequence_id counter a single cockpitbootctl invocation needs; a multi-step
// command like "program" sends several requests under one session.
type session struct {
	t      *transport.Framed
	nextSeq uint32
}

func (s *session) seq() uint32 {
	s.nextSeq++
	return s.nextSeq
}

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "cockpitbootctl",
		Short: "Drive the cockpit-vm bootloader protocol over a framed serial link",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log protocol flow markers to stderr")

	root.AddCommand(
		newHandshakeCmd(),
		newDeviceInfoCmd(),
		newReadCmd(),
		newProgramCmd(),
		newRecoverCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// openSession connects to the target device. No real serial backend is
// wired in this exercise; every invocation talks to the bundled in-process
// demo device of demo.go, which behaves exactly like a freshly booted
// bootloader session over a real port.
func openSession() *session {
	var logger *slog.Logger
	if verbose {
		logger = diag.NewLogger(os.Stderr, "BOOTCTL")
	}
	return &session{t: dialDemoDevice(logger)}
}

func printErrorReport(msg string) {
	fmt.Fprintln(os.Stderr, "cockpitbootctl:", msg)
}
