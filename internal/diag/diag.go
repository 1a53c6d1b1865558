// Package diag implements the bootloader's diagnostics sink (C10): a
// slog.Handler rendering the line format of spec §6.6, kept on a channel
// distinct from the protocol transport so that disabling it can never
// change protocol behavior.
package diag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// FlowHandler renders records as
// [ts_ms][LEVEL][MOD][FILE:LINE][STATUS] message, the line format of §6.6.
// Grounded on the wrapper-around-slog pattern of S370's util/logger package:
// a small struct holding the output writer and a mutex, rather than
// configuring the stdlib handlers directly.
type FlowHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	module string
	start  time.Time
}

// NewFlowHandler returns a handler that timestamps records relative to since
// (use time.Now() at process start) and tags every line with module.
func NewFlowHandler(out io.Writer, module string, since time.Time) *FlowHandler {
	return &FlowHandler{out: out, mu: &sync.Mutex{}, module: module, start: since}
}

func (h *FlowHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *FlowHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Flow markers carry all their state as explicit Handle args; attrs
	// attached via With are not kept and do not appear in the output.
	return h
}

func (h *FlowHandler) WithGroup(name string) slog.Handler { return h }

func (h *FlowHandler) Handle(ctx context.Context, r slog.Record) error {
	tsMs := r.Time.Sub(h.start).Milliseconds()

	file, line, status := "-", 0, ""
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "file":
			file = a.Value.String()
		case "line":
			line = int(a.Value.Int64())
		case "status":
			status = a.Value.String()
		}
		return true
	})

	level := r.Level.String()
	loc := file
	if line > 0 {
		loc = fmt.Sprintf("%s:%d", file, line)
	}

	line1 := fmt.Sprintf("[%d][%s][%s][%s][%s] %s\n", tsMs, level, h.module, loc, status, r.Message)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line1)
	return err
}

// NewLogger wraps a FlowHandler in a *slog.Logger, ready for use as a
// bootloader diagnostics sink. Passing io.Discard as out disables the sink
// without changing any call site — by construction, since diag calls never
// participate in protocol control flow.
func NewLogger(out io.Writer, module string) *slog.Logger {
	return slog.New(NewFlowHandler(out, module, time.Now()))
}

// Stage is one of the A..J protocol milestones of §4.10.
type Stage byte

const (
	StageFrameStart Stage = 'A'
	StageLength     Stage = 'B'
	StagePayload    Stage = 'C'
	StageCrcOK      Stage = 'D'
	StageDecodeStart Stage = 'E'
	StageDecodeOK   Stage = 'F'
	StageProcessing Stage = 'G'
	StageResponseGen Stage = 'H'
	StageResponseEncoded Stage = 'I'
	StageResponseSent Stage = 'J'
)

var stageNames = map[Stage]string{
	StageFrameStart:      "frame_start",
	StageLength:          "length",
	StagePayload:         "payload",
	StageCrcOK:           "crc_ok",
	StageDecodeStart:     "decode_start",
	StageDecodeOK:        "decode_ok",
	StageProcessing:      "processing",
	StageResponseGen:     "response_gen",
	StageResponseEncoded: "response_encoded",
	StageResponseSent:    "response_sent",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return strings.ToUpper(string(rune(s)))
}

// MarkFlow logs one of the A..J protocol milestones at Info level, tagging
// the line with file/line/status attrs so FlowHandler can render §6.6's
// format. Callers pass a fixed call-site file/line (the protocol engine's
// own source location, not the caller's) since the marker identifies the
// milestone, not a Go stack frame.
func MarkFlow(logger *slog.Logger, file string, line int, stage Stage, seq uint32, detail string) {
	msg := fmt.Sprintf("seq=%d %s", seq, detail)
	logger.Info(msg,
		slog.String("file", file),
		slog.Int("line", line),
		slog.String("status", stage.String()),
	)
}
