package transport

import "io"

// halfDuplexPipe composes a PipeReader/PipeWriter pair into a single
// io.ReadWriter, since Framed wants one type for both directions.
type halfDuplexPipe struct {
	r io.Reader
	w io.Writer
}

func (p halfDuplexPipe) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p halfDuplexPipe) Write(b []byte) (int, error) { return p.w.Write(b) }

// NewInProcessPair returns two connected io.ReadWriters suitable for driving
// a Framed on each end without a real serial port — used by cockpitbootctl's
// bundled demo server and by integration tests that exercise the full
// frame -> message -> session round trip in one process.
func NewInProcessPair() (a, b io.ReadWriter) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	return halfDuplexPipe{r: r1, w: w2}, halfDuplexPipe{r: r2, w: w1}
}
