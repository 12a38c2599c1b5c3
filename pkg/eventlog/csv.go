package eventlog

import (
	"fmt"
	"io"

	"github.com/cuemby/schedulus/pkg/simtypes"
)

// CSVWriter records events as "<sim_time>,<kind>,<job_id>" lines, where
// kind is Q/R/E for SUBMIT/START/END. It implements Sink.
type CSVWriter struct {
	w io.Writer
}

// NewCSVWriter wraps w as a CSV event sink.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: w}
}

// Record writes one line for ev.
func (c *CSVWriter) Record(ev simtypes.Event) error {
	_, err := fmt.Fprintf(c.w, "%d,%s,%d\n", ev.Time, ev.Kind.Char(), ev.JobID)
	return err
}
