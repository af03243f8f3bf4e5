package subprocess

import (
	"bytes"
	"strings"
	"time"
)

// Heuristic tuning for the unframed output stream. The child emits no
// length prefix, delimiter, or end-of-message marker, so the only usable
// termination signal is a sustained gap in output. The quiet window is
// sized to absorb normal inter-chunk flushing without waiting for a true
// end-of-stream, which may never come on a long-lived interactive process.
const (
	pollInterval      = 250 * time.Millisecond
	quietPollInterval = 100 * time.Millisecond
	quietWindow       = 600 * time.Millisecond
)

// ReadResponse collects one logical response from the child's output
// stream, bounded by timeout.
//
// While nothing has been collected it keeps waiting for the first chunk.
// Once data has arrived, follow-up chunks are drained until the stream
// stays silent for a full quiet window, at which point the buffered output
// is the response. A closed stream ends the read immediately with whatever
// was collected, and so does the overall deadline: a timeout yields a
// partial result, never an error.
//
// The returned text is trimmed of leading and trailing whitespace. Callers
// must map an empty result to their own placeholder if they need to tell
// "no output" apart from a transport failure.
func (p *Process) ReadResponse(timeout time.Duration) string {
	var buf bytes.Buffer

	deadline := time.Now().Add(timeout)

outer:
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		select {
		case chunk, ok := <-p.output:
			if !ok {
				break outer
			}

			buf.Write(chunk)

			if closed := p.collectQuiet(&buf, deadline); closed {
				break outer
			}

		case <-time.After(min(pollInterval, remaining)):
			if buf.Len() > 0 {
				// The producer has gone quiet; the response is done.
				break outer
			}
		}
	}

	return strings.TrimSpace(buf.String())
}

// collectQuiet drains follow-up chunks until the stream stays silent for a
// full quiet window. New data restarts the window. Reports whether the
// stream closed.
func (p *Process) collectQuiet(buf *bytes.Buffer, deadline time.Time) bool {
	quietDeadline := time.Now().Add(quietWindow)

	for {
		now := time.Now()
		if !now.Before(quietDeadline) || !now.Before(deadline) {
			return false
		}

		wait := min(quietPollInterval, quietDeadline.Sub(now), deadline.Sub(now))

		select {
		case chunk, ok := <-p.output:
			if !ok {
				return true
			}

			buf.Write(chunk)

			quietDeadline = time.Now().Add(quietWindow)

		case <-time.After(wait):
		}
	}
}
