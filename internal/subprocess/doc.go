// Package subprocess spawns and talks to one local Claude CLI process.
//
// The child's stdout and stderr are merged into a single stream and pumped
// onto a channel of raw chunks. There is no framing on that stream, so
// response boundaries are detected with a quiet-window heuristic: once
// output has been collected, a sustained gap of silence is treated as the
// end of the response. See ReadResponse.
package subprocess
