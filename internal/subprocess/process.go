package subprocess

import (
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/errors"
)

const (
	// readChunkSize is the read buffer size for the output pump.
	readChunkSize = 4096

	// outputBufferChunks is the channel buffer between the pump goroutine
	// and ReadResponse, so a chatty child is not blocked on a slow reader.
	outputBufferChunks = 64

	// terminateGrace is how long Terminate waits after SIGTERM before it
	// force-kills the child.
	terminateGrace = 3 * time.Second
)

// Process wraps one spawned child process. Stdin is line-oriented; stdout
// and stderr are merged and delivered as raw chunks on Output. A Process is
// owned by exactly one session and must not be shared.
type Process struct {
	log    *slog.Logger
	cmd    *exec.Cmd
	output chan []byte
	exited chan struct{}

	mu          sync.Mutex
	stdin       io.WriteCloser
	stdinClosed bool
}

// Spawn launches command with stdin captured and stderr merged into stdout.
// The heuristic response reader cannot distinguish channels, so it gets
// them as one stream. Returns a SpawnError if the process cannot start.
func Spawn(log *slog.Logger, command []string) (*Process, error) {
	if len(command) == 0 {
		return nil, &errors.SpawnError{Command: command, Err: errors.ErrEmptyCommand}
	}

	//nolint:gosec // G204: the spawn command comes from operator configuration
	cmd := exec.Command(command[0], command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &errors.SpawnError{Command: command, Err: err}
	}

	// One pipe for both output streams. The parent keeps the read end;
	// the write end is closed below so EOF arrives when the child exits.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &errors.SpawnError{Command: command, Err: err}
	}

	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		_ = outR.Close()
		_ = outW.Close()

		return nil, &errors.SpawnError{Command: command, Err: err}
	}

	_ = outW.Close()

	p := &Process{
		log:    log.With("component", "subprocess", "pid", cmd.Process.Pid),
		cmd:    cmd,
		stdin:  stdin,
		output: make(chan []byte, outputBufferChunks),
		exited: make(chan struct{}),
	}

	go p.pump(outR)
	go p.wait()

	p.log.Info("child process started", "command", command[0])

	return p, nil
}

// pump moves merged output from the pipe onto the output channel until the
// stream closes, then closes the channel.
func (p *Process) pump(r io.ReadCloser) {
	defer close(p.output)
	defer func() { _ = r.Close() }()

	for {
		buf := make([]byte, readChunkSize)

		n, err := r.Read(buf)
		if n > 0 {
			p.output <- buf[:n]
		}

		if err != nil {
			if err != io.EOF {
				p.log.Debug("output pump stopped", "error", err)
			}

			return
		}
	}
}

// wait reaps the child and records its exit.
func (p *Process) wait() {
	err := p.cmd.Wait()
	close(p.exited)
	p.log.Debug("child process exited", "error", err)
}

// IsAlive reports whether the child process is still running. Non-blocking.
func (p *Process) IsAlive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// WriteLine writes text plus a trailing newline to the child's stdin.
// Pipes are unbuffered, so the line reaches the child immediately.
func (p *Process) WriteLine(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdinClosed {
		return &errors.IOError{Op: "write", Err: errors.ErrStdinClosed}
	}

	if _, err := io.WriteString(p.stdin, text+"\n"); err != nil {
		return &errors.IOError{Op: "write", Err: err}
	}

	return nil
}

// Output returns the channel carrying merged stdout+stderr chunks.
// The channel is closed when the child's output stream closes.
func (p *Process) Output() <-chan []byte {
	return p.output
}

// Terminate asks the child to exit and force-kills it if it is still
// running after the grace period. The process is gone when Terminate
// returns; calling it on an already-dead process is a no-op.
func (p *Process) Terminate() {
	// Nothing reads the output after termination; drain it so the pump
	// goroutine can exit once the stream closes.
	defer func() {
		go func() {
			for range p.output {
			}
		}()
	}()

	p.mu.Lock()
	if !p.stdinClosed {
		_ = p.stdin.Close()
		p.stdinClosed = true
	}
	p.mu.Unlock()

	select {
	case <-p.exited:
		return
	default:
	}

	p.log.Debug("terminating child process")
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.exited:
	case <-time.After(terminateGrace):
		p.log.Warn("child did not exit within grace period, killing")
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
}
