package subprocess

import (
	stderrors "errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/errors"
	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/logging"
)

func skipOnWindows(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("tests use Unix shell helpers")
	}
}

func TestSpawn_EmptyCommand(t *testing.T) {
	_, err := Spawn(logging.Nop(), nil)

	var spawnErr *errors.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.ErrorIs(t, err, errors.ErrEmptyCommand)
}

func TestSpawn_MissingBinary(t *testing.T) {
	_, err := Spawn(logging.Nop(), []string{"/nonexistent/definitely-not-a-binary"})

	var spawnErr *errors.SpawnError
	require.ErrorAs(t, err, &spawnErr)
}

func TestWriteLineAndReadResponse_Echo(t *testing.T) {
	skipOnWindows(t)

	p, err := Spawn(logging.Nop(), []string{"cat"})
	require.NoError(t, err)

	defer p.Terminate()

	require.True(t, p.IsAlive())
	require.NoError(t, p.WriteLine("hello"))

	require.Equal(t, "hello", p.ReadResponse(5*time.Second))
}

// Stderr is merged into the output stream, so diagnostics from the child
// surface in the response like any other output.
func TestSpawn_MergesStderrIntoOutput(t *testing.T) {
	skipOnWindows(t)

	p, err := Spawn(logging.Nop(), []string{"sh", "-c", "echo from-stderr 1>&2"})
	require.NoError(t, err)

	defer p.Terminate()

	require.Equal(t, "from-stderr", p.ReadResponse(5*time.Second))
}

func TestIsAlive_AfterExit(t *testing.T) {
	skipOnWindows(t)

	p, err := Spawn(logging.Nop(), []string{"sh", "-c", "exit 0"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !p.IsAlive() },
		5*time.Second, 20*time.Millisecond)
}

func TestTerminate_StopsProcess(t *testing.T) {
	skipOnWindows(t)

	p, err := Spawn(logging.Nop(), []string{"cat"})
	require.NoError(t, err)

	p.Terminate()

	require.False(t, p.IsAlive())
}

func TestTerminate_Idempotent(t *testing.T) {
	skipOnWindows(t)

	p, err := Spawn(logging.Nop(), []string{"cat"})
	require.NoError(t, err)

	p.Terminate()
	p.Terminate()

	require.False(t, p.IsAlive())
}

func TestWriteLine_AfterTerminate(t *testing.T) {
	skipOnWindows(t)

	p, err := Spawn(logging.Nop(), []string{"cat"})
	require.NoError(t, err)

	p.Terminate()

	err = p.WriteLine("too late")

	var ioErr *errors.IOError
	require.ErrorAs(t, err, &ioErr)
	require.ErrorIs(t, err, errors.ErrStdinClosed)
}

func TestWriteLine_BrokenPipe(t *testing.T) {
	skipOnWindows(t)

	p, err := Spawn(logging.Nop(), []string{"sh", "-c", "exit 0"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !p.IsAlive() },
		5*time.Second, 20*time.Millisecond)

	// The write end of the pipe is still open on our side, so the first
	// write after exit fails with EPIPE rather than ErrStdinClosed.
	err = p.WriteLine("anyone there")
	if err == nil {
		// A single write can be absorbed by the pipe buffer.
		err = p.WriteLine("still there")
	}

	var ioErr *errors.IOError
	require.ErrorAs(t, err, &ioErr)
	require.False(t, stderrors.Is(err, errors.ErrStdinClosed))
}
