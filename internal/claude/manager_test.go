package claude

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/errors"
)

func skipOnWindows(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("tests use Unix shell helpers")
	}
}

// newTestManager builds a Manager around a shell helper command with short
// timeouts suitable for tests.
func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()

	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 5 * time.Second
	}

	m := NewManager(opts)
	t.Cleanup(m.Close)

	return m
}

func (m *Manager) lookup(key string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sessions[key]
}

func (m *Manager) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

func TestAsk_EchoRoundtrip(t *testing.T) {
	skipOnWindows(t)

	m := newTestManager(t, Options{Command: []string{"cat"}})

	got, err := m.Ask("u1", "hi")
	require.NoError(t, err)
	require.Equal(t, "hi", got)
}

func TestAsk_ReusesSessionForSameKey(t *testing.T) {
	skipOnWindows(t)

	m := newTestManager(t, Options{Command: []string{"cat"}})

	_, err := m.Ask("u1", "first")
	require.NoError(t, err)

	first := m.lookup("u1")
	require.NotNil(t, first)

	_, err = m.Ask("u1", "second")
	require.NoError(t, err)

	require.Same(t, first, m.lookup("u1"))
	require.Equal(t, 1, m.sessionCount())
}

func TestAsk_DistinctKeysGetDistinctSessions(t *testing.T) {
	skipOnWindows(t)

	m := newTestManager(t, Options{Command: []string{"cat"}})

	_, err := m.Ask("u1", "one")
	require.NoError(t, err)

	_, err = m.Ask("u2", "two")
	require.NoError(t, err)

	require.Equal(t, 2, m.sessionCount())
	require.NotSame(t, m.lookup("u1"), m.lookup("u2"))
}

func TestAsk_EmptyOutputPlaceholder(t *testing.T) {
	skipOnWindows(t)

	// The helper consumes the prompt and exits without ever writing, so
	// the stream closes with zero bytes collected.
	m := newTestManager(t, Options{Command: []string{"sh", "-c", "read line"}})

	got, err := m.Ask("u1", "anything")
	require.NoError(t, err)
	require.Equal(t, "(no response)", got)
}

func TestAsk_CrashRecovery(t *testing.T) {
	skipOnWindows(t)

	// The helper answers exactly one prompt and exits, simulating a
	// process that dies between requests.
	m := newTestManager(t, Options{Command: []string{"sh", "-c", "read line; echo ok"}})

	got, err := m.Ask("u1", "first")
	require.NoError(t, err)
	require.Equal(t, "ok", got)

	first := m.lookup("u1")
	require.NotNil(t, first)

	// Wait until the process is actually gone before asking again.
	require.Eventually(t, func() bool { return !first.proc.IsAlive() },
		5*time.Second, 20*time.Millisecond)

	got, err = m.Ask("u1", "second")
	require.NoError(t, err)
	require.Equal(t, "ok", got)

	require.NotSame(t, first, m.lookup("u1"))
}

// Replacing a dead session must not terminate its process while another
// request still holds the session lock (for example, draining the dead
// process's final output).
func TestGetOrCreate_WaitsForInFlightRequestOnDeadSession(t *testing.T) {
	skipOnWindows(t)

	m := newTestManager(t, Options{Command: []string{"sh", "-c", "read line; echo ok"}})

	_, err := m.Ask("u1", "first")
	require.NoError(t, err)

	s := m.lookup("u1")
	require.NotNil(t, s)

	require.Eventually(t, func() bool { return !s.proc.IsAlive() },
		5*time.Second, 20*time.Millisecond)

	// Hold the session lock as an in-flight request would.
	s.mu.Lock()

	done := make(chan struct{})

	go func() {
		defer close(done)

		_, _ = m.getOrCreate("u1")
	}()

	select {
	case <-done:
		t.Fatal("stale session terminated while its lock was held")
	case <-time.After(300 * time.Millisecond):
	}

	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("getOrCreate did not finish after the session lock was released")
	}

	require.NotSame(t, s, m.lookup("u1"))
}

func TestAsk_SpawnFailureIsFatal(t *testing.T) {
	m := newTestManager(t, Options{Command: []string{"/nonexistent/definitely-not-a-binary"}})

	_, err := m.Ask("u1", "hello")

	var spawnErr *errors.SpawnError
	require.ErrorAs(t, err, &spawnErr)
}

func TestAsk_PerKeySerialization(t *testing.T) {
	skipOnWindows(t)

	m := newTestManager(t, Options{Command: []string{"cat"}})

	const workers = 4

	var wg sync.WaitGroup

	results := make([]string, workers)
	errs := make([]error, workers)

	for i := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			prompt := fmt.Sprintf("msg-%d", i)
			results[i], errs[i] = m.Ask("u1", prompt)
		}()
	}

	wg.Wait()

	// With serialized write-then-read cycles every caller reads back
	// exactly its own prompt; interleaving would mix them up.
	for i := range workers {
		require.NoError(t, errs[i])
		require.Equal(t, fmt.Sprintf("msg-%d", i), results[i])
	}

	require.Equal(t, 1, m.sessionCount())
}

func TestAsk_CrossKeyParallelism(t *testing.T) {
	skipOnWindows(t)

	// Each response takes a bit over one second. Two keys asked at once
	// should finish in roughly one request's time, not two.
	slowEcho := []string{"sh", "-c", `while read line; do sleep 1; echo "$line"; done`}
	m := newTestManager(t, Options{Command: slowEcho})

	var wg sync.WaitGroup

	start := time.Now()

	for _, key := range []string{"u1", "u2"} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			got, err := m.Ask(key, "ping")
			require.NoError(t, err)
			require.Equal(t, "ping", got)
		}()
	}

	wg.Wait()

	require.Less(t, time.Since(start), 3500*time.Millisecond)
}

func TestReaper_EvictsIdleSession(t *testing.T) {
	skipOnWindows(t)

	m := newTestManager(t, Options{
		Command:         []string{"cat"},
		IdleTimeout:     200 * time.Millisecond,
		CleanupInterval: 100 * time.Millisecond,
	})

	_, err := m.Ask("u1", "hello")
	require.NoError(t, err)

	s := m.lookup("u1")
	require.NotNil(t, s)

	require.Eventually(t, func() bool { return m.sessionCount() == 0 },
		5*time.Second, 50*time.Millisecond)
	require.False(t, s.proc.IsAlive())
}

func TestReaper_KeepsRecentlyUsedSession(t *testing.T) {
	skipOnWindows(t)

	m := newTestManager(t, Options{
		Command:         []string{"cat"},
		IdleTimeout:     time.Hour,
		CleanupInterval: 50 * time.Millisecond,
	})

	_, err := m.Ask("u1", "hello")
	require.NoError(t, err)

	time.Sleep(400 * time.Millisecond)

	require.Equal(t, 1, m.sessionCount())
	require.True(t, m.lookup("u1").proc.IsAlive())
}

func TestClose_TerminatesSessionsAndRejectsAsks(t *testing.T) {
	skipOnWindows(t)

	m := NewManager(Options{Command: []string{"cat"}, RequestTimeout: 5 * time.Second})

	_, err := m.Ask("u1", "hello")
	require.NoError(t, err)

	s := m.lookup("u1")
	require.NotNil(t, s)

	m.Close()

	require.False(t, s.proc.IsAlive())

	_, err = m.Ask("u1", "hello again")
	require.ErrorIs(t, err, errors.ErrManagerClosed)

	// Idempotent.
	m.Close()
}
