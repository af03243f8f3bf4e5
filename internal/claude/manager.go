package claude

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/errors"
	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/logging"
	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/subprocess"
)

const (
	// DefaultRequestTimeout bounds how long one Ask waits for the child's
	// response before returning whatever was collected.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultIdleTimeout is how long a session may sit unused before the
	// reaper terminates it.
	DefaultIdleTimeout = 15 * time.Minute

	// DefaultCleanupInterval is the reaper tick period.
	DefaultCleanupInterval = 30 * time.Second

	// noResponsePlaceholder is returned when the child produced no output,
	// so callers can tell "nothing captured" from a transport failure.
	noResponsePlaceholder = "(no response)"

	// maxRespawns bounds the replace-and-retry loop in Ask. Replacement
	// always yields a freshly spawned process, so more than a couple of
	// consecutive deaths means something is wrong with the command itself.
	maxRespawns = 3
)

// Options configures a Manager. Zero-value fields fall back to defaults;
// a nil Logger disables logging.
type Options struct {
	Command         []string
	RequestTimeout  time.Duration
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	Logger          *slog.Logger
}

// Manager owns the session registry and the idle reaper.
type Manager struct {
	log             *slog.Logger
	procLog         *slog.Logger
	command         []string
	requestTimeout  time.Duration
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	stop       chan struct{}
	reaperDone chan struct{}
}

// NewManager creates a Manager and starts its idle reaper.
func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	command := opts.Command
	if len(command) == 0 {
		command = []string{"claude"}
	}

	m := &Manager{
		log:             log.With("component", "claude_manager"),
		procLog:         log,
		command:         command,
		requestTimeout:  valueOr(opts.RequestTimeout, DefaultRequestTimeout),
		idleTimeout:     valueOr(opts.IdleTimeout, DefaultIdleTimeout),
		cleanupInterval: valueOr(opts.CleanupInterval, DefaultCleanupInterval),
		now:             time.Now,
		sessions:        make(map[string]*session),
		stop:            make(chan struct{}),
		reaperDone:      make(chan struct{}),
	}

	go m.reap()

	return m
}

func valueOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}

	return d
}

// Ask routes one prompt to the session for key and returns the response
// text, using the default request timeout.
func (m *Manager) Ask(key, prompt string) (string, error) {
	return m.AskWithTimeout(key, prompt, m.requestTimeout)
}

// AskWithTimeout is Ask with an explicit response timeout.
//
// A session is created on first use of a key. If the session's process has
// died, it is replaced and the request retried, bounded by maxRespawns.
// Requests for the same key are serialized; requests for distinct keys run
// in parallel. An empty response is reported as a placeholder string.
func (m *Manager) AskWithTimeout(key, prompt string, timeout time.Duration) (string, error) {
	for range maxRespawns {
		s, err := m.getOrCreate(key)
		if err != nil {
			return "", err
		}

		s.mu.Lock()

		// The process may have died between resolution and lock
		// acquisition; re-check before writing.
		if !s.proc.IsAlive() {
			s.mu.Unlock()
			m.log.Info("claude process exited, recreating", "session_key", key)

			if err := m.replace(key); err != nil {
				return "", err
			}

			continue
		}

		s.touch(m.now())

		if err := s.proc.WriteLine(prompt); err != nil {
			// The pipe closed between the liveness check and the
			// write: same as a dead process.
			s.mu.Unlock()
			m.log.Warn("write to claude process failed, recreating",
				"session_key", key, "error", err)

			if rerr := m.replace(key); rerr != nil {
				return "", rerr
			}

			continue
		}

		out := s.proc.ReadResponse(timeout)
		s.touch(m.now())
		s.mu.Unlock()

		if out == "" {
			return noResponsePlaceholder, nil
		}

		return out, nil
	}

	return "", &errors.IOError{
		Op:  "ask",
		Err: fmt.Errorf("session %q died %d times in a row", key, maxRespawns),
	}
}

// getOrCreate returns the live session for key, spawning and installing a
// fresh one if the key is new or its process has died. A stale handle is
// terminated only after the registry lock is released, so termination's
// grace period never stalls unrelated keys.
func (m *Manager) getOrCreate(key string) (*session, error) {
	var stale *session

	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return nil, errors.ErrManagerClosed
	}

	if s := m.sessions[key]; s != nil {
		if s.proc.IsAlive() {
			m.mu.Unlock()

			return s, nil
		}

		stale = s
		delete(m.sessions, key)
	}

	s, err := m.install(key)
	m.mu.Unlock()

	terminateQuiesced(stale)

	return s, err
}

// replace unconditionally swaps in a fresh session for key, terminating
// the previous process after the registry lock is released.
func (m *Manager) replace(key string) error {
	var stale *session

	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return errors.ErrManagerClosed
	}

	if s := m.sessions[key]; s != nil {
		stale = s
		delete(m.sessions, key)
	}

	_, err := m.install(key)
	m.mu.Unlock()

	terminateQuiesced(stale)

	return err
}

// terminateQuiesced tears down a stale session's process under its own
// lock, so a request still draining the dead process's output is never
// raced by termination's drain of the same channel.
func terminateQuiesced(s *session) {
	if s == nil {
		return
	}

	s.mu.Lock()
	s.proc.Terminate()
	s.mu.Unlock()
}

// install spawns a process and registers a session for key.
// Caller must hold m.mu.
func (m *Manager) install(key string) (*session, error) {
	m.log.Info("starting claude cli process", "session_key", key, "command", m.command)

	proc, err := subprocess.Spawn(m.procLog, m.command)
	if err != nil {
		return nil, err
	}

	s := newSession(key, proc, m.now())
	m.sessions[key] = s

	return s, nil
}

// reap periodically evicts idle sessions until Close stops it.
func (m *Manager) reap() {
	defer close(m.reaperDone)

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

// evictIdle terminates sessions idle past the threshold. The registry lock
// covers only the snapshot and the membership change, never process
// termination. A session whose lock is held is mid-request and is skipped
// until a later tick; a handle is never torn down while in use.
func (m *Manager) evictIdle() {
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()

	var stale []*session

	for _, s := range m.sessions {
		if s.idleSince(cutoff) {
			stale = append(stale, s)
		}
	}

	m.mu.Unlock()

	for _, s := range stale {
		if !s.mu.TryLock() {
			continue
		}

		// Re-check under the session lock: a request may have finished
		// between the snapshot and now.
		if !s.idleSince(cutoff) {
			s.mu.Unlock()

			continue
		}

		m.mu.Lock()

		if m.sessions[s.key] == s {
			delete(m.sessions, s.key)
		}

		m.mu.Unlock()

		m.log.Info("evicting idle claude session", "session_key", s.key)
		s.proc.Terminate()
		s.mu.Unlock()
	}
}

// Close stops the reaper and terminates all remaining sessions. The
// session lock is taken before each termination, so an in-flight request
// finishes before its process is torn down. Subsequent Ask calls return
// ErrManagerClosed. Close is idempotent.
func (m *Manager) Close() {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return
	}

	m.closed = true
	remaining := make([]*session, 0, len(m.sessions))

	for _, s := range m.sessions {
		remaining = append(remaining, s)
	}

	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	close(m.stop)
	<-m.reaperDone

	for _, s := range remaining {
		s.mu.Lock()
		s.proc.Terminate()
		s.mu.Unlock()
	}

	m.log.Info("claude session manager closed")
}
