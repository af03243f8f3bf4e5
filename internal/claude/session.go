package claude

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/subprocess"
)

// session binds one key to one child process. The mutex serializes whole
// write-then-read cycles; lastUsed is atomic because the reaper reads it
// without taking the session lock.
type session struct {
	key  string
	proc *subprocess.Process

	mu       sync.Mutex
	lastUsed atomic.Int64 // unix nanoseconds
}

func newSession(key string, proc *subprocess.Process, now time.Time) *session {
	s := &session{key: key, proc: proc}
	s.touch(now)

	return s
}

func (s *session) touch(now time.Time) {
	s.lastUsed.Store(now.UnixNano())
}

func (s *session) idleSince(cutoff time.Time) bool {
	return time.Unix(0, s.lastUsed.Load()).Before(cutoff)
}
