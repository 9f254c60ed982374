package attach

import (
	"strings"
	"sync"
)

// EnvSession carries the launch session a launcher-spawned attach tool
// sends with its request.
const EnvSession = "LEAKWATCH_ATTACH_SESSION"

// LaunchSessionPrefix marks sessions opened by a launch. Other sessions are
// manual attaches and are not tracked.
const LaunchSessionPrefix = "launch-"

// IsLaunchSession reports whether id was opened by a launch.
func IsLaunchSession(id string) bool {
	return strings.HasPrefix(id, LaunchSessionPrefix)
}

// Sessions tracks open launches and the entry-point runs admitted under
// them. A launch opens its session before spawning the attach tool and
// closes it before it leaves the exit guard. Closing waits for every
// admitted run; a closed or unknown launch session admits nothing.
type Sessions struct {
	mu   sync.Mutex
	open map[string]*sync.WaitGroup
}

// NewSessions creates an empty session table.
func NewSessions() *Sessions {
	return &Sessions{open: make(map[string]*sync.WaitGroup)}
}

// Open registers id and returns the function that closes it. The close
// function blocks until every run admitted under id has finished.
func (s *Sessions) Open(id string) (closeSession func()) {
	wg := &sync.WaitGroup{}
	s.mu.Lock()
	s.open[id] = wg
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if s.open[id] == wg {
			delete(s.open, id)
		}
		s.mu.Unlock()
		// No Add can follow: admit only sees sessions still in the map.
		wg.Wait()
	}
}

// Admit reserves a run under id. done must be called when the run ends.
func (s *Sessions) Admit(id string) (done func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wg, ok := s.open[id]
	if !ok {
		return nil, false
	}
	wg.Add(1)
	return sync.OnceFunc(wg.Done), true
}
