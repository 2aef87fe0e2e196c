package relay

import (
	"sync"
	"sync/atomic"

	"github.com/Farhan-basha/Star-Systems/internal/monitoring"
	"github.com/rs/zerolog"
)

// Registry maps group keys to live groups. Groups are created lazily on
// first join and evicted once the last member leaves; membership is purely a
// function of currently open connections and nothing survives a restart.
//
// The registry is an injected dependency, not process-global state: tests and
// the server construct their own instances.
type Registry struct {
	mu     sync.Mutex
	groups map[string]*group
	logger zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		groups: make(map[string]*group),
		logger: logger,
	}
}

// acquire looks up the group for key, optionally creating it, and reserves
// one command slot on it. The pending increment happens under the registry
// lock so the group worker cannot evict itself between lookup and enqueue.
func (r *Registry) acquire(key string, create bool) *group {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.groups[key]
	if g == nil {
		if !create {
			return nil
		}
		g = newGroup(key, r, r.logger)
		r.groups[key] = g
		monitoring.GroupsActive.Inc()
		go g.run()
	}

	atomic.AddInt64(&g.pending, 1)
	return g
}

// evict removes an empty group from the map. It fails when a command was
// enqueued concurrently; the worker then keeps running and retries after
// draining it.
func (r *Registry) evict(g *group) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if atomic.LoadInt64(&g.pending) != 0 {
		return false
	}

	delete(r.groups, g.key)
	monitoring.GroupsActive.Dec()
	g.logger.Debug().Msg("Group evicted")
	return true
}

// Join adds the session to its group, creating the group with its first
// member. Duplicate joins of the same session collapse into one membership.
func (r *Registry) Join(s *Session) {
	g := r.acquire(s.groupKey, true)
	g.cmds <- command{op: opJoin, session: s}
}

// Leave removes the session from its group and returns once the membership
// is gone: after Leave returns, no further broadcast reaches the session and
// Members no longer reports it. Safe to call twice; leaving an already
// evicted group is a no-op.
func (r *Registry) Leave(s *Session) {
	g := r.acquire(s.groupKey, false)
	if g == nil {
		return
	}

	done := make(chan struct{})
	g.cmds <- command{op: opLeave, sessionID: s.id, done: done}
	<-done
}

// Broadcast fans payload out to the members of the group. origin identifies
// the sending session (0 for external producers) and excludeOrigin selects
// the signaling semantics of skipping the sender.
func (r *Registry) Broadcast(key string, payload []byte, origin int64, excludeOrigin bool) {
	g := r.acquire(key, false)
	if g == nil {
		if origin != 0 {
			// A live session broadcast into a group the registry does not
			// know. Membership is supposed to outlive every in-flight
			// operation of its sessions, so surface it loudly.
			monitoring.RecordRegistryViolation()
			r.logger.Error().
				Str("group", key).
				Int64("session_id", origin).
				Msg("Broadcast into a group with no registry entry")
		}
		// External producers routinely target groups with no one connected.
		return
	}

	g.cmds <- command{op: opBroadcast, payload: payload, sessionID: origin, excludeOrigin: excludeOrigin}
}

// Members returns a snapshot of the sessions currently in the group.
func (r *Registry) Members(key string) []*Session {
	g := r.acquire(key, false)
	if g == nil {
		return nil
	}

	reply := make(chan []*Session, 1)
	g.cmds <- command{op: opMembers, reply: reply}
	return <-reply
}

// GroupCount reports the number of live groups.
func (r *Registry) GroupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}
