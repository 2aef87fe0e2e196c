package relay

import (
	"sync/atomic"

	"github.com/Farhan-basha/Star-Systems/internal/monitoring"
	"github.com/rs/zerolog"
)

type opKind uint8

const (
	opJoin opKind = iota + 1
	opLeave
	opBroadcast
	opMembers
)

type command struct {
	op opKind

	// join
	session *Session

	// leave / broadcast origin; origin 0 means an external producer
	// (REST-created message funneled through the bus).
	sessionID int64

	// broadcast
	payload       []byte
	excludeOrigin bool

	// leave acknowledgement: closed once membership is removed.
	done chan struct{}

	// members query reply.
	reply chan []*Session
}

// group owns the member set for one group key. All mutations and broadcast
// fan-out for the group flow through a single worker goroutine draining cmds,
// which serializes dispatch per group without locking the relay path:
// every receiving session sees envelopes in queue-arrival order, and groups
// never coordinate with each other.
type group struct {
	key      string
	registry *Registry
	cmds     chan command
	members  map[int64]*Session

	// pending counts commands enqueued but not yet drained. It is
	// incremented under the registry lock, which is what makes eviction of
	// an idle group safe against a concurrent join.
	pending int64

	logger zerolog.Logger
}

const groupQueueSize = 64

func newGroup(key string, registry *Registry, logger zerolog.Logger) *group {
	return &group{
		key:      key,
		registry: registry,
		cmds:     make(chan command, groupQueueSize),
		members:  make(map[int64]*Session),
		logger:   logger.With().Str("group", key).Logger(),
	}
}

func (g *group) run() {
	for cmd := range g.cmds {
		g.handle(cmd)

		if atomic.AddInt64(&g.pending, -1) == 0 && len(g.members) == 0 {
			if g.registry.evict(g) {
				return
			}
		}
	}
}

func (g *group) handle(cmd command) {
	switch cmd.op {
	case opJoin:
		g.members[cmd.session.id] = cmd.session
		g.logger.Debug().
			Int64("session_id", cmd.session.id).
			Int("members", len(g.members)).
			Msg("Session joined group")

	case opLeave:
		delete(g.members, cmd.sessionID)
		close(cmd.done)
		g.logger.Debug().
			Int64("session_id", cmd.sessionID).
			Int("members", len(g.members)).
			Msg("Session left group")

	case opBroadcast:
		g.broadcast(cmd)

	case opMembers:
		snapshot := make([]*Session, 0, len(g.members))
		for _, s := range g.members {
			snapshot = append(snapshot, s)
		}
		cmd.reply <- snapshot
	}
}

// broadcast fans the payload out to the member set. Delivery to each member
// is independent and best-effort: a member whose buffer is full is skipped
// and the drop is never surfaced to the sender.
func (g *group) broadcast(cmd command) {
	if cmd.sessionID != 0 {
		if _, ok := g.members[cmd.sessionID]; !ok {
			// The sender claims membership the registry does not have.
			// That breaks the membership invariant, so this is an internal
			// error rather than a droppable delivery; the operation is
			// aborted but the group keeps running.
			monitoring.RecordRegistryViolation()
			g.logger.Error().
				Int64("session_id", cmd.sessionID).
				Msg("Broadcast from session not present in its own group")
			return
		}
	}

	for id, member := range g.members {
		if cmd.excludeOrigin && id == cmd.sessionID {
			continue
		}
		if !member.enqueue(cmd.payload) {
			monitoring.RecordDroppedDelivery()
			g.logger.Debug().
				Int64("session_id", id).
				Msg("Delivery dropped, receiver buffer full")
		}
	}
}
