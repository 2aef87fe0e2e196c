package relay

import (
	"github.com/Farhan-basha/Star-Systems/internal/monitoring"
	"github.com/rs/zerolog"
)

// Engine routes inbound payloads from sessions to the other members of
// their group. Two producers feed it: live sessions through HandleInbound,
// and the REST layer (directly or via the message bus) through
// BroadcastChat. Both funnel into the same registry broadcast primitive.
type Engine struct {
	registry *Registry
	logger   zerolog.Logger
}

func NewEngine(registry *Registry, logger zerolog.Logger) *Engine {
	return &Engine{
		registry: registry,
		logger:   logger,
	}
}

// HandleInbound decodes and relays one payload received from a session.
//
// Decode failures are recoverable: the failure reason goes back to the
// originating session only and the session stays active. Valid envelopes are
// relayed verbatim: chat to the whole group including the sender, signaling
// to everyone but the sender.
func (e *Engine) HandleInbound(s *Session, raw []byte) {
	typ, err := decodeEnvelope(raw)
	if err != nil {
		monitoring.RecordDecodeError()
		s.logger.Debug().Err(err).Msg("Inbound payload failed decoding")
		s.enqueue(errorReply(err))
		return
	}

	kind := classify(typ)
	e.registry.Broadcast(s.groupKey, raw, s.id, kind == KindSignaling)
	monitoring.RecordRelay(kind.String())
}

// BroadcastChat relays an externally produced chat payload to every member
// of the group. Used for messages created through the REST API.
func (e *Engine) BroadcastChat(groupKey string, payload []byte) {
	e.registry.Broadcast(groupKey, payload, 0, false)
	monitoring.RecordRelay(KindChat.String())
}
