package relay

import (
	"encoding/json"
	"errors"
)

// Envelope type discriminator values that take the signaling path. Anything
// else, including a missing or non-string type field, is relayed as chat.
const (
	TypeOffer        = "webrtc_offer"
	TypeAnswer       = "webrtc_answer"
	TypeICECandidate = "webrtc_ice_candidate"
)

// Kind classifies a decoded envelope for dispatch.
type Kind int

const (
	// KindChat envelopes are echoed to every group member including the
	// sender; clients render their own messages from the echo.
	KindChat Kind = iota

	// KindSignaling envelopes go to every group member except the sender,
	// so a client never receives its own offer or candidate.
	KindSignaling
)

func (k Kind) String() string {
	if k == KindSignaling {
		return "signaling"
	}
	return "chat"
}

var (
	errEmptyEnvelope = errors.New("envelope is not a JSON object")
	errRateLimited   = errors.New("rate limit exceeded, slow down")
)

// decodeEnvelope validates that raw is a JSON object and extracts the type
// discriminator. The inner fields are never inspected; the envelope bytes
// are relayed verbatim.
func decodeEnvelope(raw []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", err
	}
	if fields == nil {
		return "", errEmptyEnvelope
	}

	var typ string
	if rawType, ok := fields["type"]; ok {
		// A non-string type field decodes to "" and classifies as chat.
		_ = json.Unmarshal(rawType, &typ)
	}
	return typ, nil
}

// classify maps the type discriminator onto a dispatch path.
func classify(typ string) Kind {
	switch typ {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return KindSignaling
	default:
		return KindChat
	}
}

// errorReply builds the reply sent to the originating session when its
// payload fails decoding.
func errorReply(err error) []byte {
	reply, _ := json.Marshal(map[string]string{"error": err.Error()})
	return reply
}
