package relay

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next frame from the peer. Pongs refresh it.
	pongWait = 30 * time.Second

	// Ping period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Session owns one upgraded client connection. It belongs to exactly one
// group for its whole lifetime and is the unit of membership in the registry.
type Session struct {
	id       int64
	groupKey string
	identity Identity
	conn     net.Conn
	send     chan []byte

	limiter     *rate.Limiter
	connectedAt time.Time
	closeOnce   sync.Once
	logger      zerolog.Logger
}

// Identity is the verified user behind a session.
type Identity struct {
	UserID   uint64
	Username string
}

// SessionConfig bundles the per-session tunables the handler passes in.
type SessionConfig struct {
	SendBuffer   int
	MessageRate  float64
	MessageBurst int
}

func newSession(id int64, groupKey string, identity Identity, conn net.Conn, cfg SessionConfig, logger zerolog.Logger) *Session {
	return &Session{
		id:          id,
		groupKey:    groupKey,
		identity:    identity,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBuffer),
		limiter:     rate.NewLimiter(rate.Limit(cfg.MessageRate), cfg.MessageBurst),
		connectedAt: time.Now(),
		logger: logger.With().
			Int64("session_id", id).
			Str("group", groupKey).
			Logger(),
	}
}

// ID returns the session identifier, unique per connection.
func (s *Session) ID() int64 { return s.id }

// enqueue hands a payload to the session's write pump. Delivery is
// best-effort: a full buffer drops the payload and reports false.
func (s *Session) enqueue(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// terminate force-closes the underlying transport. Safe to call more than
// once and concurrently with the pumps; the read pump unblocks immediately.
func (s *Session) terminate() {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// readPump reads inbound frames and feeds them to the engine until the
// transport fails or the client closes. It runs on the handler goroutine;
// teardown happens in the handler once it returns.
func (s *Session) readPump(engine *Engine) {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(s.conn)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Read loop ended")
			return
		}

		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			if !s.limiter.Allow() {
				// Report to the sender only and drop the frame; persistent
				// offenders see repeated errors, not a disconnect.
				s.enqueue(errorReply(errRateLimited))
				continue
			}
			engine.HandleInbound(s, msg)
		case ws.OpClose:
			return
		}
	}
}

// writePump drains the send buffer to the connection, batching writes and
// keeping the connection alive with pings. It exits when the send channel
// closes (session left its group) or a write fails.
func (s *Session) writePump() {
	writer := bufio.NewWriter(s.conn)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.terminate()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				wsutil.WriteServerMessage(s.conn, ws.OpClose, nil)
				return
			}

			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, payload); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to write message")
				return
			}

			// Batch whatever else is already queued before flushing.
			n := len(s.send)
			for i := 0; i < n; i++ {
				payload, ok = <-s.send
				if !ok {
					writer.Flush()
					wsutil.WriteServerMessage(s.conn, ws.OpClose, nil)
					return
				}
				if err := wsutil.WriteServerMessage(writer, ws.OpText, payload); err != nil {
					s.logger.Debug().Err(err).Msg("Failed to write message")
					return
				}
			}

			if err := writer.Flush(); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to flush writer")
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(s.conn, ws.OpPing, nil); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}
