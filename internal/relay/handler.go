package relay

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Farhan-basha/Star-Systems/internal/auth"
	"github.com/Farhan-basha/Star-Systems/internal/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
)

// Handler upgrades handshake requests into relay sessions.
//
// The admission split: the identity middleware resolves the credential
// fail-soft before the request gets here, and this handler rejects the
// connection hard when the resolved identity is anonymous. The socket is
// closed with a policy-violation frame and no group join happens.
type Handler struct {
	registry *Registry
	engine   *Engine

	sessioncfg     SessionConfig
	maxConnections int64

	nextSessionID int64
	active        int64
	sessions      sync.Map // map[int64]*Session

	logger zerolog.Logger
}

// HandlerConfig bundles the handler tunables.
type HandlerConfig struct {
	MaxConnections int
	SendBuffer     int
	MessageRate    float64
	MessageBurst   int
}

func NewHandler(registry *Registry, engine *Engine, cfg HandlerConfig, logger zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		engine:   engine,
		sessioncfg: SessionConfig{
			SendBuffer:   cfg.SendBuffer,
			MessageRate:  cfg.MessageRate,
			MessageBurst: cfg.MessageBurst,
		},
		maxConnections: int64(cfg.MaxConnections),
		logger:         logger,
	}
}

// GroupKeyFromRoom maps the room path segment onto a group key. The
// "dm_<id>" and "channel_<id>" forms address conversations; anything else is
// a free-form test room with no isolation beyond the key string itself.
func GroupKeyFromRoom(room string) string {
	if id, ok := numericSuffix(room, "dm_"); ok {
		return "dm:" + id
	}
	if id, ok := numericSuffix(room, "channel_"); ok {
		return "channel:" + id
	}
	return room
}

// ChannelGroupKey returns the group key live members of a channel join.
func ChannelGroupKey(channelID uint64) string {
	return fmt.Sprintf("channel:%d", channelID)
}

func numericSuffix(room, prefix string) (string, bool) {
	if !strings.HasPrefix(room, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(room, prefix)
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return "", false
	}
	return id, true
}

// HandleRoom is the gin handler for /ws/chat/:room.
func (h *Handler) HandleRoom(c *gin.Context) {
	h.serve(c, GroupKeyFromRoom(c.Param("room")))
}

func (h *Handler) serve(c *gin.Context, groupKey string) {
	identity := auth.IdentityFrom(c.Request.Context())

	if atomic.LoadInt64(&h.active) >= h.maxConnections {
		monitoring.ConnectionsFailed.Inc()
		h.logger.Warn().
			Str("group", groupKey).
			Int64("active", atomic.LoadInt64(&h.active)).
			Msg("Connection rejected, at capacity")
		c.String(http.StatusServiceUnavailable, "server at capacity")
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(c.Request, c.Writer)
	if err != nil {
		monitoring.ConnectionsFailed.Inc()
		h.logger.Error().
			Err(err).
			Str("remote_addr", c.Request.RemoteAddr).
			Msg("WebSocket upgrade failed")
		return
	}

	if identity.IsAnonymous() {
		// Rejected connections get a close signal and nothing else; no
		// session is created and the group never sees them.
		monitoring.AdmissionsRejected.Inc()
		h.logger.Info().
			Str("group", groupKey).
			Str("remote_addr", c.Request.RemoteAddr).
			Msg("Unauthenticated handshake closed")
		body := ws.NewCloseFrameBody(ws.StatusPolicyViolation, "authentication required")
		ws.WriteFrame(conn, ws.NewCloseFrame(body))
		conn.Close()
		return
	}

	s := newSession(
		atomic.AddInt64(&h.nextSessionID, 1),
		groupKey,
		Identity{UserID: identity.UserID, Username: identity.Username},
		conn,
		h.sessioncfg,
		h.logger,
	)

	h.registry.Join(s)
	h.sessions.Store(s.id, s)
	active := atomic.AddInt64(&h.active, 1)
	monitoring.ConnectionsTotal.Inc()
	monitoring.ConnectionsActive.Inc()

	s.logger.Info().
		Str("username", identity.Username).
		Int64("active_connections", active).
		Msg("Session connected")

	defer func() {
		// Leave returns only after the membership is gone, so the send
		// channel can be closed without racing a group broadcast.
		h.registry.Leave(s)
		close(s.send)
		s.terminate()

		h.sessions.Delete(s.id)
		atomic.AddInt64(&h.active, -1)
		monitoring.ConnectionsActive.Dec()

		s.logger.Info().
			Dur("duration", time.Since(s.connectedAt)).
			Msg("Session disconnected")
	}()

	go s.writePump()
	s.readPump(h.engine)
}

// ActiveSessions reports the number of connected sessions.
func (h *Handler) ActiveSessions() int64 {
	return atomic.LoadInt64(&h.active)
}

// GroupCount reports the number of live relay groups.
func (h *Handler) GroupCount() int {
	return h.registry.GroupCount()
}

// CloseAll force-closes every live session. Used by graceful shutdown after
// the drain grace period expires; each handler goroutine then runs its own
// teardown.
func (h *Handler) CloseAll() {
	h.sessions.Range(func(_, value any) bool {
		value.(*Session).terminate()
		return true
	})
}
