// Package api exposes the REST and WebSocket surface: account management,
// workspace/channel/DM CRUD, message history, and the relay upgrade route.
package api

import (
	"github.com/rs/zerolog"

	"github.com/Farhan-basha/Star-Systems/internal/auth"
	"github.com/Farhan-basha/Star-Systems/internal/bus"
	"github.com/Farhan-basha/Star-Systems/internal/relay"
	"github.com/Farhan-basha/Star-Systems/internal/store"
)

// API bundles the dependencies the HTTP handlers need.
type API struct {
	store  *store.Store
	tokens *auth.TokenManager
	relay  *relay.Handler
	engine *relay.Engine
	bus    *bus.Bus
	logger zerolog.Logger
}

// New builds the handler set. bus may be nil for single-node deployments.
func New(st *store.Store, tokens *auth.TokenManager, relayHandler *relay.Handler, engine *relay.Engine, b *bus.Bus, logger zerolog.Logger) *API {
	return &API{
		store:  st,
		tokens: tokens,
		relay:  relayHandler,
		engine: engine,
		bus:    b,
		logger: logger.With().Str("component", "api").Logger(),
	}
}
