// Package server wires the store, relay, bus and HTTP surface together and
// owns startup and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Farhan-basha/Star-Systems/internal/api"
	"github.com/Farhan-basha/Star-Systems/internal/auth"
	"github.com/Farhan-basha/Star-Systems/internal/bus"
	"github.com/Farhan-basha/Star-Systems/internal/config"
	"github.com/Farhan-basha/Star-Systems/internal/relay"
	"github.com/Farhan-basha/Star-Systems/internal/store"
)

type Server struct {
	cfg     *config.Config
	store   *store.Store
	bus     *bus.Bus
	relay   *relay.Handler
	httpSrv *http.Server
	logger  zerolog.Logger

	errCh chan error
}

// New assembles every component. Nothing listens yet; call Start.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	st, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := relay.NewRegistry(logger)
	engine := relay.NewEngine(registry, logger)
	relayHandler := relay.NewHandler(registry, engine, relay.HandlerConfig{
		MaxConnections: cfg.MaxConnections,
		SendBuffer:     cfg.SendBuffer,
		MessageRate:    cfg.MessageRate,
		MessageBurst:   cfg.MessageBurst,
	}, logger)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)

	var b *bus.Bus
	if cfg.NATSUrl != "" {
		b, err = bus.Connect(cfg.NATSUrl, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connect bus: %w", err)
		}
		// Every instance, including the publisher, delivers bus messages to
		// its local sessions.
		err = b.SubscribeChannelMessages(func(channelID uint64, payload []byte) {
			engine.BroadcastChat(relay.ChannelGroupKey(channelID), payload)
		})
		if err != nil {
			b.Close()
			st.Close()
			return nil, fmt.Errorf("subscribe bus: %w", err)
		}
	}

	a := api.New(st, tokens, relayHandler, engine, b, logger)

	s := &Server{
		cfg:    cfg,
		store:  st,
		bus:    b,
		relay:  relayHandler,
		logger: logger.With().Str("component", "server").Logger(),
		errCh:  make(chan error, 1),
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      a.Router(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return s, nil
}

// Start begins serving. It returns once the listener is bound; serve errors
// surface through Err.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("Server listening")

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.errCh <- err
		}
	}()
	return nil
}

// Err reports fatal serve errors.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Shutdown stops accepting new work, waits up to the configured grace period
// for live sessions to drain, then force-closes the stragglers and releases
// the store and bus.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().
		Int64("active_sessions", s.relay.ActiveSessions()).
		Msg("Shutdown started")

	httpCtx, cancel := context.WithTimeout(ctx, s.cfg.HTTPReadTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(httpCtx); err != nil && err != context.DeadlineExceeded {
		s.logger.Warn().Err(err).Msg("HTTP shutdown error")
	}

	grace := time.NewTimer(s.cfg.ShutdownGrace)
	defer grace.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

drain:
	for s.relay.ActiveSessions() > 0 {
		select {
		case <-grace.C:
			s.logger.Warn().
				Int64("remaining", s.relay.ActiveSessions()).
				Msg("Grace period expired, force closing sessions")
			s.relay.CloseAll()
			break drain
		case <-ctx.Done():
			s.relay.CloseAll()
			break drain
		case <-ticker.C:
		}
	}

	// Session teardown goroutines need a moment to run their deferred
	// leave/close sequence after a force close.
	for i := 0; i < 20 && s.relay.ActiveSessions() > 0; i++ {
		time.Sleep(50 * time.Millisecond)
	}

	s.bus.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Store close failed")
		return err
	}

	s.logger.Info().Msg("Shutdown complete")
	return nil
}
