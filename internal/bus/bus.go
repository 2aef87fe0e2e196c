// Package bus fans channel messages out across relay instances over NATS.
// It is optional: a nil *Bus is a valid no-op and the relay works
// single-node without it.
package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const channelSubjectPrefix = "chat.channel."

// ChannelSubject is the NATS subject carrying messages for one channel.
func ChannelSubject(channelID uint64) string {
	return fmt.Sprintf("%s%d", channelSubjectPrefix, channelID)
}

// Bus is a thin wrapper over a NATS connection scoped to chat subjects.
type Bus struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	logger zerolog.Logger
}

// Connect dials NATS with indefinite reconnects. The relay keeps running
// through broker outages; messages published while disconnected are lost,
// same as any dropped delivery.
func Connect(url string, logger zerolog.Logger) (*Bus, error) {
	b := &Bus{logger: logger.With().Str("component", "bus").Logger()}

	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			b.logger.Error().Err(err).Msg("nats error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	b.conn = conn
	b.logger.Info().Str("url", url).Msg("connected to nats")
	return b, nil
}

// PublishChannelMessage sends a channel message payload to every subscribed
// relay instance, including this one.
func (b *Bus) PublishChannelMessage(channelID uint64, payload []byte) error {
	if b == nil {
		return nil
	}
	if err := b.conn.Publish(ChannelSubject(channelID), payload); err != nil {
		return fmt.Errorf("publish to %s: %w", ChannelSubject(channelID), err)
	}
	return nil
}

// SubscribeChannelMessages invokes fn for every channel message published by
// any instance. The channel id is recovered from the subject tail.
func (b *Bus) SubscribeChannelMessages(fn func(channelID uint64, payload []byte)) error {
	if b == nil {
		return nil
	}
	sub, err := b.conn.Subscribe(channelSubjectPrefix+"*", func(msg *nats.Msg) {
		var channelID uint64
		if _, err := fmt.Sscanf(msg.Subject, channelSubjectPrefix+"%d", &channelID); err != nil {
			b.logger.Warn().Str("subject", msg.Subject).Msg("unparseable channel subject")
			return
		}
		fn(channelID, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s*: %w", channelSubjectPrefix, err)
	}
	b.sub = sub
	return nil
}

// Connected reports broker reachability for health checks.
func (b *Bus) Connected() bool {
	return b != nil && b.conn != nil && b.conn.IsConnected()
}

// Close drains the subscription and closes the connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			b.logger.Warn().Err(err).Msg("unsubscribe failed")
		}
	}
	if b.conn != nil {
		b.conn.Close()
		b.logger.Info().Msg("nats connection closed")
	}
}
