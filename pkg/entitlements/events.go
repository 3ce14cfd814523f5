package entitlements

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"

	"github.com/La-R19/fiverecruit/pkg/observability"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

// DefaultChannel is the NOTIFY channel for entitlement changes
const DefaultChannel = "entitlement_changed"

// Publisher announces that a server's entitlement inputs changed. It runs
// inside the mutating transaction so the event is only delivered on commit.
type Publisher interface {
	ServerChanged(ctx context.Context, exec postgres.Execer, serverID string) error
}

// NotifyPublisher publishes through PostgreSQL NOTIFY
type NotifyPublisher struct {
	channel string
}

// NewNotifyPublisher creates a publisher on channel
func NewNotifyPublisher(channel string) *NotifyPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &NotifyPublisher{channel: channel}
}

// ServerChanged queues a notification carrying the server id
func (p *NotifyPublisher) ServerChanged(ctx context.Context, exec postgres.Execer, serverID string) error {
	if _, err := exec.ExecContext(ctx, `SELECT pg_notify($1, $2)`, p.channel, serverID); err != nil {
		return fmt.Errorf("failed to publish entitlement change: %w", err)
	}
	return nil
}

// NopPublisher drops events. Used where no cache listens, and on SQLite.
type NopPublisher struct{}

// ServerChanged does nothing
func (NopPublisher) ServerChanged(context.Context, postgres.Execer, string) error { return nil }

// Invalidator is the part of CachedResolver the listener drives
type Invalidator interface {
	Invalidate(ctx context.Context, serverID, origin string)
	Purge()
}

// Listener keeps a dedicated connection LISTENing for entitlement changes
// and invalidates the memo on every notification. After a reconnect the
// local memo is purged since notifications may have been missed.
type Listener struct {
	connString   string
	channel      string
	cache        Invalidator
	reconnectMax time.Duration
	logger       *observability.Logger
}

// NewListener creates a listener; Run starts it
func NewListener(connString, channel string, cache Invalidator, reconnectMax time.Duration, logger *observability.Logger) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	if reconnectMax <= 0 {
		reconnectMax = 30 * time.Second
	}
	return &Listener{
		connString:   connString,
		channel:      channel,
		cache:        cache,
		reconnectMax: reconnectMax,
		logger:       logger.WithField("component", "entitlement_listener"),
	}
}

// Run listens until ctx is cancelled, reconnecting with backoff
func (l *Listener) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = l.reconnectMax
	b.MaxElapsedTime = 0

	for {
		err := l.listen(ctx, b)
		if ctx.Err() != nil {
			return nil
		}

		wait := b.NextBackOff()
		l.logger.WithError(err).WithField("retry_in", wait.String()).Warn("entitlement listener disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (l *Listener) listen(ctx context.Context, b backoff.BackOff) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect listener: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.channel, err)
	}

	b.Reset()
	l.cache.Purge()
	l.logger.WithField("channel", l.channel).Info("entitlement listener connected")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("failed to wait for notification: %w", err)
		}
		if n.Payload == "" {
			continue
		}
		l.cache.Invalidate(ctx, n.Payload, "notify")
	}
}
