package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ChangeChannel is the NOTIFY channel the table triggers write to.
const ChangeChannel = "leadgen_changes"

// PGListener relays Postgres change notifications into a Hub.
type PGListener struct {
	pool   *pgxpool.Pool
	hub    *Hub
	logger *zap.Logger
	retry  time.Duration
}

// NewPGListener creates a listener for ChangeChannel.
func NewPGListener(pool *pgxpool.Pool, hub *Hub, logger *zap.Logger) *PGListener {
	return &PGListener{pool: pool, hub: hub, logger: logger, retry: 5 * time.Second}
}

// Run listens until ctx is done, reconnecting after connection failures.
func (l *PGListener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("change listener disconnected", zap.Error(err), zap.Duration("retry_in", l.retry))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retry):
		}
	}
}

func (l *PGListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	l.logger.Info("listening for table changes", zap.String("channel", ChangeChannel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := DecodeNotification(n.Payload)
		if err != nil {
			l.logger.Warn("ignoring malformed change notification", zap.String("payload", n.Payload), zap.Error(err))
			continue
		}
		l.hub.Publish(ev)
	}
}

// DecodeNotification parses a trigger payload.
func DecodeNotification(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, err
	}
	if ev.Table == "" || ev.Type == "" {
		return Event{}, errors.New("notification missing table or type")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return ev, nil
}
