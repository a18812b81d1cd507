package emulator

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/maxpert/cqnwatch/notify"
)

const queueTable = internalTablePrefix + "_aq"

// Enqueue stores a message on queue for consumer and notifies queue
// registrations named "QUEUE" or "QUEUE:CONSUMER".
func (s *Server) Enqueue(ctx context.Context, queue, consumer string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}

	now := time.Now()
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO "+queueTable+" (queue, consumer, payload, enqueued_at) VALUES (?, ?, ?, ?)",
		queue, consumer, payload, now.UnixNano())
	if err != nil {
		return sqlError("Enqueue", "enqueue", err)
	}

	s.out.push(&notify.Notice{
		Kind:     notify.KindEnqueue,
		Database: s.opts.DatabaseName,
		Queue:    queue,
		Consumer: consumer,
		At:       now,
	})
	return nil
}

// Dequeue removes and returns the oldest message on queue for consumer.
// ok is false when the queue is empty.
func (s *Server) Dequeue(ctx context.Context, queue, consumer string) (payload []byte, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrServerClosed
	}

	var msgID int64
	err = s.conn.QueryRowContext(ctx,
		"SELECT id, payload FROM "+queueTable+" WHERE queue = ? AND consumer = ? ORDER BY id LIMIT 1",
		queue, consumer).Scan(&msgID, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, sqlError("Dequeue", "dequeue", err)
	}

	_, err = s.conn.ExecContext(ctx, "DELETE FROM "+queueTable+" WHERE id = ?", msgID)
	if err != nil {
		return nil, false, sqlError("Dequeue", "dequeue", err)
	}
	return payload, true, nil
}
