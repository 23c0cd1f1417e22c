package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/berth-dev/berth/internal/domain"
)

// InsertEvents persists a batch of log events and returns how many rows were
// newly written. The insert is a no-op for any event id already stored,
// which absorbs bus redelivery: replaying a batch after a crash produces the
// same rows as a clean run.
func (r *Repository) InsertEvents(ctx context.Context, events []domain.LogEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	const query = `INSERT INTO log_events (event_id, deployment_id, project_id, seq, kind, message, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`
	batch := &pgx.Batch{}
	for _, event := range events {
		batch.Queue(query,
			event.ID,
			event.DeploymentID,
			event.ProjectID,
			int64(event.Seq),
			event.Kind,
			event.Message,
			event.EmittedAt,
		)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	inserted := 0
	for range events {
		tag, err := br.Exec()
		if err != nil {
			return inserted, mapError(err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListEventsByDeployment returns stored events in sequence order, starting
// after the provided sequence number. Storage order never changes once
// written, so pagination by seq is stable.
func (r *Repository) ListEventsByDeployment(ctx context.Context, deploymentID string, afterSeq uint64, limit int) ([]domain.LogEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	const query = `SELECT event_id, deployment_id, project_id, seq, kind, message, emitted_at
		FROM log_events WHERE deployment_id = $1 AND seq > $2
		ORDER BY seq ASC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, deploymentID, int64(afterSeq), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.LogEvent, 0)
	for rows.Next() {
		var (
			event domain.LogEvent
			seq   int64
		)
		if err := rows.Scan(&event.ID, &event.DeploymentID, &event.ProjectID, &seq, &event.Kind, &event.Message, &event.EmittedAt); err != nil {
			return nil, err
		}
		event.Seq = uint64(seq)
		events = append(events, event)
	}
	return events, rows.Err()
}
