package store

import (
	"context"
	"database/sql"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

// InsertDelivery persists a raw webhook delivery, deduping on the
// (provider, delivery_id) unique constraint: a replayed delivery_id results
// in at most one enqueued job. Returns (false, nil) without error when the
// delivery has already been seen, so the caller can short-circuit before
// doing any further work. The dedup check and the insert are a single
// INSERT ... ON CONFLICT DO NOTHING statement, so two concurrent replays of
// the same delivery_id can't both insert; the follow-up SELECT only fetches
// the existing row's id.
func (c *client) InsertDelivery(ctx context.Context, d *contracts.WebhookDelivery) (bool, error) {
	c.incrCall("database")

	row := c.db.QueryRowContext(ctx, `
		INSERT INTO webhook_event (provider, event_type, delivery_id, signature_valid, payload, processed, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider, delivery_id) DO NOTHING
		RETURNING id, created_at
	`, d.Provider, d.EventType, d.DeliveryID, d.SignatureValid, d.Payload, d.Processed, d.ErrorMessage)

	if err := row.Scan(&d.ID, &d.CreatedAt); err != nil {
		if err != sql.ErrNoRows {
			return false, classifyDBError(err)
		}

		var existingID int64
		if err := c.db.QueryRowContext(ctx, `SELECT id FROM webhook_event WHERE provider = $1 AND delivery_id = $2`, d.Provider, d.DeliveryID).Scan(&existingID); err != nil {
			return false, classifyDBError(err)
		}
		d.ID = existingID
		return false, nil
	}
	return true, nil
}

// MarkDeliveryProcessed records the outcome fields of a delivery, the
// only fields allows to mutate after insert.
func (c *client) MarkDeliveryProcessed(ctx context.Context, id int64, jobID *int64, errorMessage string) error {
	c.incrCall("database")

	_, err := c.db.ExecContext(ctx, `
		UPDATE webhook_event SET processed = TRUE, job_id = $1, error_message = $2 WHERE id = $3
	`, jobID, errorMessage, id)
	return classifyDBError(err)
}

// MarkDeliveryFailed records a delivery that could not be turned into a
// job (a signature-valid payload that failed to parse or enqueue). It
// leaves processed FALSE, distinguishing "awaiting replay" from the
// permanently-filtered and successfully-enqueued outcomes MarkDeliveryProcessed
// covers.
func (c *client) MarkDeliveryFailed(ctx context.Context, id int64, errorMessage string) error {
	c.incrCall("database")

	_, err := c.db.ExecContext(ctx, `
		UPDATE webhook_event SET processed = FALSE, error_message = $1 WHERE id = $2
	`, errorMessage, id)
	return classifyDBError(err)
}
