package database

import (
	"context"
	"database/sql"

	"github.com/blnkfinance/onboarding/model"
)

// ParkDelivery stores a delivery the task queue refused. Parking the same event twice
// keeps the first row.
func (d Datasource) ParkDelivery(ctx context.Context, p model.ParkedDelivery) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO onboarding.delivery_backlog (kind, event_id, payload, last_error)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, event_id) DO NOTHING
	`, string(p.Kind), p.EventID, []byte(p.Payload), p.LastError)
	return mapError(err, "failed to park delivery")
}

// DrainParkedDeliveries hands up to limit parked rows, oldest first, to requeue and
// deletes each one it accepts. Rows are locked for the duration so concurrent drains skip
// them. The first rejection is recorded on its row and ends the drain.
func (d Datasource) DrainParkedDeliveries(ctx context.Context, limit int, requeue func(model.ParkedDelivery) error) (int, error) {
	drained := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, kind, event_id, payload, attempts, last_error, parked_at
			FROM onboarding.delivery_backlog
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return mapError(err, "failed to read parked deliveries")
		}
		var parked []model.ParkedDelivery
		for rows.Next() {
			var (
				p       model.ParkedDelivery
				kind    string
				payload []byte
			)
			if err := rows.Scan(&p.ID, &kind, &p.EventID, &payload, &p.Attempts, &p.LastError, &p.ParkedAt); err != nil {
				_ = rows.Close()
				return mapError(err, "failed to scan parked delivery")
			}
			p.Kind = model.DeliveryKind(kind)
			p.Payload = payload
			parked = append(parked, p)
		}
		if err := rows.Close(); err != nil {
			return mapError(err, "failed to read parked deliveries")
		}
		if err := rows.Err(); err != nil {
			return mapError(err, "failed to read parked deliveries")
		}

		for _, p := range parked {
			if rerr := requeue(p); rerr != nil {
				_, err := tx.ExecContext(ctx, `
					UPDATE onboarding.delivery_backlog
					SET attempts = attempts + 1, last_error = $2
					WHERE id = $1
				`, p.ID, rerr.Error())
				return mapError(err, "failed to record parked delivery failure")
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM onboarding.delivery_backlog WHERE id = $1`, p.ID); err != nil {
				return mapError(err, "failed to remove parked delivery")
			}
			drained++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return drained, nil
}
