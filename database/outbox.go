package database

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/model"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const outboxColumns = `event_id, aggregate_id, aggregate_type, event_type, payload, occurred_at, sequence,
	partition_key, processed_at, COALESCE(claimed_by, ''), claim_expires_at, attempts, last_error`

// insertOutboxEvents writes events inside the caller's transaction and, when configured,
// signals the dispatcher. NOTIFY is delivered only if the transaction commits.
func (d Datasource) insertOutboxEvents(ctx context.Context, tx *sql.Tx, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	for _, evt := range events {
		row, err := model.NewOutboxEvent(evt)
		if err != nil {
			return apierror.Wrap(apierror.ErrInternalServer, "failed to encode event", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO onboarding.outbox_events
				(event_id, aggregate_id, aggregate_type, event_type, payload, occurred_at, sequence, partition_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, row.EventID.String(), row.AggregateID, string(row.AggregateType), row.EventType,
			[]byte(row.Payload), row.OccurredAt, row.Sequence, row.PartitionKey)
		if err != nil {
			return mapError(err, "failed to write outbox event")
		}
	}
	if d.NotifyChannel != "" {
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, d.NotifyChannel, events[0].PartitionKey()); err != nil {
			return mapError(err, "failed to notify outbox listeners")
		}
	}
	return nil
}

// outboxClaimLock serialises claim transactions across dispatchers. Without it a claim that
// is still uncommitted is invisible to a concurrent claimer, which would skip the locked row
// and take the next event of the same aggregate.
const outboxClaimLock = `SELECT pg_advisory_xact_lock(hashtext('onboarding.outbox_claim'))`

// ClaimOutboxBatch leases up to limit unpublished rows to owner. Rows whose claim expired are
// claimable again. Aggregates with a live claim held by another owner are skipped so their
// events keep their order.
func (d Datasource) ClaimOutboxBatch(ctx context.Context, owner string, limit int, ttl time.Duration) ([]model.OutboxEvent, error) {
	var out []model.OutboxEvent
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, outboxClaimLock); err != nil {
			return mapError(err, "failed to lock outbox claims")
		}
		rows, err := tx.QueryContext(ctx, `
			WITH candidates AS (
				SELECT o.id
				FROM onboarding.outbox_events o
				WHERE o.processed_at IS NULL
				  AND (o.claimed_by IS NULL OR o.claimed_by = $1 OR o.claim_expires_at < NOW())
				  AND NOT EXISTS (
					SELECT 1 FROM onboarding.outbox_events b
					WHERE b.aggregate_id = o.aggregate_id
					  AND b.processed_at IS NULL
					  AND b.claimed_by IS NOT NULL
					  AND b.claimed_by <> $1
					  AND b.claim_expires_at >= NOW()
				  )
				ORDER BY o.occurred_at, o.sequence
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			UPDATE onboarding.outbox_events e
			SET claimed_by = $1, claim_expires_at = NOW() + ($3 * INTERVAL '1 millisecond')
			FROM candidates
			WHERE e.id = candidates.id
			RETURNING `+outboxColumns, owner, limit, ttl.Milliseconds())
		if err != nil {
			return mapError(err, "failed to claim outbox events")
		}
		defer rows.Close()

		for rows.Next() {
			evt, err := scanOutboxEvent(rows)
			if err != nil {
				return err
			}
			out = append(out, evt)
		}
		return mapError(rows.Err(), "failed to read claimed outbox events")
	})
	if err != nil {
		return nil, err
	}

	// RETURNING does not preserve the CTE order.
	sortOutbox(out)
	return out, nil
}

// MarkOutboxProcessed records the channel acknowledgement. It fails with CONFLICT when the
// claim was lost to another owner in the meantime.
func (d Datasource) MarkOutboxProcessed(ctx context.Context, eventID model.EventID, owner, streamID string) error {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE onboarding.outbox_events
		SET processed_at = NOW(), stream_id = $3, claimed_by = NULL, claim_expires_at = NULL
		WHERE event_id = $1 AND claimed_by = $2 AND processed_at IS NULL
	`, eventID.String(), owner, streamID)
	if err != nil {
		return mapError(err, "failed to mark outbox event processed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, "failed to mark outbox event processed")
	}
	if n == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, "outbox claim lost", eventID.String())
	}
	return nil
}

// RecordOutboxFailure counts a failed publish and releases the row's claim.
func (d Datasource) RecordOutboxFailure(ctx context.Context, eventID model.EventID, owner, reason string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE onboarding.outbox_events
		SET attempts = attempts + 1, last_error = $3, claimed_by = NULL, claim_expires_at = NULL
		WHERE event_id = $1 AND claimed_by = $2
	`, eventID.String(), owner, reason)
	return mapError(err, "failed to record outbox failure")
}

func (d Datasource) ReleaseOutboxClaims(ctx context.Context, owner string, eventIDs []model.EventID) error {
	if len(eventIDs) == 0 {
		return nil
	}
	ids := make([]string, len(eventIDs))
	for i, id := range eventIDs {
		ids[i] = id.String()
	}
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE onboarding.outbox_events
		SET claimed_by = NULL, claim_expires_at = NULL
		WHERE claimed_by = $1 AND processed_at IS NULL AND event_id::text = ANY($2)
	`, owner, pq.Array(ids))
	return mapError(err, "failed to release outbox claims")
}

// ListCaseEvents returns the whole event log of a case and its work item in publish order.
func (d Datasource) ListCaseEvents(ctx context.Context, caseID model.CaseID) ([]model.OutboxEvent, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM onboarding.outbox_events
		WHERE partition_key = $1
		ORDER BY occurred_at, sequence
	`, caseID.String())
	if err != nil {
		return nil, mapError(err, "failed to list case events")
	}
	defer rows.Close()

	var out []model.OutboxEvent
	for rows.Next() {
		evt, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, mapError(rows.Err(), "failed to list case events")
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOutboxEvent(s scanner) (model.OutboxEvent, error) {
	var (
		evt     model.OutboxEvent
		eventID string
		aggType string
		payload []byte
	)
	err := s.Scan(&eventID, &evt.AggregateID, &aggType, &evt.EventType, &payload, &evt.OccurredAt, &evt.Sequence,
		&evt.PartitionKey, &evt.ProcessedAt, &evt.ClaimedBy, &evt.ClaimExpiresAt, &evt.Attempts, &evt.LastError)
	if err != nil {
		return evt, mapError(err, "failed to scan outbox event")
	}
	id, err := model.ParseEventID(eventID)
	if err != nil {
		return evt, apierror.Wrap(apierror.ErrInternalServer, "corrupt outbox event id", errors.WithStack(err))
	}
	evt.EventID = id
	evt.AggregateType = model.AggregateType(aggType)
	evt.Payload = payload
	return evt, nil
}

func sortOutbox(events []model.OutboxEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].Sequence < events[j].Sequence
	})
}
