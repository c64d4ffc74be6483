package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/corrit-electric/autopay/internal/apierror"
	"github.com/corrit-electric/autopay/model"
)

const debitColumns = `debit_id, mandate_id, order_id, transaction_id, amount, scheduled_date, processed_date, status, gateway_status, retry_count, failure_reason, raw_payload, created_at`

func scanDebitAttempt(row interface{ Scan(...interface{}) error }) (*model.DebitAttempt, error) {
	attempt := &model.DebitAttempt{}
	var orderID, transactionID, gatewayStatus, failureReason sql.NullString
	var processedDate sql.NullTime
	var rawPayload []byte
	err := row.Scan(&attempt.DebitID, &attempt.MandateID, &orderID, &transactionID, &attempt.Amount, &attempt.ScheduledDate, &processedDate, &attempt.Status, &gatewayStatus, &attempt.RetryCount, &failureReason, &rawPayload, &attempt.CreatedAt)
	if err != nil {
		return nil, err
	}
	attempt.OrderID = orderID.String
	attempt.TransactionID = transactionID.String
	attempt.GatewayStatus = gatewayStatus.String
	attempt.FailureReason = failureReason.String
	if processedDate.Valid {
		attempt.ProcessedDate = &processedDate.Time
	}
	attempt.RawPayload = rawPayload
	return attempt, nil
}

func (d Datasource) RecordDebitAttempt(ctx context.Context, attempt *model.DebitAttempt) (*model.DebitAttempt, error) {
	var rawPayload interface{}
	if len(attempt.RawPayload) > 0 {
		rawPayload = []byte(attempt.RawPayload)
	}

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO debit_attempts(debit_id,mandate_id,order_id,transaction_id,amount,scheduled_date,status,gateway_status,retry_count,failure_reason,raw_payload,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		attempt.DebitID, attempt.MandateID, attempt.OrderID, attempt.TransactionID, attempt.Amount, attempt.ScheduledDate, attempt.Status, attempt.GatewayStatus, attempt.RetryCount, attempt.FailureReason, rawPayload, attempt.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record debit attempt", err)
	}

	return attempt, nil
}

func (d Datasource) GetDebitAttempt(ctx context.Context, id string) (*model.DebitAttempt, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+debitColumns+`
		FROM debit_attempts
		WHERE debit_id = $1
	`, id)

	attempt, err := scanDebitAttempt(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Debit attempt with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve debit attempt", err)
	}
	return attempt, nil
}

// GetDebitAttemptByOrderID serves gateway callback lookups. An unknown
// order ID maps to UnknownAttempt so the reconciliation engine can log and
// discard.
func (d Datasource) GetDebitAttemptByOrderID(ctx context.Context, orderID string) (*model.DebitAttempt, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+debitColumns+`
		FROM debit_attempts
		WHERE order_id = $1
	`, orderID)

	attempt, err := scanDebitAttempt(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrUnknownAttempt, fmt.Sprintf("No debit attempt for gateway order '%s'", orderID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve debit attempt", err)
	}
	return attempt, nil
}

// GetLatestAttemptForMandate returns the attempt with the most recent
// scheduled date, retries last. A nil attempt with no error means the
// mandate has no attempts yet.
func (d Datasource) GetLatestAttemptForMandate(ctx context.Context, mandateID string) (*model.DebitAttempt, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+debitColumns+`
		FROM debit_attempts
		WHERE mandate_id = $1
		ORDER BY scheduled_date DESC, retry_count DESC
		LIMIT 1
	`, mandateID)

	attempt, err := scanDebitAttempt(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve latest attempt", err)
	}
	return attempt, nil
}

func (d Datasource) GetAttemptsByMandate(ctx context.Context, mandateID string, limit, offset int) ([]model.DebitAttempt, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+debitColumns+`
		FROM debit_attempts
		WHERE mandate_id = $1
		ORDER BY scheduled_date DESC, retry_count DESC
		LIMIT $2 OFFSET $3
	`, mandateID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve debit attempts", err)
	}
	defer func() { _ = rows.Close() }()

	return collectAttempts(rows)
}

// GetUnresolvedAttempts lists pending/processing attempts scheduled inside
// the window. The poll loop and the forecast both read from here.
func (d Datasource) GetUnresolvedAttempts(ctx context.Context, from, to time.Time) ([]model.DebitAttempt, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+debitColumns+`
		FROM debit_attempts
		WHERE status IN ('pending', 'processing') AND scheduled_date >= $1 AND scheduled_date <= $2
		ORDER BY scheduled_date ASC
	`, from, to)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve unresolved attempts", err)
	}
	defer func() { _ = rows.Close() }()

	return collectAttempts(rows)
}

func collectAttempts(rows *sql.Rows) ([]model.DebitAttempt, error) {
	var attempts []model.DebitAttempt
	for rows.Next() {
		attempt, err := scanDebitAttempt(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan debit attempt", err)
		}
		attempts = append(attempts, *attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating debit attempts", err)
	}
	return attempts, nil
}

func (d Datasource) UpdateDebitSubmission(ctx context.Context, id, orderID string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE debit_attempts
		SET order_id = $2, status = 'processing'
		WHERE debit_id = $1 AND status = 'pending'
	`, id, orderID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record debit submission", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check affected rows", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No pending debit attempt with ID '%s'", id), nil)
	}
	return nil
}

// UpdateDebitOutcome applies a gateway outcome to an attempt. The WHERE
// clause refuses to touch rows that already carry a terminal status, which
// is what makes duplicate terminal callbacks idempotent: the first delivery
// wins and later ones report false.
func (d Datasource) UpdateDebitOutcome(ctx context.Context, attempt *model.DebitAttempt) (bool, error) {
	var rawPayload interface{}
	if len(attempt.RawPayload) > 0 {
		rawPayload = []byte(attempt.RawPayload)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE debit_attempts
		SET status = $2,
		    gateway_status = $3,
		    transaction_id = COALESCE(NULLIF($4, ''), transaction_id),
		    processed_date = $5,
		    failure_reason = $6,
		    raw_payload = COALESCE($7, raw_payload)
		WHERE debit_id = $1 AND status NOT IN ('success', 'failed', 'cancelled')
	`, attempt.DebitID, attempt.Status, attempt.GatewayStatus, attempt.TransactionID, attempt.ProcessedDate, attempt.FailureReason, rawPayload)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update debit outcome", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check affected rows", err)
	}
	return rows > 0, nil
}
