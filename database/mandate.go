package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/corrit-electric/autopay/internal/apierror"
	"github.com/corrit-electric/autopay/model"
)

const mandateColumns = `mandate_id, rider_id, order_id, subscription_id, amount, max_amount, frequency, vpa, status, status_reason, valid_from, valid_to, last_debit_date, next_debit_date, total_debited, debit_count, created_at, meta_data`

// statsPeriodDays is the reporting window for the collection trend.
const statsPeriodDays = 30

func scanMandate(row interface{ Scan(...interface{}) error }) (*model.Mandate, error) {
	m := &model.Mandate{}
	var metaDataJSON []byte
	var orderID, subscriptionID, vpa, statusReason sql.NullString
	var lastDebit, nextDebit sql.NullTime
	err := row.Scan(&m.MandateID, &m.RiderID, &orderID, &subscriptionID, &m.Amount, &m.MaxAmount, &m.Frequency, &vpa, &m.Status, &statusReason, &m.ValidFrom, &m.ValidTo, &lastDebit, &nextDebit, &m.TotalDebited, &m.DebitCount, &m.CreatedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}
	m.OrderID = orderID.String
	m.SubscriptionID = subscriptionID.String
	m.VPA = vpa.String
	m.StatusReason = statusReason.String
	if lastDebit.Valid {
		m.LastDebitDate = &lastDebit.Time
	}
	if nextDebit.Valid {
		m.NextDebitDate = &nextDebit.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &m.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}
	return m, nil
}

func (d Datasource) CreateMandate(ctx context.Context, mandate *model.Mandate) (*model.Mandate, error) {
	metaDataJSON, err := json.Marshal(mandate.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO mandates(mandate_id,rider_id,order_id,subscription_id,amount,max_amount,frequency,vpa,status,valid_from,valid_to,created_at,meta_data) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		mandate.MandateID, mandate.RiderID, mandate.OrderID, mandate.SubscriptionID, mandate.Amount, mandate.MaxAmount, mandate.Frequency, mandate.VPA, mandate.Status, mandate.ValidFrom, mandate.ValidTo, mandate.CreatedAt, metaDataJSON,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, apierror.NewAPIError(apierror.ErrDuplicateMandate, fmt.Sprintf("Rider '%s' already holds a live mandate", mandate.RiderID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record mandate", err)
	}

	return mandate, nil
}

func (d Datasource) GetMandate(ctx context.Context, id string) (*model.Mandate, error) {
	cacheKey := fmt.Sprintf("mandate:%s", id)
	if d.Cache != nil {
		cached := &model.Mandate{}
		if err := d.Cache.Get(ctx, cacheKey, cached); err == nil && cached.MandateID != "" {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+mandateColumns+`
		FROM mandates
		WHERE mandate_id = $1
	`, id)

	mandate, err := scanMandate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Mandate with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve mandate", err)
	}

	if d.Cache != nil {
		_ = d.Cache.Set(ctx, cacheKey, mandate, 5*time.Minute)
	}
	return mandate, nil
}

// GetLiveMandateByRider returns the rider's non-terminal mandate. A nil
// mandate with no error means the rider has none.
func (d Datasource) GetLiveMandateByRider(ctx context.Context, riderID string) (*model.Mandate, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+mandateColumns+`
		FROM mandates
		WHERE rider_id = $1 AND status NOT IN ('cancelled', 'failed')
	`, riderID)

	mandate, err := scanMandate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve live mandate", err)
	}
	return mandate, nil
}

func (d Datasource) GetMandateBySubscription(ctx context.Context, subscriptionID string) (*model.Mandate, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+mandateColumns+`
		FROM mandates
		WHERE subscription_id = $1
	`, subscriptionID)

	mandate, err := scanMandate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Mandate with subscription '%s' not found", subscriptionID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve mandate", err)
	}
	return mandate, nil
}

// GetMandateByOrder matches a mandate by the order the gateway settled its
// setup against. Callback routing falls back to this when no debit attempt
// carries the order.
func (d Datasource) GetMandateByOrder(ctx context.Context, orderID string) (*model.Mandate, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+mandateColumns+`
		FROM mandates
		WHERE order_id = $1
	`, orderID)

	mandate, err := scanMandate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Mandate with order '%s' not found", orderID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve mandate", err)
	}
	return mandate, nil
}

func (d Datasource) GetAllMandates(ctx context.Context, limit, offset int) ([]model.Mandate, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+mandateColumns+`
		FROM mandates
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve mandates", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMandates(rows)
}

func (d Datasource) GetActiveMandates(ctx context.Context) ([]model.Mandate, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+mandateColumns+`
		FROM mandates
		WHERE status = 'active'
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve active mandates", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMandates(rows)
}

// GetPendingMandates lists mandates still awaiting setup confirmation, so
// the sweep can re-poll riders whose one-off setup poll was missed.
func (d Datasource) GetPendingMandates(ctx context.Context) ([]model.Mandate, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+mandateColumns+`
		FROM mandates
		WHERE status = 'pending'
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pending mandates", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMandates(rows)
}

func (d Datasource) GetExpiringMandates(ctx context.Context, from, to time.Time) ([]model.Mandate, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+mandateColumns+`
		FROM mandates
		WHERE status = 'active' AND valid_to >= $1 AND valid_to <= $2
	`, from, to)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve expiring mandates", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMandates(rows)
}

func collectMandates(rows *sql.Rows) ([]model.Mandate, error) {
	var mandates []model.Mandate
	for rows.Next() {
		mandate, err := scanMandate(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan mandate", err)
		}
		mandates = append(mandates, *mandate)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating mandates", err)
	}
	return mandates, nil
}

func (d Datasource) UpdateMandateStatus(ctx context.Context, id, status, reason string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE mandates
		SET status = $2, status_reason = $3
		WHERE mandate_id = $1
	`, id, status, reason)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update mandate status", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check affected rows", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Mandate with ID '%s' not found", id), nil)
	}

	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, fmt.Sprintf("mandate:%s", id))
	}
	return nil
}

// UpdateMandateDebitTotals applies a successful debit to the mandate's
// running totals and debit dates in a single statement.
func (d Datasource) UpdateMandateDebitTotals(ctx context.Context, id string, debited int64, last, next *time.Time) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE mandates
		SET total_debited = total_debited + $2,
		    debit_count = debit_count + 1,
		    last_debit_date = $3,
		    next_debit_date = $4
		WHERE mandate_id = $1
	`, id, debited, last, next)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update mandate totals", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check affected rows", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Mandate with ID '%s' not found", id), nil)
	}

	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, fmt.Sprintf("mandate:%s", id))
	}
	return nil
}

// GetMandateStats aggregates mandate counts and the realized debit success
// rate. An empty riderID aggregates across the whole fleet.
func (d Datasource) GetMandateStats(ctx context.Context, riderID string) (*model.MandateStats, error) {
	stats := &model.MandateStats{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COALESCE(SUM(total_debited), 0)
		FROM mandates
		WHERE ($1 = '' OR rider_id = $1)
	`, riderID).Scan(&stats.Total, &stats.Active, &stats.Failed, &stats.Pending, &stats.TotalAmount)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to aggregate mandate stats", err)
	}

	var success, resolved int64
	err = d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE d.status = 'success'),
		       COUNT(*) FILTER (WHERE d.status IN ('success', 'failed'))
		FROM debit_attempts d
		JOIN mandates m ON m.mandate_id = d.mandate_id
		WHERE ($1 = '' OR m.rider_id = $1)
	`, riderID).Scan(&success, &resolved)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to aggregate debit stats", err)
	}
	if resolved > 0 {
		stats.SuccessRate = float64(success) / float64(resolved)
	}

	now := time.Now()
	err = d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(d.amount) FILTER (WHERE d.processed_date >= $2), 0),
		       COALESCE(SUM(d.amount) FILTER (WHERE d.processed_date >= $3 AND d.processed_date < $2), 0)
		FROM debit_attempts d
		JOIN mandates m ON m.mandate_id = d.mandate_id
		WHERE d.status = 'success' AND ($1 = '' OR m.rider_id = $1)
	`, riderID, now.AddDate(0, 0, -statsPeriodDays), now.AddDate(0, 0, -2*statsPeriodDays)).Scan(&stats.CollectedThisPeriod, &stats.CollectedLastPeriod)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to aggregate collection trend", err)
	}
	stats.CollectionTrend = model.PercentChange(stats.CollectedLastPeriod, stats.CollectedThisPeriod)

	return stats, nil
}
