package model

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	DebitStatusPending    = "pending"
	DebitStatusProcessing = "processing"
	DebitStatusSuccess    = "success"
	DebitStatusFailed     = "failed"
	DebitStatusCancelled  = "cancelled"
)

// MaxDebitRetries is the ceiling on automatic retries for a single
// scheduled slot. A retry spawns a new attempt row; the counter carries
// across the lineage and never resets.
const MaxDebitRetries = 3

// DebitAttempt is one concrete scheduled charge against a mandate. Rows are
// append-only: the reconciliation engine mutates status fields but attempts
// are never deleted, and a retry is a new row sharing the scheduled date.
type DebitAttempt struct {
	ID            int64           `json:"-"`
	DebitID       string          `json:"debit_id"`
	MandateID     string          `json:"mandate_id"`
	OrderID       string          `json:"order_id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Amount        int64           `json:"amount"`
	ScheduledDate time.Time       `json:"scheduled_date"`
	ProcessedDate *time.Time      `json:"processed_date,omitempty"`
	Status        string          `json:"status"`
	GatewayStatus string          `json:"gateway_status,omitempty"`
	RetryCount    int             `json:"retry_count"`
	FailureReason string          `json:"failure_reason,omitempty"`
	RawPayload    json.RawMessage `json:"raw_payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// IsTerminalDebitStatus reports whether a debit status is final. Terminal
// outcomes are immutable; duplicate gateway callbacks must not flip them.
func IsTerminalDebitStatus(status string) bool {
	switch status {
	case DebitStatusSuccess, DebitStatusFailed, DebitStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the attempt has a final outcome.
func (d *DebitAttempt) IsTerminal() bool {
	return IsTerminalDebitStatus(d.Status)
}

// Retryable reports whether the attempt may spawn another retry.
func (d *DebitAttempt) Retryable() bool {
	return d.Status == DebitStatusFailed && d.RetryCount < MaxDebitRetries
}

// NewRetry returns the follow-up attempt for a failed debit: same mandate,
// amount and scheduled slot, retry counter incremented, status reset to
// pending. Gateway identifiers are left empty until the retry is submitted.
func (d *DebitAttempt) NewRetry() (*DebitAttempt, error) {
	if !d.Retryable() {
		return nil, ErrRetryExhausted
	}
	return &DebitAttempt{
		DebitID:       GenerateUUIDWithSuffix("deb"),
		MandateID:     d.MandateID,
		Amount:        d.Amount,
		ScheduledDate: d.ScheduledDate,
		Status:        DebitStatusPending,
		RetryCount:    d.RetryCount + 1,
		CreatedAt:     time.Now(),
	}, nil
}

// MapGatewayStatus translates the gateway's status vocabulary onto the
// internal debit status enum. Unknown codes stay in flight rather than
// being guessed at.
func MapGatewayStatus(gatewayStatus string) string {
	switch strings.ToUpper(gatewayStatus) {
	case "COMPLETED", "SUCCESS", "PAYMENT_SUCCESS":
		return DebitStatusSuccess
	case "FAILED", "PAYMENT_ERROR", "PAYMENT_DECLINED":
		return DebitStatusFailed
	case "EXPIRED", "CANCELLED", "REVOKED":
		return DebitStatusCancelled
	case "PROCESSING", "PAYMENT_INITIATED":
		return DebitStatusProcessing
	default:
		return DebitStatusPending
	}
}
