package model

import (
	"time"
)

const (
	MandateStatusPending   = "pending"
	MandateStatusActive    = "active"
	MandateStatusFailed    = "failed"
	MandateStatusSuspended = "suspended"
	MandateStatusCancelled = "cancelled"
)

const (
	FrequencyWeekly   = "weekly"
	FrequencyMonthly  = "monthly"
	FrequencyOnDemand = "on_demand"
)

// Mandate is a rider's standing authorization for the platform to debit a
// recurring amount through the payment gateway. At most one non-terminal
// mandate exists per rider; the database enforces this with a partial
// unique index on rider_id.
type Mandate struct {
	ID             int64                  `json:"-"`
	MandateID      string                 `json:"mandate_id"`
	RiderID        string                 `json:"rider_id"`
	OrderID        string                 `json:"order_id"`
	SubscriptionID string                 `json:"subscription_id"`
	Amount         int64                  `json:"amount"`
	MaxAmount      int64                  `json:"max_amount"`
	Frequency      string                 `json:"frequency"`
	VPA            string                 `json:"vpa"`
	Status         string                 `json:"status"`
	StatusReason   string                 `json:"status_reason,omitempty"`
	ValidFrom      time.Time              `json:"valid_from"`
	ValidTo        time.Time              `json:"valid_to"`
	LastDebitDate  *time.Time             `json:"last_debit_date,omitempty"`
	NextDebitDate  *time.Time             `json:"next_debit_date,omitempty"`
	TotalDebited   int64                  `json:"total_debited"`
	DebitCount     int64                  `json:"debit_count"`
	CreatedAt      time.Time              `json:"created_at"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
}

// allowedTransitions is the full mandate state machine. Anything not listed
// here is an illegal edge. cancelled and failed are terminal.
var allowedTransitions = map[string][]string{
	MandateStatusPending:   {MandateStatusActive, MandateStatusFailed, MandateStatusCancelled},
	MandateStatusActive:    {MandateStatusSuspended, MandateStatusFailed, MandateStatusCancelled},
	MandateStatusSuspended: {MandateStatusActive, MandateStatusCancelled},
}

// IsTerminalMandateStatus reports whether a mandate status admits no further
// transitions.
func IsTerminalMandateStatus(status string) bool {
	return status == MandateStatusCancelled || status == MandateStatusFailed
}

// CanTransition reports whether the state machine allows moving from one
// mandate status to another.
func CanTransition(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the mandate has reached a terminal state.
func (m *Mandate) IsTerminal() bool {
	return IsTerminalMandateStatus(m.Status)
}

// Transition returns a copy of the mandate moved to the target status,
// together with the lifecycle events the move produces. The receiver is
// never mutated; callers persist the returned copy under the per-mandate
// lock. An edge outside the state machine returns ErrIllegalTransition.
func (m *Mandate) Transition(target, cause string) (*Mandate, []LifecycleEvent, error) {
	if !CanTransition(m.Status, target) {
		return nil, nil, ErrIllegalTransition
	}

	next := *m
	next.Status = target
	next.StatusReason = cause

	var events []LifecycleEvent
	switch target {
	case MandateStatusFailed:
		events = append(events, LifecycleEvent{
			Type:     EventMandateFailed,
			RiderRef: m.RiderID,
			Severity: SeverityCritical,
			Payload:  map[string]interface{}{"mandate_id": m.MandateID, "cause": cause},
		})
	case MandateStatusCancelled:
		events = append(events, LifecycleEvent{
			Type:     EventMandateCancelled,
			RiderRef: m.RiderID,
			Severity: SeverityWarning,
			Payload:  map[string]interface{}{"mandate_id": m.MandateID, "cause": cause},
		})
	}
	return &next, events, nil
}

// ValidOn reports whether the mandate's validity window covers the given
// day. Boundaries are inclusive, matching how the gateway treats mandate
// expiry dates.
func (m *Mandate) ValidOn(day time.Time) bool {
	d := day.Truncate(24 * time.Hour)
	return !d.Before(m.ValidFrom.Truncate(24*time.Hour)) && !d.After(m.ValidTo.Truncate(24*time.Hour))
}

// NextScheduledDate computes the next debit due date from the mandate
// frequency and the previous scheduled date. When no attempt exists yet the
// mandate's valid-from date is the first slot.
func (m *Mandate) NextScheduledDate(previous *time.Time) (time.Time, error) {
	if previous == nil {
		return m.ValidFrom, nil
	}
	switch m.Frequency {
	case FrequencyWeekly:
		return previous.AddDate(0, 0, 7), nil
	case FrequencyMonthly:
		return previous.AddDate(0, 1, 0), nil
	case FrequencyOnDemand:
		return time.Time{}, ErrOnDemandSchedule
	default:
		return time.Time{}, ErrUnknownFrequency
	}
}

// ValidFrequency reports whether the given frequency is one the gateway
// supports.
func ValidFrequency(frequency string) bool {
	switch frequency {
	case FrequencyWeekly, FrequencyMonthly, FrequencyOnDemand:
		return true
	}
	return false
}
