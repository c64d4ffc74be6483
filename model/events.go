package model

const (
	EventMandateCreated   = "mandate_created"
	EventMandateFailed    = "mandate_failed"
	EventMandateExpiring  = "mandate_expiring"
	EventMandateCancelled = "mandate_cancelled"
	EventPaymentSuccess   = "payment_success"
	EventPaymentFailed    = "payment_failed"
	EventPaymentRetry     = "payment_retry"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// LifecycleEvent is what the engine hands to the notification sink. Events
// are emitted after state has been persisted, never as part of control
// flow.
type LifecycleEvent struct {
	Type           string                 `json:"type"`
	RiderRef       string                 `json:"rider_ref"`
	Severity       string                 `json:"severity"`
	ActionRequired bool                   `json:"action_required,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
}
