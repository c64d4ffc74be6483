/*
Copyright 2024 Corrit Electric Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package autopay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/corrit-electric/autopay/config"
	"github.com/corrit-electric/autopay/gateway"
	"github.com/corrit-electric/autopay/internal/apierror"
	"github.com/corrit-electric/autopay/internal/notification"
	"github.com/corrit-electric/autopay/model"
)

var tracer = otel.Tracer("Reconcile debit")

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

// pollWithBackoff resolves an order's status against the gateway, retrying
// transient failures with exponential backoff. Three tries total; after
// that the status is unknown and the caller leaves the attempt in flight.
func (a *Autopay) pollWithBackoff(ctx context.Context, orderID string) (*gateway.OrderStatus, error) {
	var status *gateway.OrderStatus
	operation := func() error {
		var err error
		status, err = a.gateway.PollOrderStatus(ctx, orderID)
		if err != nil && !apierror.Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx))
	if err != nil {
		return nil, err
	}
	return status, nil
}

// ConfirmMandateSetup resolves a pending mandate against the gateway. An
// approved setup activates the mandate; a declined or expired setup fails
// it, carrying the gateway error codes in the lifecycle event. While the
// rider has not acted yet the mandate stays pending and another poll is
// scheduled, until the approval window lapses.
func (a *Autopay) ConfirmMandateSetup(ctx context.Context, mandateID string) error {
	ctx, span := tracer.Start(ctx, "Confirming mandate setup")
	defer span.End()

	mandate, err := a.datasource.GetMandate(ctx, mandateID)
	if err != nil {
		return err
	}
	if mandate.Status != model.MandateStatusPending {
		return nil
	}

	status, err := a.pollWithBackoff(ctx, mandate.OrderID)
	if err != nil {
		logrus.Warnf("setup status for mandate %s unknown, will re-poll: %v", mandateID, err)
		return err
	}
	return a.resolveMandateSetup(ctx, mandate, status)
}

// resolveMandateSetup applies a gateway setup result to a pending mandate.
// Riders routinely approve minutes after the first poll fires, so a result
// that is still pending schedules the next poll rather than ending the
// chase; a mandate whose validity has already run out is failed instead.
func (a *Autopay) resolveMandateSetup(ctx context.Context, mandate *model.Mandate, status *gateway.OrderStatus) error {
	switch model.MapGatewayStatus(status.State) {
	case model.DebitStatusSuccess:
		_, err := a.TransitionMandate(ctx, mandate.MandateID, model.MandateStatusActive, "gateway setup confirmed")
		return err
	case model.DebitStatusFailed, model.DebitStatusCancelled:
		cause := status.ErrorCode
		if status.DetailedErrorCode != "" {
			cause = fmt.Sprintf("%s:%s", status.ErrorCode, status.DetailedErrorCode)
		}
		_, err := a.TransitionMandate(ctx, mandate.MandateID, model.MandateStatusFailed, cause)
		return err
	default:
		if time.Now().After(mandate.ValidTo) {
			_, err := a.TransitionMandate(ctx, mandate.MandateID, model.MandateStatusFailed, "setup approval window lapsed")
			return err
		}
		if err := a.queue.EnqueuePoll(ctx, PollTaskPayload{MandateID: mandate.MandateID, OrderID: mandate.OrderID}, time.Minute); err != nil {
			logrus.Warnf("could not re-enqueue setup poll for %s: %v", mandate.MandateID, err)
			notification.NotifyError(err)
		}
		return nil
	}
}

// ConfirmPendingSetups resolves every mandate still awaiting setup
// confirmation. The sweep backstops the poll chain: a dropped poll task
// would otherwise leave an approved mandate pending forever.
func (a *Autopay) ConfirmPendingSetups(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Confirming pending setups")
	defer span.End()

	mandates, err := a.datasource.GetPendingMandates(ctx)
	if err != nil {
		return err
	}
	for _, mandate := range mandates {
		if err := a.ConfirmMandateSetup(ctx, mandate.MandateID); err != nil {
			logrus.Warnf("could not confirm setup for mandate %s: %v", mandate.MandateID, err)
		}
	}
	return nil
}

// ProcessScheduledDebit submits a due attempt: it stamps the merchant
// order reference that the gateway will settle against and schedules the
// first status poll. Attempts that already carry an order are left alone.
func (a *Autopay) ProcessScheduledDebit(ctx context.Context, attempt *model.DebitAttempt) error {
	ctx, span := tracer.Start(ctx, "Submitting scheduled debit")
	defer span.End()

	if attempt.OrderID != "" {
		return a.queue.EnqueuePoll(ctx, PollTaskPayload{AttemptID: attempt.DebitID, OrderID: attempt.OrderID}, time.Minute)
	}

	orderID := model.GenerateUUIDWithSuffix("ord")
	if err := a.datasource.UpdateDebitSubmission(ctx, attempt.DebitID, orderID); err != nil {
		return logAndRecordError(span, "debit submission error", err)
	}
	return a.queue.EnqueuePoll(ctx, PollTaskPayload{AttemptID: attempt.DebitID, OrderID: orderID}, time.Minute)
}

// ApplyGatewayCallback handles a pushed order-status update. An order that
// matches no debit attempt is tried against the mandates next: setup
// confirmations arrive on the mandate's own order, not on a debit. Orders
// we cannot match at all are logged and discarded; the gateway
// occasionally replays ancient or foreign orders and they must not poison
// the queue.
func (a *Autopay) ApplyGatewayCallback(ctx context.Context, orderID string, status *gateway.OrderStatus) error {
	ctx, span := tracer.Start(ctx, "Applying gateway callback")
	defer span.End()

	attempt, err := a.datasource.GetDebitAttemptByOrderID(ctx, orderID)
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrUnknownAttempt {
			return a.applySetupCallback(ctx, orderID, status)
		}
		return err
	}
	return a.ApplyDebitOutcome(ctx, attempt, status)
}

// applySetupCallback routes an order-status push onto the mandate whose
// setup the order belongs to.
func (a *Autopay) applySetupCallback(ctx context.Context, orderID string, status *gateway.OrderStatus) error {
	mandate, err := a.datasource.GetMandateByOrder(ctx, orderID)
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrNotFound {
			logrus.Warnf("discarding callback for unknown order %s", orderID)
			return nil
		}
		return err
	}
	if mandate.Status != model.MandateStatusPending {
		logrus.Infof("mandate %s already resolved, discarding setup callback %s", mandate.MandateID, status.State)
		return nil
	}
	return a.resolveMandateSetup(ctx, mandate, status)
}

// ApplySubscriptionUpdate handles a pushed subscription-level state change.
// Pauses, resumptions and revocations initiated on the gateway side arrive
// here rather than against an order. Replays of the current state are
// no-ops.
func (a *Autopay) ApplySubscriptionUpdate(ctx context.Context, subscriptionID string, status *gateway.OrderStatus) error {
	ctx, span := tracer.Start(ctx, "Applying subscription update")
	defer span.End()

	mandate, err := a.datasource.GetMandateBySubscription(ctx, subscriptionID)
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrNotFound {
			logrus.Warnf("discarding update for unknown subscription %s", subscriptionID)
			return nil
		}
		return err
	}

	var target, cause string
	switch strings.ToUpper(status.State) {
	case "PAUSED":
		target, cause = model.MandateStatusSuspended, "subscription paused at the gateway"
	case "UNPAUSED", "ACTIVE":
		target, cause = model.MandateStatusActive, "subscription resumed at the gateway"
	case "REVOKED", "CANCELLED", "EXPIRED":
		target, cause = model.MandateStatusCancelled, fmt.Sprintf("subscription %s at the gateway", strings.ToLower(status.State))
	default:
		logrus.Warnf("discarding unrecognized subscription state %s for %s", status.State, subscriptionID)
		return nil
	}

	if mandate.Status == target {
		return nil
	}
	_, err = a.TransitionMandate(ctx, mandate.MandateID, target, cause)
	return err
}

// ApplyDebitOutcome records a gateway outcome for an attempt and drives
// the follow-on effects: successful debits roll the mandate's totals and
// dates forward, failed debits spawn an automatic retry until the lineage
// is exhausted. All of it happens under the per-mandate lock; by the time
// this is called every gateway interaction is already done, so the lock is
// never held across I/O. Duplicate terminal outcomes are no-ops.
func (a *Autopay) ApplyDebitOutcome(ctx context.Context, attempt *model.DebitAttempt, status *gateway.OrderStatus) error {
	ctx, span := tracer.Start(ctx, "Applying debit outcome")
	defer span.End()

	locker, err := a.acquireLock(ctx, attempt.MandateID)
	if err != nil {
		return err
	}
	defer a.releaseLock(ctx, locker)

	mapped := model.MapGatewayStatus(status.State)
	outcome := *attempt
	outcome.Status = mapped
	outcome.GatewayStatus = status.State
	if status.TransactionID != "" {
		outcome.TransactionID = status.TransactionID
	} else if status.UTR != "" {
		outcome.TransactionID = status.UTR
	}
	outcome.FailureReason = status.ErrorCode
	if status.DetailedErrorCode != "" {
		outcome.FailureReason = fmt.Sprintf("%s:%s", status.ErrorCode, status.DetailedErrorCode)
	}
	outcome.RawPayload = status.Raw
	if model.IsTerminalDebitStatus(mapped) {
		now := time.Now()
		outcome.ProcessedDate = &now
	}

	applied, err := a.datasource.UpdateDebitOutcome(ctx, &outcome)
	if err != nil {
		return logAndRecordError(span, "debit outcome error", err)
	}
	if !applied {
		logrus.Infof("attempt %s already terminal, discarding duplicate outcome %s", attempt.DebitID, status.State)
		return nil
	}

	switch mapped {
	case model.DebitStatusSuccess:
		return a.applySuccess(ctx, span, &outcome)
	case model.DebitStatusFailed:
		return a.applyFailure(ctx, &outcome)
	default:
		return nil
	}
}

func (a *Autopay) applySuccess(ctx context.Context, span trace.Span, attempt *model.DebitAttempt) error {
	mandate, err := a.datasource.GetMandate(ctx, attempt.MandateID)
	if err != nil {
		return err
	}

	var next *time.Time
	if nextDate, err := mandate.NextScheduledDate(&attempt.ScheduledDate); err == nil && mandate.ValidOn(nextDate) {
		next = &nextDate
	}

	if err := a.datasource.UpdateMandateDebitTotals(ctx, mandate.MandateID, attempt.Amount, attempt.ProcessedDate, next); err != nil {
		return logAndRecordError(span, "mandate totals error", err)
	}

	a.postLifecycleEvents(ctx, []model.LifecycleEvent{{
		Type:     model.EventPaymentSuccess,
		RiderRef: mandate.RiderID,
		Severity: model.SeverityInfo,
		Payload:  map[string]interface{}{"mandate_id": mandate.MandateID, "debit_id": attempt.DebitID, "amount": attempt.Amount},
	}})
	return nil
}

func (a *Autopay) applyFailure(ctx context.Context, attempt *model.DebitAttempt) error {
	mandate, err := a.datasource.GetMandate(ctx, attempt.MandateID)
	if err != nil {
		return err
	}

	if attempt.Retryable() && !mandate.IsTerminal() {
		retry, err := a.retryLocked(ctx, attempt)
		if err != nil {
			return err
		}
		a.postLifecycleEvents(ctx, []model.LifecycleEvent{{
			Type:     model.EventPaymentRetry,
			RiderRef: mandate.RiderID,
			Severity: model.SeverityWarning,
			Payload:  map[string]interface{}{"mandate_id": mandate.MandateID, "debit_id": retry.DebitID, "retry_count": retry.RetryCount, "reason": attempt.FailureReason},
		}})
		return nil
	}

	a.postLifecycleEvents(ctx, []model.LifecycleEvent{{
		Type:           model.EventPaymentFailed,
		RiderRef:       mandate.RiderID,
		Severity:       model.SeverityCritical,
		ActionRequired: true,
		Payload:        map[string]interface{}{"mandate_id": mandate.MandateID, "debit_id": attempt.DebitID, "retry_count": attempt.RetryCount, "reason": attempt.FailureReason},
	}})
	return nil
}

// ResolveDebitPoll polls the gateway for a single in-flight attempt and
// applies the outcome. Attempts that are already terminal or not yet
// submitted are left alone. A poll that exhausts its retries returns the
// error so the task is redelivered.
func (a *Autopay) ResolveDebitPoll(ctx context.Context, attemptID string) error {
	ctx, span := tracer.Start(ctx, "Resolving debit poll")
	defer span.End()

	attempt, err := a.datasource.GetDebitAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if attempt.IsTerminal() || attempt.OrderID == "" {
		return nil
	}

	status, err := a.pollWithBackoff(ctx, attempt.OrderID)
	if err != nil {
		return logAndRecordError(span, fmt.Sprintf("status for order %s unknown after retries", attempt.OrderID), err)
	}
	return a.ApplyDebitOutcome(ctx, attempt, status)
}

// PollInflightDebits resolves every unresolved attempt from the recent
// window against the gateway. An attempt whose status cannot be determined
// stays in flight for the next pass; it is never guessed into a failure.
func (a *Autopay) PollInflightDebits(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Polling inflight debits")
	defer span.End()

	now := time.Now()
	attempts, err := a.datasource.GetUnresolvedAttempts(ctx, now.AddDate(0, 0, -7), now)
	if err != nil {
		return err
	}

	for i := range attempts {
		attempt := attempts[i]
		if attempt.OrderID == "" {
			continue
		}
		status, err := a.pollWithBackoff(ctx, attempt.OrderID)
		if err != nil {
			logrus.Warnf("status for order %s unknown after retries: %v", attempt.OrderID, err)
			continue
		}
		if err := a.ApplyDebitOutcome(ctx, &attempt, status); err != nil {
			logrus.Errorf("could not apply outcome for attempt %s: %v", attempt.DebitID, err)
		}
	}
	return nil
}

// SweepMandateExpiry warns riders whose mandate is about to lapse and
// retires mandates whose validity window has passed.
func (a *Autopay) SweepMandateExpiry(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Sweeping mandate expiry")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	now := time.Now()

	expired, err := a.datasource.GetExpiringMandates(ctx, time.Time{}, now)
	if err != nil {
		return err
	}
	for _, mandate := range expired {
		if _, err := a.TransitionMandate(ctx, mandate.MandateID, model.MandateStatusCancelled, "mandate validity expired"); err != nil {
			logrus.Errorf("could not expire mandate %s: %v", mandate.MandateID, err)
		}
	}

	expiring, err := a.datasource.GetExpiringMandates(ctx, now, now.AddDate(0, 0, cfg.Forecast.ExpiryNoticeDays))
	if err != nil {
		return err
	}
	for _, mandate := range expiring {
		a.postLifecycleEvents(ctx, []model.LifecycleEvent{{
			Type:     model.EventMandateExpiring,
			RiderRef: mandate.RiderID,
			Severity: model.SeverityWarning,
			Payload:  map[string]interface{}{"mandate_id": mandate.MandateID, "valid_to": mandate.ValidTo},
		}})
	}
	return nil
}
