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
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corrit-electric/autopay/internal/apierror"
	"github.com/corrit-electric/autopay/internal/notification"
	"github.com/corrit-electric/autopay/model"
)

// ScheduleNextDebit creates the next pending debit attempt for a mandate.
// The due date is the latest attempt's scheduled date advanced by one
// frequency period, or the mandate's valid-from date when no attempt
// exists yet. Scheduling is refused for non-active mandates, on-demand
// mandates and dates past the validity window.
func (a *Autopay) ScheduleNextDebit(ctx context.Context, mandateID string) (*model.DebitAttempt, error) {
	ctx, span := tracer.Start(ctx, "Scheduling next debit")
	defer span.End()

	locker, err := a.acquireLock(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	defer a.releaseLock(ctx, locker)

	mandate, err := a.datasource.GetMandate(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	if mandate.Status != model.MandateStatusActive {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Cannot schedule a debit on a '%s' mandate", mandate.Status), nil)
	}

	latest, err := a.datasource.GetLatestAttemptForMandate(ctx, mandateID)
	if err != nil {
		return nil, err
	}

	var previous *time.Time
	if latest != nil {
		previous = &latest.ScheduledDate
	}
	dueDate, err := mandate.NextScheduledDate(previous)
	if err != nil {
		if errors.Is(err, model.ErrOnDemandSchedule) {
			return nil, apierror.NewAPIError(apierror.ErrBadRequest, "On-demand mandates are debited by explicit request, not on a schedule", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Could not compute next debit date", err)
	}
	if !mandate.ValidOn(dueDate) {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Next debit date %s falls outside the mandate validity window", dueDate.Format("2006-01-02")), nil)
	}

	attempt := &model.DebitAttempt{
		DebitID:       model.GenerateUUIDWithSuffix("deb"),
		MandateID:     mandate.MandateID,
		Amount:        mandate.Amount,
		ScheduledDate: dueDate,
		Status:        model.DebitStatusPending,
		CreatedAt:     time.Now(),
	}

	attempt, err = a.datasource.RecordDebitAttempt(ctx, attempt)
	if err != nil {
		return nil, logAndRecordError(span, "debit attempt persist error", err)
	}

	a.enqueueAttempt(ctx, attempt)
	return attempt, nil
}

// ScheduleDueDebits walks the active mandates and records the next attempt
// for every mandate whose slot has arrived. A mandate with a live attempt
// is skipped until that attempt resolves, so repeated sweeps never stack
// attempts for the same slot.
func (a *Autopay) ScheduleDueDebits(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Scheduling due debits")
	defer span.End()

	mandates, err := a.datasource.GetActiveMandates(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, mandate := range mandates {
		if mandate.Frequency == model.FrequencyOnDemand {
			continue
		}

		latest, err := a.datasource.GetLatestAttemptForMandate(ctx, mandate.MandateID)
		if err != nil {
			logrus.Errorf("could not read latest attempt for mandate %s: %v", mandate.MandateID, err)
			continue
		}
		if latest != nil && !latest.IsTerminal() {
			continue
		}

		var previous *time.Time
		if latest != nil {
			previous = &latest.ScheduledDate
		}
		dueDate, err := mandate.NextScheduledDate(previous)
		if err != nil || dueDate.After(now) || !mandate.ValidOn(dueDate) {
			continue
		}

		if _, err := a.ScheduleNextDebit(ctx, mandate.MandateID); err != nil {
			logrus.Errorf("could not schedule debit for mandate %s: %v", mandate.MandateID, err)
		}
	}
	return nil
}

// RetryDebit spawns the follow-up attempt for a failed debit. The retry is
// a new ledger row sharing the scheduled slot with its predecessor, with
// the retry counter carried forward. Exhausted lineages and debits on
// terminal mandates are refused.
func (a *Autopay) RetryDebit(ctx context.Context, attemptID string) (*model.DebitAttempt, error) {
	ctx, span := tracer.Start(ctx, "Retrying debit")
	defer span.End()

	attempt, err := a.datasource.GetDebitAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	locker, err := a.acquireLock(ctx, attempt.MandateID)
	if err != nil {
		return nil, err
	}
	defer a.releaseLock(ctx, locker)

	mandate, err := a.datasource.GetMandate(ctx, attempt.MandateID)
	if err != nil {
		return nil, err
	}
	if mandate.IsTerminal() {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Cannot retry a debit on a '%s' mandate", mandate.Status), nil)
	}

	return a.retryLocked(ctx, attempt)
}

// retryLocked spawns and enqueues the retry; callers hold the mandate lock.
func (a *Autopay) retryLocked(ctx context.Context, attempt *model.DebitAttempt) (*model.DebitAttempt, error) {
	retry, err := attempt.NewRetry()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrRetryExhausted, fmt.Sprintf("Attempt '%s' cannot be retried", attempt.DebitID), err)
	}

	retry, err = a.datasource.RecordDebitAttempt(ctx, retry)
	if err != nil {
		return nil, err
	}

	a.enqueueAttempt(ctx, retry)
	return retry, nil
}

// enqueueAttempt hands a pending attempt to the workers. Enqueue failures
// are surfaced to ops but never fail the scheduling path: the unresolved
// sweep picks stragglers up on the next pass.
func (a *Autopay) enqueueAttempt(ctx context.Context, attempt *model.DebitAttempt) {
	if err := a.queue.EnqueueDebit(ctx, attempt); err != nil {
		logrus.Warnf("could not enqueue debit attempt %s: %v", attempt.DebitID, err)
		notification.NotifyError(err)
	}
}

// GetDebitAttempt retrieves a single attempt by ID.
func (a *Autopay) GetDebitAttempt(ctx context.Context, id string) (*model.DebitAttempt, error) {
	return a.datasource.GetDebitAttempt(ctx, id)
}

// GetAttemptsByMandate lists a mandate's debit history, newest first.
func (a *Autopay) GetAttemptsByMandate(ctx context.Context, mandateID string, limit, offset int) ([]model.DebitAttempt, error) {
	return a.datasource.GetAttemptsByMandate(ctx, mandateID, limit, offset)
}
