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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corrit-electric/autopay/gateway"
	"github.com/corrit-electric/autopay/internal/apierror"
	redlock "github.com/corrit-electric/autopay/internal/lock"
	"github.com/corrit-electric/autopay/internal/notification"
	"github.com/corrit-electric/autopay/model"
)

func (a *Autopay) acquireLock(ctx context.Context, mandateID string) (*redlock.Locker, error) {
	locker := redlock.NewLocker(a.redis, mandateID, model.GenerateUUIDWithSuffix("loc"))
	err := locker.Lock(ctx, time.Minute*5)
	if err != nil {
		return nil, err
	}
	return locker, nil
}

func (a *Autopay) releaseLock(ctx context.Context, locker *redlock.Locker) {
	if err := locker.Unlock(ctx); err != nil {
		logrus.Error("lock error", err)
	}
}

func validateNewMandate(mandate *model.Mandate) error {
	if mandate.Amount <= 0 {
		return apierror.NewAPIError(apierror.ErrInvalidAmount, "Mandate amount must be positive", mandate.Amount)
	}
	if mandate.MaxAmount < mandate.Amount {
		return apierror.NewAPIError(apierror.ErrInvalidAmount, "Mandate max amount cannot be below the recurring amount", mandate.MaxAmount)
	}
	if !model.ValidFrequency(mandate.Frequency) {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Unsupported frequency '%s'", mandate.Frequency), nil)
	}
	if !mandate.ValidTo.After(mandate.ValidFrom) {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Mandate validity window must end after it starts", nil)
	}
	return nil
}

// CreateMandate registers a new recurring mandate for a rider. The mandate
// is set up with the gateway first and persisted as pending; it only turns
// active once the gateway confirms rider approval.
func (a *Autopay) CreateMandate(ctx context.Context, mandate *model.Mandate) (*model.Mandate, error) {
	ctx, span := tracer.Start(ctx, "Creating mandate")
	defer span.End()

	if err := validateNewMandate(mandate); err != nil {
		return nil, err
	}

	existing, err := a.datasource.GetLiveMandateByRider(ctx, mandate.RiderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierror.NewAPIError(apierror.ErrDuplicateMandate, fmt.Sprintf("Rider '%s' already holds a live mandate", mandate.RiderID), existing.MandateID)
	}

	setup, err := a.gateway.SetupMandate(ctx, &gateway.SetupRequest{
		RiderID:   mandate.RiderID,
		Amount:    mandate.Amount,
		MaxAmount: mandate.MaxAmount,
		Frequency: mandate.Frequency,
		VPA:       mandate.VPA,
		ValidTo:   mandate.ValidTo,
	})
	if err != nil {
		return nil, logAndRecordError(span, "mandate setup error", err)
	}

	mandate.MandateID = model.GenerateUUIDWithSuffix("man")
	mandate.OrderID = setup.OrderID
	mandate.SubscriptionID = setup.SubscriptionID
	mandate.Status = model.MandateStatusPending
	mandate.CreatedAt = time.Now()

	mandate, err = a.datasource.CreateMandate(ctx, mandate)
	if err != nil {
		return nil, logAndRecordError(span, "mandate persist error", err)
	}

	a.postLifecycleEvents(ctx, []model.LifecycleEvent{{
		Type:     model.EventMandateCreated,
		RiderRef: mandate.RiderID,
		Severity: model.SeverityInfo,
		Payload:  map[string]interface{}{"mandate_id": mandate.MandateID, "order_id": mandate.OrderID},
	}})

	if err := a.queue.EnqueuePoll(ctx, PollTaskPayload{MandateID: mandate.MandateID, OrderID: mandate.OrderID}, time.Minute); err != nil {
		logrus.Warnf("could not enqueue setup poll for %s: %v", mandate.MandateID, err)
		notification.NotifyError(err)
	}

	return mandate, nil
}

// TransitionMandate moves a mandate along the lifecycle state machine
// under the per-mandate lock. The transition itself is computed by the
// model and persisted only if legal; the resulting lifecycle events are
// posted after the write.
func (a *Autopay) TransitionMandate(ctx context.Context, id, target, cause string) (*model.Mandate, error) {
	ctx, span := tracer.Start(ctx, "Transitioning mandate")
	defer span.End()

	locker, err := a.acquireLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer a.releaseLock(ctx, locker)

	return a.transitionLocked(ctx, id, target, cause)
}

// transitionLocked runs the transition; callers must hold the mandate lock.
func (a *Autopay) transitionLocked(ctx context.Context, id, target, cause string) (*model.Mandate, error) {
	mandate, err := a.datasource.GetMandate(ctx, id)
	if err != nil {
		return nil, err
	}

	next, events, err := mandate.Transition(target, cause)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrIllegalTransition, fmt.Sprintf("Cannot move mandate from '%s' to '%s'", mandate.Status, target), err)
	}

	if err := a.datasource.UpdateMandateStatus(ctx, id, next.Status, next.StatusReason); err != nil {
		return nil, err
	}

	a.postLifecycleEvents(ctx, events)
	return next, nil
}

// CancelMandate revokes a mandate locally and then best-effort with the
// gateway. Cancelling an already-cancelled mandate is a no-op. The local
// cancellation always wins: a failed gateway revocation is surfaced to ops
// but does not resurrect the mandate.
func (a *Autopay) CancelMandate(ctx context.Context, id, cause string) (*model.Mandate, error) {
	ctx, span := tracer.Start(ctx, "Cancelling mandate")
	defer span.End()

	locker, err := a.acquireLock(ctx, id)
	if err != nil {
		return nil, err
	}

	mandate, err := a.datasource.GetMandate(ctx, id)
	if err != nil {
		a.releaseLock(ctx, locker)
		return nil, err
	}

	if mandate.Status == model.MandateStatusCancelled {
		a.releaseLock(ctx, locker)
		return mandate, nil
	}

	next, err := a.transitionLocked(ctx, id, model.MandateStatusCancelled, cause)
	a.releaseLock(ctx, locker)
	if err != nil {
		return nil, err
	}

	// Gateway revocation happens outside the lock. The mandate is already
	// cancelled on our side; the gateway outcome cannot change that.
	if mandate.SubscriptionID != "" {
		revoked, err := a.gateway.CancelMandate(ctx, mandate.SubscriptionID)
		if err != nil || !revoked {
			logrus.Warnf("gateway revocation for mandate %s did not complete: %v", id, err)
			notification.NotifyError(fmt.Errorf("mandate %s cancelled locally but gateway revocation did not complete: %v", id, err))
		}
	}

	return next, nil
}

// GetMandate retrieves a mandate by ID.
func (a *Autopay) GetMandate(ctx context.Context, id string) (*model.Mandate, error) {
	return a.datasource.GetMandate(ctx, id)
}

// GetAllMandates lists mandates, newest first.
func (a *Autopay) GetAllMandates(ctx context.Context, limit, offset int) ([]model.Mandate, error) {
	return a.datasource.GetAllMandates(ctx, limit, offset)
}

// GetMandateStats aggregates mandate counts and collection totals, for the
// whole fleet or a single rider.
func (a *Autopay) GetMandateStats(ctx context.Context, riderID string) (*model.MandateStats, error) {
	return a.datasource.GetMandateStats(ctx, riderID)
}
