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

package database

import (
	"context"
	"time"

	"github.com/corrit-electric/autopay/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	mandate
	debit
}

// mandate defines methods for handling mandates.
type mandate interface {
	CreateMandate(ctx context.Context, mandate *model.Mandate) (*model.Mandate, error)                           // Persists a new mandate
	GetMandate(ctx context.Context, id string) (*model.Mandate, error)                                           // Retrieves a mandate by ID
	GetLiveMandateByRider(ctx context.Context, riderID string) (*model.Mandate, error)                           // Retrieves the rider's non-terminal mandate, if any
	GetMandateBySubscription(ctx context.Context, subscriptionID string) (*model.Mandate, error)                 // Retrieves a mandate by gateway subscription ID
	GetMandateByOrder(ctx context.Context, orderID string) (*model.Mandate, error)                               // Retrieves a mandate by its setup order ID, for callback lookup
	GetAllMandates(ctx context.Context, limit, offset int) ([]model.Mandate, error)                              // Retrieves mandates, newest first
	GetActiveMandates(ctx context.Context) ([]model.Mandate, error)                                              // Retrieves all active mandates
	GetPendingMandates(ctx context.Context) ([]model.Mandate, error)                                             // Retrieves mandates awaiting setup confirmation
	GetExpiringMandates(ctx context.Context, from, to time.Time) ([]model.Mandate, error)                        // Retrieves active mandates whose valid_to falls in the window
	UpdateMandateStatus(ctx context.Context, id, status, reason string) error                                    // Updates a mandate's lifecycle state
	UpdateMandateDebitTotals(ctx context.Context, id string, debited int64, last, next *time.Time) error         // Applies a successful debit to the running totals
	GetMandateStats(ctx context.Context, riderID string) (*model.MandateStats, error)                            // Aggregates mandate counts and collection totals
}

// debit defines methods for the append-only debit ledger.
type debit interface {
	RecordDebitAttempt(ctx context.Context, attempt *model.DebitAttempt) (*model.DebitAttempt, error)            // Appends a new attempt row
	GetDebitAttempt(ctx context.Context, id string) (*model.DebitAttempt, error)                                 // Retrieves an attempt by ID
	GetDebitAttemptByOrderID(ctx context.Context, orderID string) (*model.DebitAttempt, error)                   // Retrieves an attempt by gateway order ID, for callback lookup
	GetLatestAttemptForMandate(ctx context.Context, mandateID string) (*model.DebitAttempt, error)               // Retrieves the attempt with the most recent scheduled date
	GetAttemptsByMandate(ctx context.Context, mandateID string, limit, offset int) ([]model.DebitAttempt, error) // Lists a mandate's attempts, newest first
	GetUnresolvedAttempts(ctx context.Context, from, to time.Time) ([]model.DebitAttempt, error)                 // Lists pending/processing attempts scheduled in the window
	UpdateDebitSubmission(ctx context.Context, id, orderID string) error                                         // Stamps the gateway order ID once submitted
	UpdateDebitOutcome(ctx context.Context, attempt *model.DebitAttempt) (bool, error)                           // Applies an outcome; returns false when a terminal outcome already exists
}
