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

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/corrit-electric/autopay/model"
)

// MockDataSource is a mock implementation of database.IDataSource.
type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) CreateMandate(ctx context.Context, mandate *model.Mandate) (*model.Mandate, error) {
	args := m.Called(ctx, mandate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Mandate), args.Error(1)
}

func (m *MockDataSource) GetMandate(ctx context.Context, id string) (*model.Mandate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Mandate), args.Error(1)
}

func (m *MockDataSource) GetLiveMandateByRider(ctx context.Context, riderID string) (*model.Mandate, error) {
	args := m.Called(ctx, riderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Mandate), args.Error(1)
}

func (m *MockDataSource) GetMandateBySubscription(ctx context.Context, subscriptionID string) (*model.Mandate, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Mandate), args.Error(1)
}

func (m *MockDataSource) GetMandateByOrder(ctx context.Context, orderID string) (*model.Mandate, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Mandate), args.Error(1)
}

func (m *MockDataSource) GetAllMandates(ctx context.Context, limit, offset int) ([]model.Mandate, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Mandate), args.Error(1)
}

func (m *MockDataSource) GetActiveMandates(ctx context.Context) ([]model.Mandate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Mandate), args.Error(1)
}

func (m *MockDataSource) GetPendingMandates(ctx context.Context) ([]model.Mandate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Mandate), args.Error(1)
}

func (m *MockDataSource) GetExpiringMandates(ctx context.Context, from, to time.Time) ([]model.Mandate, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Mandate), args.Error(1)
}

func (m *MockDataSource) UpdateMandateStatus(ctx context.Context, id, status, reason string) error {
	args := m.Called(ctx, id, status, reason)
	return args.Error(0)
}

func (m *MockDataSource) UpdateMandateDebitTotals(ctx context.Context, id string, debited int64, last, next *time.Time) error {
	args := m.Called(ctx, id, debited, last, next)
	return args.Error(0)
}

func (m *MockDataSource) GetMandateStats(ctx context.Context, riderID string) (*model.MandateStats, error) {
	args := m.Called(ctx, riderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MandateStats), args.Error(1)
}

func (m *MockDataSource) RecordDebitAttempt(ctx context.Context, attempt *model.DebitAttempt) (*model.DebitAttempt, error) {
	args := m.Called(ctx, attempt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DebitAttempt), args.Error(1)
}

func (m *MockDataSource) GetDebitAttempt(ctx context.Context, id string) (*model.DebitAttempt, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DebitAttempt), args.Error(1)
}

func (m *MockDataSource) GetDebitAttemptByOrderID(ctx context.Context, orderID string) (*model.DebitAttempt, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DebitAttempt), args.Error(1)
}

func (m *MockDataSource) GetLatestAttemptForMandate(ctx context.Context, mandateID string) (*model.DebitAttempt, error) {
	args := m.Called(ctx, mandateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DebitAttempt), args.Error(1)
}

func (m *MockDataSource) GetAttemptsByMandate(ctx context.Context, mandateID string, limit, offset int) ([]model.DebitAttempt, error) {
	args := m.Called(ctx, mandateID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DebitAttempt), args.Error(1)
}

func (m *MockDataSource) GetUnresolvedAttempts(ctx context.Context, from, to time.Time) ([]model.DebitAttempt, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DebitAttempt), args.Error(1)
}

func (m *MockDataSource) UpdateDebitSubmission(ctx context.Context, id, orderID string) error {
	args := m.Called(ctx, id, orderID)
	return args.Error(0)
}

func (m *MockDataSource) UpdateDebitOutcome(ctx context.Context, attempt *model.DebitAttempt) (bool, error) {
	args := m.Called(ctx, attempt)
	return args.Bool(0), args.Error(1)
}
