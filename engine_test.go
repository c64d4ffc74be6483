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
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/mock"

	"github.com/corrit-electric/autopay/config"
	"github.com/corrit-electric/autopay/database/mocks"
	"github.com/corrit-electric/autopay/gateway"
	"github.com/corrit-electric/autopay/model"
)

type mockGateway struct {
	mock.Mock
}

func (g *mockGateway) SetupMandate(ctx context.Context, req *gateway.SetupRequest) (*gateway.SetupResult, error) {
	args := g.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.SetupResult), args.Error(1)
}

func (g *mockGateway) PollOrderStatus(ctx context.Context, merchantOrderID string) (*gateway.OrderStatus, error) {
	args := g.Called(ctx, merchantOrderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.OrderStatus), args.Error(1)
}

func (g *mockGateway) CancelMandate(ctx context.Context, subscriptionID string) (bool, error) {
	args := g.Called(ctx, subscriptionID)
	return args.Bool(0), args.Error(1)
}

// newTestEngine wires the engine against a mocked datasource, gateway and
// Redis client. The webhook URL is left empty so lifecycle events are
// no-ops during tests.
func newTestEngine(t *testing.T) (*Autopay, *mocks.MockDataSource, *mockGateway, redismock.ClientMock) {
	t.Helper()
	config.MockConfig(&config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://autopay:@localhost:5432/autopay"},
		Redis:      config.RedisConfig{Dns: "localhost:6379"},
	})
	cfg, err := config.Fetch()
	if err != nil {
		t.Fatalf("config fetch: %v", err)
	}

	redisClient, redisMock := redismock.NewClientMock()
	datasource := &mocks.MockDataSource{}
	gatewayClient := &mockGateway{}

	engine := &Autopay{
		datasource: datasource,
		gateway:    gatewayClient,
		redis:      redisClient,
		queue:      NewQueue(cfg),
	}
	return engine, datasource, gatewayClient, redisMock
}

// expectMandateLock arms the Redis mock for one acquire/release cycle on a
// mandate's lock. Lock holder values are random, so matching is by
// pattern.
func expectMandateLock(redisMock redismock.ClientMock, mandateID string) {
	redisMock.Regexp().ExpectSetNX(mandateID, `loc_.*`, 5*time.Minute).SetVal(true)
	redisMock.Regexp().ExpectEval(`.*`, []string{mandateID}, `loc_.*`).SetVal(int64(1))
}

func activeTestMandate(id string) *model.Mandate {
	now := time.Now()
	return &model.Mandate{
		MandateID:      id,
		RiderID:        "rider_" + id,
		OrderID:        "ord_" + id,
		SubscriptionID: "sub_" + id,
		Amount:         500,
		MaxAmount:      10000,
		Frequency:      model.FrequencyWeekly,
		VPA:            "rider@upi",
		Status:         model.MandateStatusActive,
		ValidFrom:      now.AddDate(0, 0, -30),
		ValidTo:        now.AddDate(0, 6, 0),
		CreatedAt:      now.AddDate(0, 0, -30),
	}
}
