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
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/corrit-electric/autopay/config"
	"github.com/corrit-electric/autopay/database"
	"github.com/corrit-electric/autopay/gateway"
	redis_db "github.com/corrit-electric/autopay/internal/redis-db"
)

// Autopay is the mandate lifecycle engine. It owns the mandate store, the
// append-only debit ledger, the reconciliation flow against the payment
// gateway and the forecast projection.
type Autopay struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	gateway    gateway.Client
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewAutopay initializes the engine with the provided datasource. The
// Redis client, task queue and gateway client are built from the active
// configuration.
func NewAutopay(db database.IDataSource) (*Autopay, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	gatewayClient, err := gateway.NewClient()
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	return &Autopay{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		gateway:    gatewayClient,
	}, nil
}
