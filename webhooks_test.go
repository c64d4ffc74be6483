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
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corrit-electric/autopay/config"
	"github.com/corrit-electric/autopay/model"
)

// With no webhook URL configured, sending is a silent no-op.
func TestSendWebhookDisabled(t *testing.T) {
	config.MockConfig(&config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://autopay:@localhost:5432/autopay"},
		Redis:      config.RedisConfig{Dns: "localhost:6379"},
	})

	err := SendWebhook(NewWebhook{
		Event: model.EventMandateCreated,
		Payload: model.LifecycleEvent{
			Type:     model.EventMandateCreated,
			RiderRef: "rider_1",
			Severity: model.SeverityInfo,
		},
	})
	assert.NoError(t, err)
}

func TestProcessWebhookDeliversEvent(t *testing.T) {
	cfg := &config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://autopay:@localhost:5432/autopay"},
		Redis:      config.RedisConfig{Dns: "localhost:6379"},
	}
	cfg.Notification.Webhook.Url = "http://fleet-ops.local/hooks/autopay"
	cfg.Notification.Webhook.Headers = map[string]string{"X-Fleet-Token": "secret"}
	config.MockConfig(cfg)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var received NewWebhook
	httpmock.RegisterResponder("POST", "http://fleet-ops.local/hooks/autopay",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "secret", req.Header.Get("X-Fleet-Token"))
			if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
				return nil, err
			}
			return httpmock.NewJsonResponse(200, map[string]interface{}{"received": true})
		})

	payload, err := json.Marshal(NewWebhook{
		Event: model.EventPaymentFailed,
		Payload: model.LifecycleEvent{
			Type:           model.EventPaymentFailed,
			RiderRef:       "rider_1",
			Severity:       model.SeverityCritical,
			ActionRequired: true,
		},
	})
	require.NoError(t, err)

	task := asynq.NewTask("autopay:webhook", payload)
	err = ProcessWebhook(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, model.EventPaymentFailed, received.Event)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

// A non-2xx delivery response is logged but not retried as an error.
func TestProcessWebhookNon2xxIsSwallowed(t *testing.T) {
	cfg := &config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://autopay:@localhost:5432/autopay"},
		Redis:      config.RedisConfig{Dns: "localhost:6379"},
	}
	cfg.Notification.Webhook.Url = "http://fleet-ops.local/hooks/autopay"
	config.MockConfig(cfg)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "http://fleet-ops.local/hooks/autopay",
		httpmock.NewStringResponder(500, "downstream broken"))

	payload, err := json.Marshal(NewWebhook{Event: model.EventPaymentSuccess})
	require.NoError(t, err)

	err = ProcessWebhook(context.Background(), asynq.NewTask("autopay:webhook", payload))
	assert.NoError(t, err)
}
