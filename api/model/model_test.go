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
package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validCreateMandate() CreateMandate {
	now := time.Now()
	return CreateMandate{
		RiderID:   "rider_1",
		Amount:    500,
		MaxAmount: 10000,
		Frequency: "weekly",
		VPA:       "rider@upi",
		ValidFrom: now,
		ValidTo:   now.AddDate(0, 6, 0),
	}
}

func TestValidateCreateMandate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CreateMandate)
		wantErr string
	}{
		{name: "valid", mutate: func(*CreateMandate) {}},
		{
			name:    "missing rider",
			mutate:  func(c *CreateMandate) { c.RiderID = "" },
			wantErr: "rider_id",
		},
		{
			name:    "zero amount",
			mutate:  func(c *CreateMandate) { c.Amount = 0 },
			wantErr: "amount",
		},
		{
			name:    "max below amount",
			mutate:  func(c *CreateMandate) { c.MaxAmount = 100 },
			wantErr: "max_amount",
		},
		{
			name:    "bad frequency",
			mutate:  func(c *CreateMandate) { c.Frequency = "daily" },
			wantErr: "frequency",
		},
		{
			name:    "missing vpa",
			mutate:  func(c *CreateMandate) { c.VPA = "" },
			wantErr: "vpa",
		},
		{
			name:    "window ends before it starts",
			mutate:  func(c *CreateMandate) { c.ValidTo = c.ValidFrom.AddDate(0, 0, -1) },
			wantErr: "valid_to",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCreateMandate()
			tt.mutate(&c)
			err := c.ValidateCreateMandate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestToMandate(t *testing.T) {
	c := validCreateMandate()
	c.MetaData = map[string]interface{}{"plan": "weekly-500"}

	mandate := c.ToMandate()
	assert.Equal(t, c.RiderID, mandate.RiderID)
	assert.Equal(t, c.Amount, mandate.Amount)
	assert.Equal(t, c.Frequency, mandate.Frequency)
	assert.Equal(t, "weekly-500", mandate.MetaData["plan"])
	assert.Empty(t, mandate.MandateID, "engine assigns the ID, not the API layer")
}

func TestValidateGatewayCallback(t *testing.T) {
	callback := GatewayCallback{OrderID: "ord_1", State: "COMPLETED"}
	assert.NoError(t, callback.ValidateGatewayCallback())

	// either identifier carries the callback
	callback.OrderID = ""
	assert.Error(t, callback.ValidateGatewayCallback())
	callback.SubscriptionID = "sub_1"
	assert.NoError(t, callback.ValidateGatewayCallback())

	callback.State = ""
	assert.Error(t, callback.ValidateGatewayCallback())
}
