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
	"time"

	"github.com/corrit-electric/autopay/model"
)

// CreateMandate is the POST /mandates request body. Amounts are in paise.
type CreateMandate struct {
	RiderID   string                 `json:"rider_id"`
	Amount    int64                  `json:"amount"`
	MaxAmount int64                  `json:"max_amount"`
	Frequency string                 `json:"frequency"`
	VPA       string                 `json:"vpa"`
	ValidFrom time.Time              `json:"valid_from"`
	ValidTo   time.Time              `json:"valid_to"`
	MetaData  map[string]interface{} `json:"meta_data"`
}

// CancelMandate is the POST /mandates/:id/cancel request body.
type CancelMandate struct {
	Reason string `json:"reason"`
}

// GatewayCallback is the POST /callbacks/gateway request body. Order-level
// pushes carry merchantOrderId; subscription-level state changes (pause,
// resume, revocation) carry subscriptionId instead.
type GatewayCallback struct {
	OrderID           string `json:"merchantOrderId"`
	SubscriptionID    string `json:"subscriptionId"`
	State             string `json:"state"`
	TransactionID     string `json:"transactionId"`
	UTR               string `json:"utr"`
	ErrorCode         string `json:"errorCode"`
	DetailedErrorCode string `json:"detailedErrorCode"`
}

func (c *CreateMandate) ToMandate() *model.Mandate {
	return &model.Mandate{
		RiderID:   c.RiderID,
		Amount:    c.Amount,
		MaxAmount: c.MaxAmount,
		Frequency: c.Frequency,
		VPA:       c.VPA,
		ValidFrom: c.ValidFrom,
		ValidTo:   c.ValidTo,
		MetaData:  c.MetaData,
	}
}
