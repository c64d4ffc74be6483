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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/corrit-electric/autopay/model"
)

func (c *CreateMandate) ValidateCreateMandate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RiderID, validation.Required),
		validation.Field(&c.Amount, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxAmount, validation.Required, validation.By(func(interface{}) error {
			if c.MaxAmount < c.Amount {
				return errors.New("max_amount cannot be below amount")
			}
			return nil
		})),
		validation.Field(&c.Frequency, validation.Required, validation.By(func(value interface{}) error {
			frequency, _ := value.(string)
			if !model.ValidFrequency(frequency) {
				return errors.New("frequency must be one of weekly, monthly or on_demand")
			}
			return nil
		})),
		validation.Field(&c.VPA, validation.Required),
		validation.Field(&c.ValidFrom, validation.Required),
		validation.Field(&c.ValidTo, validation.Required, validation.By(func(interface{}) error {
			if !c.ValidTo.After(c.ValidFrom) {
				return errors.New("valid_to must be after valid_from")
			}
			return nil
		})),
	)
}

func (g *GatewayCallback) ValidateGatewayCallback() error {
	return validation.ValidateStruct(g,
		validation.Field(&g.OrderID, validation.When(g.SubscriptionID == "", validation.Required.Error("either merchantOrderId or subscriptionId is required"))),
		validation.Field(&g.State, validation.Required),
	)
}
