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
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/corrit-electric/autopay/api/model"
	"github.com/corrit-electric/autopay/gateway"
	"github.com/corrit-electric/autopay/internal/apierror"
)

// GatewayCallback ingests the provider's pushed order-status update. The
// raw body is carried through to the debit row for the audit trail.
func (a Api) GatewayCallback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	var callback model2.GatewayCallback
	if err := json.Unmarshal(body, &callback); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := callback.ValidateGatewayCallback(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	status := &gateway.OrderStatus{
		State:             callback.State,
		TransactionID:     callback.TransactionID,
		UTR:               callback.UTR,
		ErrorCode:         callback.ErrorCode,
		DetailedErrorCode: callback.DetailedErrorCode,
		Raw:               body,
	}

	if callback.OrderID != "" {
		err = a.autopay.ApplyGatewayCallback(c.Request.Context(), callback.OrderID, status)
	} else {
		err = a.autopay.ApplySubscriptionUpdate(c.Request.Context(), callback.SubscriptionID, status)
	}
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "callback processed"})
}

func (a Api) GetForecast(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "0"))
	if err != nil || days < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a non-negative integer"})
		return
	}

	resp, err := a.autopay.GetForecast(c.Request.Context(), days)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
