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

// Package gateway is the HTTP client for the UPI payment provider. The
// provider's asynchronous state is the ground truth for debit outcomes;
// this package only normalizes its wire format, it never interprets
// outcomes.
package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/corrit-electric/autopay/config"
	"github.com/corrit-electric/autopay/internal/apierror"
)

// SetupRequest carries everything the provider needs to register a
// recurring mandate against a rider's VPA.
type SetupRequest struct {
	RiderID   string    `json:"merchantUserId"`
	Amount    int64     `json:"amount"`
	MaxAmount int64     `json:"maxAmount"`
	Frequency string    `json:"frequency"`
	VPA       string    `json:"vpa"`
	ValidTo   time.Time `json:"-"`
}

// SetupResult is the normalized outcome of a mandate-setup call.
type SetupResult struct {
	OrderID        string `json:"order_id"`
	SubscriptionID string `json:"subscription_id"`
	State          string `json:"state"`
}

// OrderStatus is the normalized outcome of a status poll. Raw holds the
// provider payload verbatim for the audit trail.
type OrderStatus struct {
	State             string          `json:"state"`
	TransactionID     string          `json:"transaction_id,omitempty"`
	UTR               string          `json:"utr,omitempty"`
	ErrorCode         string          `json:"error_code,omitempty"`
	DetailedErrorCode string          `json:"detailed_error_code,omitempty"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// Client abstracts the payment provider for the engine. The reconciliation
// engine is the only consumer.
type Client interface {
	SetupMandate(ctx context.Context, req *SetupRequest) (*SetupResult, error)
	PollOrderStatus(ctx context.Context, merchantOrderID string) (*OrderStatus, error)
	CancelMandate(ctx context.Context, subscriptionID string) (bool, error)
}

type httpClient struct {
	client *http.Client
}

// NewClient builds the provider client using the gateway section of the
// configuration.
func NewClient() (Client, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return &httpClient{
		client: &http.Client{Timeout: time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second},
	}, nil
}

// signPayload computes the provider's X-VERIFY checksum:
// sha256(base64Payload + path + saltKey) + "###" + saltIndex.
func signPayload(base64Payload, path, saltKey, saltIndex string) string {
	sum := sha256.Sum256([]byte(base64Payload + path + saltKey))
	return fmt.Sprintf("%x###%s", sum, saltIndex)
}

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (h *httpClient) post(ctx context.Context, path string, body interface{}) (*envelope, json.RawMessage, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, nil, err
	}

	raw, err := json.Marshal(map[string]interface{}{"request": body})
	if err != nil {
		return nil, nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	payload, err := json.Marshal(map[string]string{"request": encoded})
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Gateway.BaseUrl+path, bytes.NewBuffer(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", signPayload(encoded, path, cfg.Gateway.SaltKey, cfg.Gateway.SaltIndex))
	req.Header.Set("X-MERCHANT-ID", cfg.Gateway.MerchantId)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrGatewayUnavailable, "gateway request failed", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Error(err)
		}
	}()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrGatewayUnavailable, "failed reading gateway response", err)
	}

	if resp.StatusCode >= 500 {
		return nil, rawBody, apierror.NewAPIError(apierror.ErrGatewayUnavailable, fmt.Sprintf("gateway returned %d", resp.StatusCode), string(rawBody))
	}
	if resp.StatusCode >= 400 {
		return nil, rawBody, apierror.NewAPIError(apierror.ErrGatewayRejected, fmt.Sprintf("gateway rejected request with %d", resp.StatusCode), string(rawBody))
	}

	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, rawBody, errors.Wrap(err, "decoding gateway envelope")
	}
	return &env, rawBody, nil
}

func (h *httpClient) get(ctx context.Context, path string) (*envelope, json.RawMessage, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Gateway.BaseUrl+path, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", signPayload("", path, cfg.Gateway.SaltKey, cfg.Gateway.SaltIndex))
	req.Header.Set("X-MERCHANT-ID", cfg.Gateway.MerchantId)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrGatewayUnavailable, "gateway request failed", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Error(err)
		}
	}()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrGatewayUnavailable, "failed reading gateway response", err)
	}

	if resp.StatusCode >= 500 {
		return nil, rawBody, apierror.NewAPIError(apierror.ErrGatewayUnavailable, fmt.Sprintf("gateway returned %d", resp.StatusCode), string(rawBody))
	}
	if resp.StatusCode >= 400 {
		return nil, rawBody, apierror.NewAPIError(apierror.ErrGatewayRejected, fmt.Sprintf("gateway rejected request with %d", resp.StatusCode), string(rawBody))
	}

	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, rawBody, errors.Wrap(err, "decoding gateway envelope")
	}
	return &env, rawBody, nil
}

func (h *httpClient) SetupMandate(ctx context.Context, setup *SetupRequest) (*SetupResult, error) {
	env, _, err := h.post(ctx, "/v3/recurring/auth/init", setup)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, apierror.NewAPIError(apierror.ErrGatewayRejected, "mandate setup rejected", env.Code)
	}

	var data struct {
		MerchantOrderID string `json:"merchantOrderId"`
		SubscriptionID  string `json:"subscriptionId"`
		State           string `json:"state"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, errors.Wrap(err, "decoding setup response")
	}
	return &SetupResult{
		OrderID:        data.MerchantOrderID,
		SubscriptionID: data.SubscriptionID,
		State:          data.State,
	}, nil
}

func (h *httpClient) PollOrderStatus(ctx context.Context, merchantOrderID string) (*OrderStatus, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/v3/recurring/debit/status/%s/%s", cfg.Gateway.MerchantId, merchantOrderID)
	env, rawBody, err := h.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var data struct {
		State             string `json:"state"`
		TransactionID     string `json:"transactionId"`
		UTR               string `json:"utr"`
		ErrorCode         string `json:"errorCode"`
		DetailedErrorCode string `json:"detailedErrorCode"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, errors.Wrap(err, "decoding order status")
	}

	return &OrderStatus{
		State:             data.State,
		TransactionID:     data.TransactionID,
		UTR:               data.UTR,
		ErrorCode:         data.ErrorCode,
		DetailedErrorCode: data.DetailedErrorCode,
		Raw:               rawBody,
	}, nil
}

func (h *httpClient) CancelMandate(ctx context.Context, subscriptionID string) (bool, error) {
	env, _, err := h.post(ctx, "/v3/recurring/subscription/cancel", map[string]string{"subscriptionId": subscriptionID})
	if err != nil {
		return false, err
	}
	return env.Success, nil
}
