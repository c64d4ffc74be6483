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
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corrit-electric/autopay"
	model2 "github.com/corrit-electric/autopay/api/model"
	"github.com/corrit-electric/autopay/config"
	"github.com/corrit-electric/autopay/database"
	"github.com/corrit-electric/autopay/model"
)

const gatewayBaseURL = "http://payments.gateway.test"

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil {
		if err := json.NewDecoder(resp.Body).Decode(s.Response); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func setupRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: "localhost:6379"},
		Gateway: config.GatewayConfig{
			BaseUrl:    gatewayBaseURL,
			MerchantId: "CORRITUAT",
			SaltKey:    "salt",
			SaltIndex:  "1",
		},
	})
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	engine, err := autopay.NewAutopay(&database.Datasource{Conn: db})
	require.NoError(t, err)
	return NewAPI(engine).Router(), mock
}

func mandateRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"mandate_id", "rider_id", "order_id", "subscription_id", "amount",
		"max_amount", "frequency", "vpa", "status", "status_reason",
		"valid_from", "valid_to", "last_debit_date", "next_debit_date",
		"total_debited", "debit_count", "created_at", "meta_data",
	})
}

func validCreatePayload() model2.CreateMandate {
	now := time.Now()
	return model2.CreateMandate{
		RiderID:   gofakeit.UUID(),
		Amount:    500,
		MaxAmount: 10000,
		Frequency: model.FrequencyWeekly,
		VPA:       "rider@upi",
		ValidFrom: now,
		ValidTo:   now.AddDate(0, 6, 0),
	}
}

func TestCreateMandateAPI(t *testing.T) {
	router, mock := setupRouter(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodPost, gatewayBaseURL+"/v3/recurring/auth/init",
		httpmock.NewStringResponder(http.StatusOK,
			`{"success":true,"code":"SUCCESS","data":{"merchantOrderId":"ord_123","subscriptionId":"sub_123","state":"PENDING"}}`))

	mock.ExpectQuery("SELECT .* FROM mandates WHERE rider_id =").
		WillReturnRows(mandateRows())
	mock.ExpectExec("INSERT INTO mandates").
		WillReturnResult(sqlmock.NewResult(1, 1))

	payload, err := json.Marshal(validCreatePayload())
	require.NoError(t, err)

	var created model.Mandate
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewReader(payload),
		Router:   router,
		Response: &created,
		Method:   http.MethodPost,
		Route:    "/mandates",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Contains(t, created.MandateID, "man_")
	assert.Equal(t, "ord_123", created.OrderID)
	assert.Equal(t, "sub_123", created.SubscriptionID)
	assert.Equal(t, model.MandateStatusPending, created.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMandateAPIValidation(t *testing.T) {
	router, _ := setupRouter(t)

	tests := []struct {
		name   string
		mutate func(*model2.CreateMandate)
	}{
		{name: "zero amount", mutate: func(c *model2.CreateMandate) { c.Amount = 0 }},
		{name: "missing rider", mutate: func(c *model2.CreateMandate) { c.RiderID = "" }},
		{name: "bad frequency", mutate: func(c *model2.CreateMandate) { c.Frequency = "hourly" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validCreatePayload()
			tt.mutate(&body)
			payload, err := json.Marshal(body)
			require.NoError(t, err)

			resp, err := SetUpTestRequest(TestRequest{
				Payload: bytes.NewReader(payload),
				Router:  router,
				Method:  http.MethodPost,
				Route:   "/mandates",
			})
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
		})
	}
}

func TestCreateMandateAPIDuplicateRider(t *testing.T) {
	router, mock := setupRouter(t)

	body := validCreatePayload()
	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM mandates WHERE rider_id =").
		WillReturnRows(mandateRows().AddRow(
			"man_existing", body.RiderID, "ord_1", "sub_1", 500, 10000,
			"weekly", "rider@upi", "active", nil, now, now.AddDate(0, 6, 0),
			nil, nil, 0, 0, now, nil))

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: bytes.NewReader(payload),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/mandates",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestGetMandateAPI(t *testing.T) {
	router, mock := setupRouter(t)
	now := time.Now()

	mock.ExpectQuery("SELECT .* FROM mandates WHERE mandate_id =").
		WithArgs("man_1").
		WillReturnRows(mandateRows().AddRow(
			"man_1", "rider_1", "ord_1", "sub_1", 500, 10000, "weekly",
			"rider@upi", "active", nil, now, now.AddDate(0, 6, 0),
			nil, nil, 1500, 3, now, nil))

	var mandate model.Mandate
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &mandate,
		Method:   http.MethodGet,
		Route:    "/mandates/man_1",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "rider_1", mandate.RiderID)
	assert.Equal(t, int64(1500), mandate.TotalDebited)
}

func TestGetMandateAPINotFound(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectQuery("SELECT .* FROM mandates WHERE mandate_id =").
		WithArgs("man_missing").
		WillReturnRows(mandateRows())

	resp, err := SetUpTestRequest(TestRequest{
		Router: router,
		Method: http.MethodGet,
		Route:  "/mandates/man_missing",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestRetryDebitAPIUnknownAttempt(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectQuery("SELECT .* FROM debit_attempts WHERE debit_id =").
		WithArgs("deb_missing").
		WillReturnRows(sqlmock.NewRows([]string{"debit_id"}))

	resp, err := SetUpTestRequest(TestRequest{
		Router: router,
		Method: http.MethodPost,
		Route:  "/debits/deb_missing/retry",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestGatewayCallbackAPIUnknownOrder(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectQuery("SELECT .* FROM debit_attempts WHERE order_id =").
		WillReturnRows(sqlmock.NewRows([]string{"debit_id"}))
	mock.ExpectQuery("SELECT .* FROM mandates WHERE order_id =").
		WillReturnRows(sqlmock.NewRows([]string{"mandate_id"}))

	payload := []byte(`{"merchantOrderId":"ord_ghost","state":"COMPLETED","transactionId":"TXN1"}`)
	resp, err := SetUpTestRequest(TestRequest{
		Payload: bytes.NewReader(payload),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/callbacks/gateway",
	})
	require.NoError(t, err)

	// unknown orders are acknowledged so the provider stops re-delivering
	assert.Equal(t, http.StatusOK, resp.Code)
}

// Subscription-level pushes are routed by subscriptionId; unknown ones are
// acknowledged like unknown orders.
func TestGatewayCallbackAPIUnknownSubscription(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectQuery("SELECT .* FROM mandates WHERE subscription_id =").
		WillReturnRows(sqlmock.NewRows([]string{"mandate_id"}))

	payload := []byte(`{"subscriptionId":"sub_ghost","state":"REVOKED"}`)
	resp, err := SetUpTestRequest(TestRequest{
		Payload: bytes.NewReader(payload),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/callbacks/gateway",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestGatewayCallbackAPIRejectsUnidentifiedPayload(t *testing.T) {
	router, _ := setupRouter(t)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: bytes.NewReader([]byte(`{"state":"COMPLETED"}`)),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/callbacks/gateway",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetForecastAPI(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectQuery("SELECT .* FROM debit_attempts").
		WillReturnRows(sqlmock.NewRows([]string{
			"debit_id", "mandate_id", "order_id", "transaction_id", "amount",
			"scheduled_date", "processed_date", "status", "gateway_status",
			"retry_count", "failure_reason", "raw_payload", "created_at",
		}))
	mock.ExpectQuery("SELECT .* FROM mandates").
		WillReturnRows(mandateRows())

	var points []model.ForecastPoint
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &points,
		Method:   http.MethodGet,
		Route:    "/forecast?days=7",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, points, 7)
}

func TestGetForecastAPIRejectsNegativeWindow(t *testing.T) {
	router, _ := setupRouter(t)

	resp, err := SetUpTestRequest(TestRequest{
		Router: router,
		Method: http.MethodGet,
		Route:  "/forecast?days=-3",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
