package paymentcreate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/gateway-keeper/internal/services/ledger"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/payment"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) CreatePayment(ctx context.Context, identityUUID, plan string) (payment.Checkout, error) {
	args := m.Called(ctx, identityUUID, plan)
	return args.Get(0).(payment.Checkout), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

const identityUUID = "c2a7a2c4-4b0f-4f4e-8d55-2f1a0c9b7e31"

func TestPaymentCreateHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    any
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:        "success",
			requestBody: Request{IdentityUUID: identityUUID, Plan: "m3"},
			setupMock: func(m *MockService) {
				m.On("CreatePayment", mock.Anything, identityUUID, "m3").Return(payment.Checkout{
					PaymentID: "2d6e-01", ConfirmationURL: "https://yoomoney.ru/checkout/2d6e-01",
					Amount: "350.00", Currency: "RUB",
				}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"confirmation_url":"https://yoomoney.ru/checkout/2d6e-01"`,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not a json",
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"invalid request body"}`,
		},
		{
			name:           "bad uuid",
			requestBody:    Request{IdentityUUID: "42", Plan: "m1"},
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field IdentityUUID can contain only uuid`,
		},
		{
			name:        "unknown plan",
			requestBody: Request{IdentityUUID: identityUUID, Plan: "m7"},
			setupMock: func(m *MockService) {
				m.On("CreatePayment", mock.Anything, identityUUID, "m7").
					Return(payment.Checkout{}, fmt.Errorf("payment.CreatePayment: %w", payment.ErrUnknownPlan)).Once()
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `{"status":"Error","error":"unknown plan"}`,
		},
		{
			name:        "unknown identity",
			requestBody: Request{IdentityUUID: identityUUID, Plan: "m1"},
			setupMock: func(m *MockService) {
				m.On("CreatePayment", mock.Anything, identityUUID, "m1").
					Return(payment.Checkout{}, ledger.ErrIdentityNotFound).Once()
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"status":"Error","error":"identity not found"}`,
		},
		{
			name:        "provider failure",
			requestBody: Request{IdentityUUID: identityUUID, Plan: "m1"},
			setupMock: func(m *MockService) {
				m.On("CreatePayment", mock.Anything, identityUUID, "m1").
					Return(payment.Checkout{}, errors.New("yookassa: status 500")).Once()
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   `service unavailable, retry later or contact support`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)
			handler := New(newNoopLogger(), svc)

			var body []byte
			if s, ok := tt.requestBody.(string); ok {
				body = []byte(s)
			} else {
				body, _ = json.Marshal(tt.requestBody)
			}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewReader(body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			svc.AssertExpectations(t)
		})
	}
}
