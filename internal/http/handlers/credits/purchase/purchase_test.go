package purchase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/babysteps-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/credits"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) GrantFromPayment(ctx context.Context, paymentTransactionID, userID string, n int) (credits.GrantResult, error) {
	args := m.Called(ctx, paymentTransactionID, userID, n)
	return args.Get(0).(credits.GrantResult), args.Error(1)
}

func TestPurchaseHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	validBody := `{"amount":499,"credits":50,"paymentTransactionId":"pay-1"}`

	tests := []struct {
		name           string
		body           string
		userID         string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "успешное начисление",
			body:   validBody,
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("GrantFromPayment", mock.Anything, "pay-1", "u1", 50).
					Return(credits.GrantResult{NewBalance: 60, Credits: 50, CreditTransactionID: "ct-1"}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"newBalance":60,"credits":50,"creditTransactionId":"ct-1"}`,
		},
		{
			name:   "повторное начисление возвращает прежний результат",
			body:   validBody,
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("GrantFromPayment", mock.Anything, "pay-1", "u1", 50).
					Return(credits.GrantResult{NewBalance: 60, Credits: 50, CreditTransactionID: "ct-1", AlreadyGranted: true}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"creditTransactionId":"ct-1"`,
		},
		{
			name:           "не авторизован",
			body:           validBody,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"status":"Error","error":"unauthorized"}`,
		},
		{
			name:           "некорректный JSON",
			body:           "not a json",
			userID:         "u1",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"failed to decode request"}`,
		},
		{
			name:           "нет обязательных полей",
			body:           `{"amount":499}`,
			userID:         "u1",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `field Credits is a required field, field PaymentTransactionID is a required field`,
		},
		{
			name:           "отрицательное число кредитов",
			body:           `{"amount":499,"credits":-5,"paymentTransactionId":"pay-1"}`,
			userID:         "u1",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `field Credits must be greater than 0`,
		},
		{
			name:   "несовпадение с metadata",
			body:   validBody,
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("GrantFromPayment", mock.Anything, "pay-1", "u1", 50).
					Return(credits.GrantResult{}, credits.ErrCreditsMismatch)
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `credits do not match the payment`,
		},
		{
			name:   "платёж не завершён",
			body:   validBody,
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("GrantFromPayment", mock.Anything, "pay-1", "u1", 50).
					Return(credits.GrantResult{}, credits.ErrInvalidPaymentState)
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `not a completed credits purchase`,
		},
		{
			name:   "платёж не найден",
			body:   validBody,
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("GrantFromPayment", mock.Anything, "pay-1", "u1", 50).
					Return(credits.GrantResult{}, credits.ErrNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `payment transaction not found`,
		},
		{
			name:   "ошибка сервиса",
			body:   validBody,
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("GrantFromPayment", mock.Anything, "pay-1", "u1", 50).
					Return(credits.GrantResult{}, errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"could not grant credits"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/purchase", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			ctx := context.WithValue(req.Context(), middleware.RequestIDKey, "req-id")
			if tt.userID != "" {
				ctx = context.WithValue(ctx, middlewarectx.UserID, tt.userID)
			}
			req = req.WithContext(ctx)
			w := httptest.NewRecorder()

			New(logger, mockService).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
		})
	}
}
