package spend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/babysteps-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/credits"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Spend(ctx context.Context, userID string, amount int, description string) (credits.SpendResult, error) {
	args := m.Called(ctx, userID, amount, description)
	return args.Get(0).(credits.SpendResult), args.Error(1)
}

func TestSpendHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	validBody := `{"amount":2,"description":"video upload"}`

	tests := []struct {
		name           string
		body           string
		userID         string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "успешное списание",
			body:   validBody,
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("Spend", mock.Anything, "u1", 2, "video upload").
					Return(credits.SpendResult{NewBalance: 8, Spent: 2, CreditTransactionID: "ct-9"}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"newBalance":8,"spent":2,"creditTransactionId":"ct-9"}`,
		},
		{
			name:   "недостаточно кредитов",
			body:   validBody,
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("Spend", mock.Anything, "u1", 2, "video upload").
					Return(credits.SpendResult{}, &credits.InsufficientCreditsError{Required: 2, Available: 1})
			},
			expectedStatus: http.StatusPaymentRequired,
			expectedBody:   `insufficient credits: required 2, available 1`,
		},
		{
			name:           "нет описания",
			body:           `{"amount":2}`,
			userID:         "u1",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `field Description is a required field`,
		},
		{
			name:           "нулевая сумма",
			body:           `{"amount":0,"description":"x"}`,
			userID:         "u1",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `field Amount is a required field`,
		},
		{
			name:           "не авторизован",
			body:           validBody,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `unauthorized`,
		},
		{
			name:   "ошибка сервиса",
			body:   validBody,
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("Spend", mock.Anything, "u1", 2, "video upload").
					Return(credits.SpendResult{}, errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `could not spend credits`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/spend", strings.NewReader(tt.body))
			if tt.userID != "" {
				req = req.WithContext(context.WithValue(req.Context(), middlewarectx.UserID, tt.userID))
			}
			w := httptest.NewRecorder()

			New(logger, mockService).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
		})
	}
}
