package list

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/babysteps-billing/internal/models"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/reconciler"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) ListPayments(ctx context.Context, status *models.PaymentStatus) ([]*models.PaymentTransaction, error) {
	args := m.Called(ctx, status)
	list, _ := args.Get(0).([]*models.PaymentTransaction)
	return list, args.Error(1)
}

func TestListHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pending := models.PaymentPending
	bogus := models.PaymentStatus("bogus")

	tests := []struct {
		name           string
		url            string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "без фильтра",
			url:  "/api/v1/admin/payments",
			setupMock: func(m *MockService) {
				m.On("ListPayments", mock.Anything, (*models.PaymentStatus)(nil)).
					Return([]*models.PaymentTransaction{{ID: "pay-2"}, {ID: "pay-1"}}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"id":"pay-2"`,
		},
		{
			name: "фильтр по статусу",
			url:  "/api/v1/admin/payments?status=pending",
			setupMock: func(m *MockService) {
				m.On("ListPayments", mock.Anything, &pending).Return(nil, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `[]`,
		},
		{
			name: "неизвестный статус",
			url:  "/api/v1/admin/payments?status=bogus",
			setupMock: func(m *MockService) {
				m.On("ListPayments", mock.Anything, &bogus).
					Return(nil, fmt.Errorf("op: %w", reconciler.ErrInvalidStatus))
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `invalid status`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()

			New(logger, mockService).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
		})
	}
}
