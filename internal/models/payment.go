package models

import (
	"encoding/json"
	"time"
)

// PaymentType тип оплаченного продукта.
type PaymentType string

const (
	PaymentTypeCredits      PaymentType = "credits"
	PaymentTypeSubscription PaymentType = "subscription"
	PaymentTypeLifetime     PaymentType = "lifetime"
)

// PaymentStatus статус платежной транзакции.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Valid сообщает, является ли статус одним из известных.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// PaymentMetadata - известные поля непрозрачного JSON metadata платежа.
// Отсутствующие поля остаются nil / пустыми.
type PaymentMetadata struct {
	Credits     *int   `json:"credits,omitempty"`
	Tier        string `json:"tier,omitempty"`
	BillingType string `json:"billingType,omitempty"`
}

// PaymentTransaction - платеж, созданный внешним платежным потоком.
// Суммы хранятся в минимальных единицах валюты (центах).
type PaymentTransaction struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	AmountInCents     int             `json:"amountInCents"`
	Currency          string          `json:"currency"`
	PaymentMethod     string          `json:"paymentMethod"`
	TransactionType   PaymentType     `json:"transactionType"`
	Status            PaymentStatus   `json:"status"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	ExternalPaymentID *string         `json:"externalPaymentId,omitempty"`
	AdminNotes        *string         `json:"adminNotes,omitempty"`
	VerifiedAt        *time.Time      `json:"verifiedAt,omitempty"`
	VerifiedBy        *string         `json:"verifiedBy,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// ParseMetadata разбирает metadata платежа. Пустой metadata не является ошибкой.
func (p *PaymentTransaction) ParseMetadata() (PaymentMetadata, error) {
	var md PaymentMetadata
	if len(p.Metadata) == 0 || string(p.Metadata) == "null" {
		return md, nil
	}
	if err := json.Unmarshal(p.Metadata, &md); err != nil {
		return PaymentMetadata{}, err
	}
	return md, nil
}
