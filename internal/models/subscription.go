package models

import "time"

// SubscriptionStatus статус подписки пользователя.
type SubscriptionStatus string

const (
	SubscriptionPending SubscriptionStatus = "pending"
	SubscriptionActive  SubscriptionStatus = "active"
)

// Subscription представляет тарифный план пользователя. EndDate == nil означает
// бессрочную подписку (lifetime).
type Subscription struct {
	ID                   string             `json:"id"`
	UserID               string             `json:"userId"`
	Tier                 string             `json:"tier"`
	Status               SubscriptionStatus `json:"status"`
	StartDate            time.Time          `json:"startDate"`
	EndDate              *time.Time         `json:"endDate,omitempty"`
	PaymentTransactionID string             `json:"paymentTransactionId"`
}

// ActiveAt сообщает, действует ли подписка на момент now.
func (s *Subscription) ActiveAt(now time.Time) bool {
	if s.Status != SubscriptionActive {
		return false
	}
	return s.EndDate == nil || s.EndDate.After(now)
}
