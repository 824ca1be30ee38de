// Package models содержит доменные структуры кредитного леджера, платежных транзакций,
// подписок и событий использования. Структуры используются в сервисах и хранилище.
package models

import "time"

// CreditTransactionType тип записи в журнале кредитов.
type CreditTransactionType string

const (
	// CreditPurchase - начисление кредитов по оплаченной платежной транзакции.
	CreditPurchase CreditTransactionType = "purchase"
	// CreditSpend - списание кредитов за действие пользователя.
	CreditSpend CreditTransactionType = "spend"
	// CreditRefund - возврат кредитов пользователю.
	CreditRefund CreditTransactionType = "refund"
)

// CreditLedger хранит текущий баланс кредитов пользователя. Баланс никогда не бывает отрицательным.
type CreditLedger struct {
	UserID    string    `json:"userId"`
	Balance   int       `json:"balance"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreditTransaction - неизменяемая запись журнала. Сумма Amount всех записей
// пользователя равна его текущему балансу.
type CreditTransaction struct {
	ID                   string                `json:"id"`
	UserID               string                `json:"userId"`
	Amount               int                   `json:"amount"` // >0 начисление, <0 списание
	BalanceAfter         int                   `json:"balanceAfter"`
	TransactionType      CreditTransactionType `json:"transactionType"`
	Description          string                `json:"description"`
	PaymentTransactionID *string               `json:"paymentTransactionId,omitempty"`
	CreatedAt            time.Time             `json:"createdAt"`
}
