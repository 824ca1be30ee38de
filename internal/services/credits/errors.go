package credits

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCredits - баланса не хватает для списания.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrCreditsMismatch - запрошенное число кредитов не совпадает с metadata платежа
	// или metadata не содержит credits.
	ErrCreditsMismatch = errors.New("credits do not match payment metadata")
	// ErrInvalidPaymentState - платёж не завершён, не относится к покупке кредитов
	// или принадлежит другому пользователю.
	ErrInvalidPaymentState = errors.New("invalid payment state")
	// ErrNotFound - платёжная транзакция не найдена.
	ErrNotFound = errors.New("payment transaction not found")
	// ErrInvalidAmount - сумма операции должна быть положительной.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// InsufficientCreditsError уточняет ErrInsufficientCredits требуемой и доступной суммой.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}
