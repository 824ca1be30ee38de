package executor

import (
	"errors"
	"fmt"

	"github.com/magabrotheeeer/babysteps-billing/internal/entitlement"
)

var (
	// ErrNotPermitted - действие запрещено политикой, кредиты не помогут.
	ErrNotPermitted = errors.New("action not permitted")
	// ErrChargeFailed - действие выполнено, но списание кредитов не сохранено.
	ErrChargeFailed = errors.New("action succeeded but charge failed")
)

// NotPermittedError содержит причину отказа для показа пользователю.
type NotPermittedError struct {
	Reason string
}

func (e *NotPermittedError) Error() string {
	if e.Reason == "" {
		return ErrNotPermitted.Error()
	}
	return fmt.Sprintf("%s: %s", ErrNotPermitted, e.Reason)
}

func (e *NotPermittedError) Unwrap() error {
	return ErrNotPermitted
}

// ChargeFailedError описывает выполненное, но не оплаченное действие.
// Требует ручной сверки: действие не откатывается.
type ChargeFailedError struct {
	UserID  string
	Action  entitlement.Action
	Subject entitlement.Subject
	Credits int
	Err     error
}

func (e *ChargeFailedError) Error() string {
	return fmt.Sprintf("%s: user %s, %s %s, %d credits: %v", ErrChargeFailed, e.UserID, e.Action, e.Subject, e.Credits, e.Err)
}

func (e *ChargeFailedError) Unwrap() []error {
	return []error{ErrChargeFailed, e.Err}
}
