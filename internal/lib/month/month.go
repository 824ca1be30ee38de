// Package month содержит календарную арифметику расчётных периодов.
package month

import (
	"time"
)

// BillingMonthly тип оплаты помесячной подписки; любой другой считается годовым.
const BillingMonthly = "monthly"

// Start возвращает начало календарного месяца t в UTC.
func Start(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// AddMonths сдвигает t на n месяцев. Если в целевом месяце нет такого дня,
// берётся последний день месяца: 31 января + 1 месяц = 28 (29) февраля.
func AddMonths(t time.Time, n int) time.Time {
	target := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := time.Date(target.Year(), target.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()

	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(target.Year(), target.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// PeriodEnd возвращает окончание расчётного периода, начавшегося в start.
func PeriodEnd(start time.Time, billingType string) time.Time {
	if billingType == BillingMonthly {
		return AddMonths(start, 1)
	}
	return AddMonths(start, 12)
}
