// Package metrics содержит счётчики Prometheus для операций с кредитами,
// проверок доступа и сверки платежей.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "babysteps"

// Metrics набор коллекторов биллинга. Методы безопасны для nil-получателя.
type Metrics struct {
	creditsMoved       *prometheus.CounterVec
	insufficientCredit prometheus.Counter
	decisions          *prometheus.CounterVec
	chargeFailed       prometheus.Counter
	paymentsCompleted  *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default возвращает экземпляр, зарегистрированный в глобальном реестре.
// Коллекторы создаются один раз, чтобы повторный вызов не паниковал при регистрации.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew создаёт коллекторы и регистрирует их в reg. Ошибка регистрации приводит к панике.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		creditsMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "moved_total",
			Help:      "Credits moved through the ledger by transaction type.",
		}, []string{"type"}),
		insufficientCredit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "insufficient_total",
			Help:      "Spend attempts rejected because the balance was too low.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "decisions_total",
			Help:      "Entitlement decisions by outcome.",
		}, []string{"outcome"}),
		chargeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "charge_failed_total",
			Help:      "Actions that succeeded while the credit charge could not be persisted.",
		}),
		paymentsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "completed_total",
			Help:      "Payment transactions that reached the completed status, by type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.creditsMoved, m.insufficientCredit, m.decisions, m.chargeFailed, m.paymentsCompleted)
	return m
}

// CreditsMoved учитывает движение кредитов (purchase, spend, refund).
func (m *Metrics) CreditsMoved(txType string, amount int) {
	if m == nil {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.creditsMoved.WithLabelValues(txType).Add(float64(amount))
}

// InsufficientCredits учитывает отказ в списании.
func (m *Metrics) InsufficientCredits() {
	if m == nil {
		return
	}
	m.insufficientCredit.Inc()
}

// Decision учитывает решение политики доступа: allowed, charged, denied или hard_denied.
func (m *Metrics) Decision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

// ChargeFailed учитывает действие, выполненное без сохранённого списания.
func (m *Metrics) ChargeFailed() {
	if m == nil {
		return
	}
	m.chargeFailed.Inc()
}

// PaymentCompleted учитывает переход платежа в completed.
func (m *Metrics) PaymentCompleted(paymentType string) {
	if m == nil {
		return
	}
	m.paymentsCompleted.WithLabelValues(paymentType).Inc()
}
