package rabbitmq

// Ключи маршрутизации событий биллинга.
const (
	RoutingChargeFailed     = "charge_failed"
	RoutingPaymentCompleted = "payment_completed"
)

type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// BillingQueues возвращает очереди, которые слушают потребители событий биллинга.
func BillingQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "billing.charge_failed", RoutingKey: RoutingChargeFailed},
		{QueueName: "billing.payment_completed", RoutingKey: RoutingPaymentCompleted},
	}
}
