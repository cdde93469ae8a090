package rabbitmq

import "github.com/magabrotheeeer/gateway-keeper/internal/models"

const (
	// NotificationsExchange direct-обменник уведомлений о подписках.
	NotificationsExchange = "notifications"
	// PaymentsQueue очередь событий платежей; публикуется через обменник по умолчанию.
	PaymentsQueue = "payments.events"
)

type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// NotificationQueues очереди уведомлений, по одной на тип.
func NotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "notifications.reminder.upcoming", RoutingKey: models.NotifyReminderUpcoming},
		{QueueName: "notifications.reminder.today", RoutingKey: models.NotifyReminderToday},
		{QueueName: "notifications.expired", RoutingKey: models.NotifyExpired},
	}
}
