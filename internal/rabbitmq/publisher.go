package rabbitmq

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// Channel часть amqp.Channel, нужная для публикации.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PublishMessage публикует сообщение в формате JSON.
func PublishMessage(ch Channel, exchange string, routingkey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingkey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Publisher потокобезопасная публикация в один канал: amqp.Channel
// не допускает одновременной публикации из нескольких горутин.
type Publisher struct {
	mu sync.Mutex
	ch Channel
}

func NewPublisher(ch Channel) *Publisher {
	return &Publisher{ch: ch}
}

// PublishPayment кладёт событие платежа в очередь платежей.
func (p *Publisher) PublishPayment(event any) error {
	return p.Publish("", PaymentsQueue, event)
}

// PublishNotification публикует уведомление с ключом kind.
func (p *Publisher) PublishNotification(kind string, n any) error {
	return p.Publish(NotificationsExchange, kind, n)
}

func (p *Publisher) Publish(exchange, routingKey string, message any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PublishMessage(p.ch, exchange, routingKey, message)
}
