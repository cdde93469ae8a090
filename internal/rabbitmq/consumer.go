package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
)

// Handler обрабатывает тело сообщения. Ошибка, обёрнутая в Permanent,
// отбрасывает сообщение; любая другая возвращает его в очередь.
type Handler func(ctx context.Context, body []byte) error

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неисправимую повторной доставкой.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка как Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ConsumerMessage запускает потребителя очереди queueName с не более чем
// workers одновременными обработчиками. Возвращается сразу; потребление
// прекращается по ctx или при закрытии канала доставки.
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, queueName string, workers int, handler Handler, log *slog.Logger) error {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	go consume(ctx, delivery, workers, handler, log.With(slog.String("queue", queueName)))
	return nil
}

func consume(ctx context.Context, delivery <-chan amqp.Delivery, workers int, handler Handler, log *slog.Logger) {
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	for {
		select {
		case d, ok := <-delivery:
			if !ok {
				return
			}
			sem <- struct{}{}
			go func(d amqp.Delivery) {
				defer func() { <-sem }()
				settle(ctx, d, handler, log)
			}(d)
		case <-ctx.Done():
			return
		}
	}
}

// settle вызывает обработчик и подтверждает, возвращает или отбрасывает сообщение.
func settle(ctx context.Context, d amqp.Delivery, handler Handler, log *slog.Logger) {
	err := handler(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("failed to ack message", sl.Err(ackErr))
		}
	case IsPermanent(err):
		log.Error("message dropped", sl.Err(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
	default:
		log.Warn("message requeued", sl.Err(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
	}
}
