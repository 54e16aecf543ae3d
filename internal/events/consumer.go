package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"wallet_ledger/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	TransferStatusRoutingKey  = "transfer.status"
	DepositReceivedRoutingKey = "deposit.received"
)

// CallbackHandler: получатель уведомлений провайдера, пришедших через шину.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb models.Callback) error
	HandleDeposit(ctx context.Context, n models.DepositNotification) error
}

// CallbackConsumer читает статусы переводов и пополнения из RabbitMQ.
type CallbackConsumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	log      *slog.Logger
}

func NewCallbackConsumer(amqpURL, exchange, queue string, log *slog.Logger) (*CallbackConsumer, error) {
	conn, ch, err := dialAMQP(amqpURL)
	if err != nil {
		return nil, err
	}
	return &CallbackConsumer{conn: conn, ch: ch, exchange: exchange, queue: queue, log: log}, nil
}

// Start объявляет очередь с привязками и обрабатывает сообщения до отмены ctx.
func (c *CallbackConsumer) Start(ctx context.Context, handler CallbackHandler) error {
	if err := c.ch.ExchangeDeclare(c.exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("не удалось объявить exchange: %w", err)
	}

	q, err := c.ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("не удалось объявить очередь: %w", err)
	}

	for _, key := range []string{TransferStatusRoutingKey, DepositReceivedRoutingKey} {
		if err := c.ch.QueueBind(q.Name, key, c.exchange, false, nil); err != nil {
			return fmt.Errorf("не удалось привязать %s: %w", key, err)
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("не удалось начать чтение очереди: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					c.log.Warn("канал сообщений RabbitMQ закрыт")
					return
				}
				c.dispatch(ctx, d, handler)
			}
		}
	}()

	return nil
}

func (c *CallbackConsumer) dispatch(ctx context.Context, d amqp.Delivery, handler CallbackHandler) {
	log := c.log.With(slog.String("routing_key", d.RoutingKey), slog.String("message_id", d.MessageId))

	var err error
	switch d.RoutingKey {
	case TransferStatusRoutingKey:
		var cb models.Callback
		if err = json.Unmarshal(d.Body, &cb); err != nil {
			log.Error("некорректное тело статуса перевода, сообщение отброшено", slog.String("error", err.Error()))
			d.Nack(false, false)
			return
		}
		err = handler.HandleCallback(ctx, cb)
	case DepositReceivedRoutingKey:
		var n models.DepositNotification
		if err = json.Unmarshal(d.Body, &n); err != nil {
			log.Error("некорректное тело пополнения, сообщение отброшено", slog.String("error", err.Error()))
			d.Nack(false, false)
			return
		}
		err = handler.HandleDeposit(ctx, n)
	default:
		log.Warn("нет обработчика для routing key, сообщение отброшено")
		d.Ack(false)
		return
	}

	if err != nil {
		// Одна повторная доставка; дальше разбирается сверкой.
		log.Error("ошибка обработки уведомления", slog.String("error", err.Error()), slog.Bool("redelivered", d.Redelivered))
		d.Nack(false, !d.Redelivered)
		return
	}
	d.Ack(false)
}

func (c *CallbackConsumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
