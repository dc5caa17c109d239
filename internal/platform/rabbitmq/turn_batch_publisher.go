package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/SkywardAI/kirin/internal/model"
)

// TurnBatch is the queue payload for one session's saved turns.
type TurnBatch struct {
	SessionUUID string           `json:"session_uuid"`
	Turns       []model.ChatTurn `json:"turns"`
}

type TurnBatchPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewTurnBatchPublisher(conn *amqp.Connection, queueName string) *TurnBatchPublisher {
	return &TurnBatchPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *TurnBatchPublisher) Publish(ctx context.Context, batch TurnBatch) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal turn batch failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish turn batch failed: %w", err)
	}
	return nil
}
