package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/SkywardAI/kirin/internal/platform/rabbitmq"
	"github.com/SkywardAI/kirin/internal/repository"
)

// TurnPersistWorker drains saved turn batches off the queue and writes
// them to the chat turn store. Bad payloads and failed writes are
// nacked without requeue.
type TurnPersistWorker struct {
	conn      *amqp.Connection
	repo      *repository.ChatTurnRepository
	queueName string
	logger    zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTurnPersistWorker(conn *amqp.Connection, repo *repository.ChatTurnRepository, queueName string, logger zerolog.Logger) *TurnPersistWorker {
	return &TurnPersistWorker{
		conn:      conn,
		repo:      repo,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *TurnPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var batch rabbitmq.TurnBatch
				if err := json.Unmarshal(d.Body, &batch); err != nil {
					w.logger.Error().Err(err).Msg("worker decode turn batch failed")
					_ = d.Nack(false, false)
					continue
				}

				if err := w.repo.AppendBatch(batch.SessionUUID, batch.Turns); err != nil {
					w.logger.Error().Err(err).Str("session_uuid", batch.SessionUUID).
						Msg("worker persist turn batch failed")
					_ = d.Nack(false, false)
					continue
				}

				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *TurnPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
