package main

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/workflow"
	"github.com/sirupsen/logrus"
)

var (
	companyMutexMap = make(map[string]*sync.Mutex)
	globalMutex     = &sync.Mutex{}
)

func companyMutex(companyId string) *sync.Mutex {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	mutex, exists := companyMutexMap[companyId]
	if !exists {
		mutex = &sync.Mutex{}
		companyMutexMap[companyId] = mutex
	}
	return mutex
}

// RunMomoEventsSubscriber pulls MoMo events from MOMO_EVENTS_SUBSCRIPTION until ctx is done.
// Events of one company are handled one at a time within this instance.
func RunMomoEventsSubscriber(ctx context.Context, processor *workflow.EventProcessor) error {
	logger := config.GetLogger()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, os.Getenv("MOMO_EVENTS_TOPIC"))
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(ctx, client, os.Getenv("MOMO_EVENTS_SUBSCRIPTION"), topic)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	callback := func(ctx context.Context, msg *pubsub.Message) {
		m := config.MomoEventMessage{}
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			config.LogError(logger, "momoEventsWorkflow.go", "RunMomoEventsSubscriber", "Unmarshaling pubsub message", msg.Data, err)
			// Poisoned message: ack so it does not loop.
			msg.Ack()
			return
		}

		mutex := companyMutex(m.CompanyId)
		mutex.Lock()
		defer mutex.Unlock()

		if m.CorrelationId == "" {
			m.CorrelationId = msg.ID
		}
		if err := ProcessMessage(ctx, logger, processor, m); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "MomoEventsWorkflow",
				"company_id":     m.CompanyId,
				"transaction_id": m.TransactionId,
				"event_type":     m.EventType,
				"message_id":     msg.ID,
			}).Error("pubsub processing failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	go func() {
		if err := sub.Receive(ctx, callback); err != nil {
			config.LogError(logger, "momoEventsWorkflow.go", "RunMomoEventsSubscriber", "Failed to receive messages", nil, err)
		}
	}()
	return nil
}

// ProcessMessage runs one outbox event through the processor and records the outcome on its
// outbox row. A nil error means the delivery can be acked, including when the row went DEAD.
func ProcessMessage(ctx context.Context, logger *logrus.Logger, processor *workflow.EventProcessor, m config.MomoEventMessage) error {
	ctx = ensureCompanyContext(ctx, m.CompanyId)
	markOutboxProcessing(ctx, m.ID)

	if err := processor.Process(ctx, m); err != nil {
		if dead := markOutboxProcessFailure(ctx, logger, m, err); dead {
			flagTransactionOnDead(ctx, logger, m)
			return nil
		}
		return err
	}
	markOutboxProcessSuccess(ctx, logger, m)
	return nil
}
