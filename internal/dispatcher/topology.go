package dispatcher

import (
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lingfromSh/message-sub000/internal/topic"
)

// DeadLetterSuffix names the routing key and queue that park rejected
// messages of a topic.
const DeadLetterSuffix = ".deadletter"

func delayQueueName(topicName string) string {
	return topicName + ".delay"
}

// DeadLetterRoutingKey returns the dead-letter routing key for a topic.
func DeadLetterRoutingKey(topicName string) string {
	return topic.Normalize(topicName) + DeadLetterSuffix
}

// DeclareTopology declares the exchange and, per shared topic, its queue,
// delay queue, and optional dead-letter queue. Broadcast topics need no
// broker resources. Any declaration failure is a startup configuration
// error; callers should fail fast.
func DeclareTopology(ch BrokerChannel, registry *topic.Registry, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	for _, desc := range registry.All() {
		if desc.Mode != topic.ModeShared {
			continue
		}
		if err := declareSharedTopic(ch, desc, exchange); err != nil {
			return err
		}
		log.Printf("dispatcher: declared topic=%s durable=%t deadletter=%t", desc.Topic, desc.Durable, desc.DeadLetter)
	}
	return nil
}

func declareSharedTopic(ch BrokerChannel, desc topic.Descriptor, exchange string) error {
	// Main queue: one shared queue per topic so consumers compete.
	var mainArgs amqp.Table
	if desc.DeadLetter {
		mainArgs = amqp.Table{
			"x-dead-letter-exchange":    exchange,
			"x-dead-letter-routing-key": DeadLetterRoutingKey(desc.Topic),
		}
	}
	if _, err := ch.QueueDeclare(desc.Topic, desc.Durable, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", desc.Topic, err)
	}
	if err := ch.QueueBind(desc.Topic, desc.Topic, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", desc.Topic, err)
	}

	// Delay queue: no consumers ever attach; messages expire per-message and
	// dead-letter back onto the exchange with the real routing key.
	delayArgs := amqp.Table{
		"x-dead-letter-exchange":    exchange,
		"x-dead-letter-routing-key": desc.Topic,
	}
	if _, err := ch.QueueDeclare(delayQueueName(desc.Topic), desc.Durable, false, false, false, delayArgs); err != nil {
		return fmt.Errorf("declare delay queue for %s: %w", desc.Topic, err)
	}

	if desc.DeadLetter {
		dlq := DeadLetterRoutingKey(desc.Topic)
		if _, err := ch.QueueDeclare(dlq, desc.Durable, false, false, false, nil); err != nil {
			return fmt.Errorf("declare deadletter queue for %s: %w", desc.Topic, err)
		}
		if err := ch.QueueBind(dlq, dlq, exchange, false, nil); err != nil {
			return fmt.Errorf("bind deadletter queue for %s: %w", desc.Topic, err)
		}
	}
	return nil
}
