package sink

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeName    = "fleet.events"
	queueName       = "vehicle_locations"
	locationUpdated = "vehicle.location.updated"
)

// channel is the part of *amqp.Channel the sink uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes location events to a fanout exchange.
type AMQPSink struct {
	ch channel
}

// NewAMQPSink opens a channel on conn and declares the exchange and queue.
func NewAMQPSink(conn *amqp.Connection) (*AMQPSink, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(queueName, "", exchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	return &AMQPSink{ch: ch}, nil
}

// UpdateVehicleLocation implements LocationSink.
func (s *AMQPSink) UpdateVehicleLocation(ctx context.Context, vehicleID string, lat, lng float64) error {
	body, err := json.Marshal(newLocationMessage(vehicleID, lat, lng))
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}

	return s.ch.PublishWithContext(ctx, exchangeName, locationUpdated, false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        locationUpdated,
		Body:        body,
	})
}
