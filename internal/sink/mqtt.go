package sink

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const mqttQoS = 1

// MQTTTopic returns the topic a vehicle's positions are published on.
func MQTTTopic(vehicleID string) string {
	return fmt.Sprintf("/fleet/vehicle/%s/location", vehicleID)
}

// NewMQTTClient connects to broker. The client id gets a random suffix so
// several simulator instances can share a broker.
func NewMQTTClient(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID + "-" + uuid.NewString()[:8]).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}

// MQTTSink publishes positions to per-vehicle topics.
type MQTTSink struct {
	client mqtt.Client
}

func NewMQTTSink(client mqtt.Client) *MQTTSink {
	return &MQTTSink{client: client}
}

// UpdateVehicleLocation implements LocationSink.
func (s *MQTTSink) UpdateVehicleLocation(ctx context.Context, vehicleID string, lat, lng float64) error {
	payload, err := json.Marshal(newLocationMessage(vehicleID, lat, lng))
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}

	token := s.client.Publish(MQTTTopic(vehicleID), mqttQoS, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
