package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/i474232898/weather-collector/internal/weather"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQuiesce        = 1000 // milliseconds
)

// MQTT publishes readings to <prefix>/<collector id>/reading at QoS 1.
type MQTT struct {
	client pahomqtt.Client
	prefix string
}

// ConnectMQTT connects to broker (e.g. tcp://localhost:1883).
func ConnectMQTT(broker, clientID, prefix string) (*MQTT, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttConnectTimeout)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timeout after %v", mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return &MQTT{client: client, prefix: strings.TrimRight(prefix, "/")}, nil
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) topic(r weather.Reading) string {
	id := r.CollectorID
	if id == "" {
		id = "adhoc"
	}
	return m.prefix + "/" + id + "/reading"
}

func (m *MQTT) Publish(ctx context.Context, r weather.Reading) error {
	if !m.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	body, err := payload(r)
	if err != nil {
		return err
	}

	timeout := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	token := m.client.Publish(m.topic(r), 1, false, body)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish: timeout after %v", timeout)
	}
	return token.Error()
}

func (m *MQTT) Close() error {
	m.client.Disconnect(mqttQuiesce)
	return nil
}
