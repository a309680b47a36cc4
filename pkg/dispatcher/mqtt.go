package dispatcher

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/streamscale/experiment-runner/pkg/log"
)

// mqttQoS is the delivery level used on all the topics, at-least-once
const mqttQoS = 1

// MQTTMessenger implements Messenger on top of the paho client
type MQTTMessenger struct {
	client mqtt.Client
}

// ConnectMQTT connects to the broker and blocks until the connection is up
func ConnectMQTT(brokerURL, clientID string) (*MQTTMessenger, error) {

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true)
	// the subscribe callback blocks for the whole duration of a transition and
	// paho handlers must not block while the router enforces ordering, command
	// ordering is serialized by the dispatcher mutex instead
	opts.SetOrderMatters(false)
	opts.OnConnect = func(client mqtt.Client) {
		log.Infof("[MQTT]: Connected to the '%s' broker", brokerURL)
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Warnf("[MQTT]: Connection lost, err: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if token.Error() != nil {
		return nil, errors.Errorf("Unable to connect to the '%s' broker, err: %v", brokerURL, token.Error())
	}
	return &MQTTMessenger{client: client}, nil
}

// Publish publishes the payload and waits for the broker acknowledgement
func (m *MQTTMessenger) Publish(topic string, payload string, retained bool) error {
	token := m.client.Publish(topic, mqttQoS, retained, payload)
	token.Wait()
	return token.Error()
}

// ClearRetained resets the retained message on the given topic by publishing
// an empty retained payload
func (m *MQTTMessenger) ClearRetained(topic string) error {
	token := m.client.Publish(topic, mqttQoS, true, "")
	token.Wait()
	return token.Error()
}

// Subscribe registers the handler on the given topic
func (m *MQTTMessenger) Subscribe(topic string, handler func(payload []byte)) error {
	token := m.client.Subscribe(topic, mqttQoS, func(client mqtt.Client, message mqtt.Message) {
		handler(message.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return errors.Errorf("Unable to subscribe to the '%s' topic, err: %v", topic, token.Error())
	}
	return nil
}

// Disconnect flushes in-flight messages and closes the connection
func (m *MQTTMessenger) Disconnect() {
	m.client.Disconnect(250)
}
