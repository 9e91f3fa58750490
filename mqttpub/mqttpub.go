// Package mqttpub publishes telemetry records to an MQTT broker.
//
// Each record is serialized as JSON and published to a per-sonde topic
// ({prefix}/{sonde id}), so subscribers can follow a single flight or
// wildcard across all of them. The Paho library owns the connection and
// reconnects on its own; Push only fails while the client is offline.
package mqttpub

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"sondetrack/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Publisher is an MQTT telemetry sink.
type Publisher struct {
	broker      string
	port        int
	topicPrefix string
	client      mqtt.Client
}

// NewPublisher creates an MQTT publisher for the given broker.
func NewPublisher(broker string, port int, topicPrefix string) *Publisher {
	return &Publisher{
		broker:      broker,
		port:        port,
		topicPrefix: topicPrefix,
	}
}

// Connect establishes the broker connection.
func (p *Publisher) Connect() error {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", p.broker, p.port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("sondetrack-%d", time.Now().Unix()))

	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: connection lost: %v, reconnecting", err)
	})

	p.client = mqtt.NewClient(opts)

	log.Printf("Connecting to MQTT broker at %s...", brokerURL)
	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	log.Println("Connected to MQTT broker")
	return nil
}

// Name identifies the sink in worker logs.
func (p *Publisher) Name() string { return "mqtt" }

// Push publishes one record to {prefix}/{sonde id}.
func (p *Publisher) Push(rec *telemetry.Record) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("mqtt: not connected")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("mqtt encode: %w", err)
	}
	topic := fmt.Sprintf("%s/%s", p.topicPrefix, rec.ID)
	token := p.client.Publish(topic, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt publish: %w", token.Error())
	}
	return nil
}

// Disconnect closes the broker connection, flushing in-flight messages.
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
