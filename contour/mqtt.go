package contour

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ObservationHandler is called for every message on a source topic.
// obs is nil when err is set.
type ObservationHandler func(sourceID string, obs []Observation, err error)

// MQTTClient manages the broker connection and the source subscriptions
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	handler     ObservationHandler
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT connects to the broker named by MQTT_BROKER or the config.
// When neither is set MQTT is disabled and InitMQTT returns nil, nil.
func InitMQTT(config *Config, handler ObservationHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil {
		return nil, fmt.Errorf("MQTT enabled but no configuration provided")
	}

	client := &MQTTClient{
		config:  config,
		handler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(envOr("MQTT_CLIENT_ID", config.MQTT.ClientID, "isomesh"))

	if username := envOr("MQTT_USERNAME", config.MQTT.Username, ""); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", config.MQTT.Password, ""))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep subscriptions across reconnects
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// envOr returns the environment variable, else the configured value, else def
func envOr(key, configured, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if configured != "" {
		return configured
	}
	return def
}

// connectWithRetry dials the broker until the first connection succeeds.
// paho's auto-reconnect takes over after that.
func (c *MQTTClient) connectWithRetry() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0

	connect := func() error {
		log.Println("Connecting to MQTT broker...")
		token := c.client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("connection timeout")
		}
		return token.Error()
	}
	notify := func(err error, next time.Duration) {
		log.Printf("MQTT connection failed: %v; retrying in %v", err, next.Round(time.Millisecond))
	}

	// MaxElapsedTime 0 never stops, so the error is always nil
	_ = backoff.RetryNotify(connect, b, notify)
	log.Println("Successfully connected to MQTT broker")
	c.setConnected(true)
}

// sourceFilters maps each source topic to its message handler
func (c *MQTTClient) sourceFilters() (map[string]byte, map[string]string) {
	filters := make(map[string]byte)
	ids := make(map[string]string)
	for _, source := range c.config.Sources {
		if source.Topic == "" {
			continue
		}
		filters[source.Topic] = 0
		ids[source.Topic] = source.ID
	}
	return filters, ids
}

// onConnect subscribes to every source topic in one request
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	filters, ids := c.sourceFilters()
	if len(filters) == 0 {
		log.Println("MQTT connected, no source topics configured")
		return
	}
	log.Printf("MQTT connected, subscribing to %d source topics", len(filters))

	token := client.SubscribeMultiple(filters, func(client mqtt.Client, msg mqtt.Message) {
		sourceID, ok := ids[msg.Topic()]
		if !ok {
			log.Printf("Ignoring message on unexpected topic %s", msg.Topic())
			return
		}
		c.createMessageHandler(sourceID)(client, msg)
	})
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("Error subscribing to source topics: %v", token.Error())
		return
	}
	for topic, id := range ids {
		log.Printf("Subscribed to %s for source %s", topic, id)
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// createMessageHandler decodes payloads for one source
func (c *MQTTClient) createMessageHandler(sourceID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("Received observations for %s (topic: %s, size: %d bytes)",
			sourceID, msg.Topic(), len(payload))

		obs, err := DecodeObservations(payload)
		if err != nil {
			log.Printf("Error decoding observations for %s: %v", sourceID, err)
			if c.handler != nil {
				c.handler(sourceID, nil, err)
			}
			return
		}

		if c.handler != nil {
			c.handler(sourceID, obs, nil)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetSourceByTopic returns the source ID subscribed to topic
func (c *MQTTClient) GetSourceByTopic(topic string) (string, bool) {
	for _, source := range c.config.Sources {
		if source.Topic == topic {
			return source.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// NewMQTTClientWithClient wraps an existing mqtt.Client, typically a
// MockClient, without dialing a broker
func NewMQTTClientWithClient(client mqtt.Client, config *Config, handler ObservationHandler) *MQTTClient {
	return &MQTTClient{
		client:  client,
		config:  config,
		handler: handler,
	}
}

// Subscribe runs the on-connect subscriptions against the wrapped client
func (c *MQTTClient) Subscribe() {
	c.onConnect(c.client)
}
