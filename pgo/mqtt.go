package pgo

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// forceSuffix marks the topic whose batches bypass classification.
const forceSuffix = "/force"

// BatchHandler is called for every batch received over MQTT.
// err is set when the payload could not be decoded; batch is then empty.
type BatchHandler func(graphID string, batch Batch, err error)

// MQTTClient manages the broker connection and per-graph subscriptions
type MQTTClient struct {
	client       mqtt.Client
	config       *Config
	batchHandler BatchHandler
	isConnected  bool
	mu           sync.RWMutex
}

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// InitMQTT initializes the global MQTT client with the provided configuration.
// If neither MQTT_BROKER nor the config names a broker, MQTT is disabled and
// this returns nil.
func InitMQTT(config *Config, handler BatchHandler) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Graphs) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no graph configuration provided")
	}

	client := &MQTTClient{
		config:       config,
		batchHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "robustpgo"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // Preserve subscriptions on reconnect
	// Batches for one graph must be processed in arrival order.
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	globalClient = client
	return client, nil
}

// GetMQTTClient returns the global MQTT client instance
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// connectWithRetry attempts to connect to the broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the batch and force topics of every graph
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("[MQTT] connected, subscribing to graph topics...")
	c.setConnected(true)

	for _, g := range c.config.Graphs {
		if g.Topic == "" {
			log.Printf("[MQTT] warning: graph %s has no topic configured", g.ID)
			continue
		}

		for _, topic := range []string{g.Topic, g.Topic + forceSuffix} {
			token := client.Subscribe(topic, 1, c.createMessageHandler(g.ID))
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
			} else {
				log.Printf("[MQTT] subscribed to %s for graph %s", topic, g.ID)
			}
		}
	}
}

// onConnectionLost is called when the connection drops; auto-reconnect retries
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

// createMessageHandler decodes batches for one graph. Messages on the force
// topic are marked Force regardless of their payload.
func (c *MQTTClient) createMessageHandler(graphID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("[MQTT] received batch for %s (topic: %s, size: %d bytes)",
			graphID, msg.Topic(), len(payload))

		batch, err := DecodeBatch(payload)
		if err != nil {
			log.Printf("[MQTT] error decoding batch for %s: %v", graphID, err)
			if c.batchHandler != nil {
				c.batchHandler(graphID, Batch{}, err)
			}
			return
		}
		if strings.HasSuffix(msg.Topic(), forceSuffix) {
			batch.Force = true
		}

		if c.batchHandler != nil {
			c.batchHandler(graphID, batch, nil)
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
		log.Println("[MQTT] disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetGraphByTopic returns the graph ID for a batch or force topic
func (c *MQTTClient) GetGraphByTopic(topic string) (string, bool) {
	topic = strings.TrimSuffix(topic, forceSuffix)
	for _, g := range c.config.Graphs {
		if g.Topic != "" && g.Topic == topic {
			return g.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient around a provided mqtt.Client
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler BatchHandler) *MQTTClient {
	return &MQTTClient{
		client:       client,
		config:       config,
		batchHandler: handler,
	}
}
