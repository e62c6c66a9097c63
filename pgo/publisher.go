package pgo

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// DecisionReport is the retained MQTT message describing one admission.
type DecisionReport struct {
	MessageID string `json:"messageId"`
	Result
	Timestamp int64 `json:"timestamp"`
}

// Publisher publishes admission decisions to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	latest        map[string]*DecisionReport
	mu            sync.RWMutex
}

// NewPublisher creates a decision publisher. prefix falls back to
// MQTT_PUBLISH_PREFIX and then to "robustpgo".
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = os.Getenv("MQTT_PUBLISH_PREFIX")
	}
	if prefix == "" {
		prefix = "robustpgo"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
		latest:        make(map[string]*DecisionReport),
	}
}

// PublishDecision publishes one result to the graph's topic and refreshes
// the combined decisions topic.
func (p *Publisher) PublishDecision(res Result) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	report := &DecisionReport{
		MessageID: uuid.NewString(),
		Result:    res,
		Timestamp: time.Now().Unix(),
	}

	p.mu.Lock()
	p.latest[res.GraphID] = report
	p.mu.Unlock()

	if err := p.publishIndividual(report); err != nil {
		log.Printf("[MQTT] error publishing decision for %s: %v", res.GraphID, err)
		return err
	}
	if err := p.publishCombined(); err != nil {
		log.Printf("[MQTT] error publishing combined decisions: %v", err)
		return err
	}
	return nil
}

func (p *Publisher) publishIndividual(report *DecisionReport) error {
	topic := fmt.Sprintf("%s/%s/decision", p.publishPrefix, report.GraphID)

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling decision: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	ids := make([]string, 0, len(p.latest))
	for id := range p.latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	reports := make([]*DecisionReport, 0, len(ids))
	for _, id := range ids {
		reports = append(reports, p.latest[id])
	}
	p.mu.RUnlock()

	if len(reports) == 0 {
		return nil
	}

	topic := fmt.Sprintf("%s/decisions", p.publishPrefix)
	message := map[string]interface{}{
		"graphs":    reports,
		"timestamp": time.Now().Unix(),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling combined decisions: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Latest returns the last published report for a graph
func (p *Publisher) Latest(graphID string) (DecisionReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.latest[graphID]
	if !ok {
		return DecisionReport{}, false
	}
	return *r, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages are retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
