package calib

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes calibration outcomes and the live validation gaze to
// MQTT. It implements ResultReporter.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool

	mu     sync.RWMutex
	latest *Outcome
}

// NewPublisher creates a new outcome publisher
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = "gazecal"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		retain:        true, // late subscribers see the last calibration
	}
}

// Report publishes the outcome to {prefix}/calibration/{sessionID} and to the
// retained {prefix}/calibration/latest.
func (p *Publisher) Report(outcome *Outcome) error {
	if outcome == nil {
		return fmt.Errorf("%w: nil outcome", ErrTypeMismatch)
	}

	p.mu.Lock()
	p.latest = outcome
	p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshaling outcome: %w", err)
	}

	for _, topic := range []string{
		fmt.Sprintf("%s/calibration/%s", p.publishPrefix, outcome.SessionID),
		fmt.Sprintf("%s/calibration/latest", p.publishPrefix),
	} {
		if err := p.publish(topic, p.qos, p.retain, payload); err != nil {
			return err
		}
	}

	log.Printf("Published calibration outcome %s (eyes=%s, rounds=%d)", outcome.SessionID, outcome.Eyes, outcome.Rounds)
	return nil
}

type gazeMessage struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
}

// PublishGaze publishes a smoothed validation gaze point, fire and forget.
// Errors are logged, not returned, so it fits Validator.OnGaze.
func (p *Publisher) PublishGaze(gaze Point) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(gazeMessage{X: gaze.X, Y: gaze.Y, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		log.Printf("Error marshaling gaze: %v", err)
		return
	}
	topic := fmt.Sprintf("%s/gaze", p.publishPrefix)
	if err := p.publish(topic, 0, false, payload); err != nil {
		log.Printf("Error publishing gaze: %v", err)
	}
}

func (p *Publisher) publish(topic string, qos byte, retain bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Latest returns the last outcome handed to Report, published or not.
func (p *Publisher) Latest() (*Outcome, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.latest != nil
}

// SetPublishPrefix sets the topic prefix, e.g. from the config file.
func (p *Publisher) SetPublishPrefix(prefix string) {
	p.publishPrefix = prefix
}

// SetQoS sets the Quality of Service level for outcome messages (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether outcome messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
