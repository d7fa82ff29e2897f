package calib

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// DefaultCommandTimeout bounds a calibration request without a deadline.
const DefaultCommandTimeout = 10 * time.Second

const (
	opEnterMode = "enter"
	opLeaveMode = "leave"
	opCollect   = "collect"
	opDiscard   = "discard"
	opCompute   = "compute"
)

type commandRequest struct {
	ID    string `json:"id"`
	Op    string `json:"op"`
	Point *Point `json:"point,omitempty"`
}

type commandReply struct {
	ID     string             `json:"id"`
	Status CalibrationStatus  `json:"status"`
	Error  string             `json:"error,omitempty"`
	Points []CalibrationPoint `json:"points,omitempty"`
}

// MQTTCalibrator drives the tracker's calibration through the tracker
// bridge. Each call publishes a request on the command topic and waits for
// the reply carrying the same id on {commandTopic}/reply.
type MQTTCalibrator struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration

	mu         sync.Mutex
	pending    map[string]chan commandReply
	subscribed bool
}

// NewMQTTCalibrator creates a calibrator publishing on topic.
func NewMQTTCalibrator(client mqtt.Client, topic string) *MQTTCalibrator {
	return &MQTTCalibrator{
		client:  client,
		topic:   topic,
		timeout: DefaultCommandTimeout,
		pending: make(map[string]chan commandReply),
	}
}

// SetTimeout sets how long a call waits for its reply.
func (c *MQTTCalibrator) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *MQTTCalibrator) replyTopic() string {
	return c.topic + "/reply"
}

func (c *MQTTCalibrator) EnterMode() error {
	_, err := c.call(context.Background(), opEnterMode, nil)
	return err
}

func (c *MQTTCalibrator) LeaveMode() error {
	_, err := c.call(context.Background(), opLeaveMode, nil)
	return err
}

// CollectData asks the tracker to sample the gaze at p. A failure status is
// returned without error; the collector retries it.
func (c *MQTTCalibrator) CollectData(ctx context.Context, p Point) (CalibrationStatus, error) {
	reply, err := c.call(ctx, opCollect, &p)
	if err != nil {
		return StatusFailure, err
	}
	return reply.Status, nil
}

func (c *MQTTCalibrator) DiscardData(p Point) error {
	_, err := c.call(context.Background(), opDiscard, &p)
	return err
}

func (c *MQTTCalibrator) ComputeAndApply() (*CalibrationResult, error) {
	reply, err := c.call(context.Background(), opCompute, nil)
	if err != nil {
		return nil, err
	}
	return &CalibrationResult{Status: reply.Status, Points: reply.Points}, nil
}

func (c *MQTTCalibrator) call(ctx context.Context, op string, p *Point) (commandReply, error) {
	if c.client == nil || !c.client.IsConnected() {
		return commandReply{}, fmt.Errorf("%w: MQTT client not connected", ErrPreconditionUnmet)
	}
	if err := c.ensureSubscribed(); err != nil {
		return commandReply{}, err
	}

	req := commandRequest{ID: uuid.NewString(), Op: op, Point: p}
	payload, err := json.Marshal(req)
	if err != nil {
		return commandReply{}, fmt.Errorf("marshaling %s request: %w", op, err)
	}

	ch := make(chan commandReply, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	token := c.client.Publish(c.topic, 1, false, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return commandReply{}, fmt.Errorf("%w: publishing %s request: %v", ErrDeviceFailure, op, token.Error())
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if reply.Error != "" {
			return reply, fmt.Errorf("%w: %s: %s", ErrDeviceFailure, op, reply.Error)
		}
		return reply, nil
	case <-timer.C:
		return commandReply{}, fmt.Errorf("%w: no reply to %s within %v", ErrDeviceFailure, op, c.timeout)
	case <-ctx.Done():
		return commandReply{}, ctx.Err()
	}
}

func (c *MQTTCalibrator) ensureSubscribed() error {
	c.mu.Lock()
	subscribed := c.subscribed
	c.mu.Unlock()
	if subscribed {
		return nil
	}

	topic := c.replyTopic()
	token := c.client.Subscribe(topic, 1, c.handleReply)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, token.Error())
	}

	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
	log.Printf("Subscribed to calibration replies on %s", topic)
	return nil
}

func (c *MQTTCalibrator) handleReply(client mqtt.Client, msg mqtt.Message) {
	var reply commandReply
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		log.Printf("Error decoding calibration reply (topic: %s): %v", msg.Topic(), err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[reply.ID]
	c.mu.Unlock()
	if !ok {
		log.Printf("Ignoring calibration reply for unknown request %s", reply.ID)
		return
	}
	select {
	case ch <- reply:
	default:
	}
}
