package calib

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient connects to the broker the tracker bridge publishes to and
// serves as a GazeSource: gaze frames arrive on the gaze topic, the tracker
// geometry as a retained message on the geometry topic.
type MQTTClient struct {
	client mqtt.Client
	config *Config

	mu            sync.RWMutex
	isConnected   bool
	frameHandler  func(GazeFrame)
	trackBox      *TrackBoxGeometry
	displayArea   *DisplayAreaGeometry
	geometryReady chan struct{}
}

// InitMQTT creates the MQTT gaze source and starts connecting in the
// background. If no broker is configured (MQTT_BROKER or mqtt.broker), MQTT
// is disabled and this returns nil.
func InitMQTT(config *Config) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || config.MQTT.GazeTopic == "" {
		return nil, fmt.Errorf("MQTT enabled but no gaze topic configured")
	}

	client := newMQTTClient(nil, config)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "gazecal"
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
	opts.SetCleanSession(true) // gaze frames are stale after a reconnect
	opts.SetOrderMatters(true) // frames must arrive in order for smoothing

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

func newMQTTClient(client mqtt.Client, config *Config) *MQTTClient {
	return &MQTTClient{
		client:        client,
		config:        config,
		geometryReady: make(chan struct{}),
	}
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the geometry topic and, after a reconnect, to the
// gaze topic again if a subscriber is registered.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected")
	c.setConnected(true)

	if topic := c.config.MQTT.GeometryTopic; topic != "" {
		log.Printf("Subscribing to %s for tracker geometry", topic)
		token := client.Subscribe(topic, 1, c.handleGeometry)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", topic, token.Error())
		}
	}

	if c.getFrameHandler() != nil {
		if err := c.subscribeGaze(client); err != nil {
			log.Printf("Error resubscribing to gaze stream: %v", err)
		}
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// Subscribe registers fn for every decoded gaze frame.
func (c *MQTTClient) Subscribe(fn func(GazeFrame)) error {
	c.mu.Lock()
	c.frameHandler = fn
	c.mu.Unlock()

	if !c.client.IsConnected() {
		// onConnect subscribes once the broker is reachable.
		log.Println("MQTT not connected yet, gaze subscription deferred")
		return nil
	}
	return c.subscribeGaze(c.client)
}

func (c *MQTTClient) subscribeGaze(client mqtt.Client) error {
	topic := c.config.MQTT.GazeTopic
	token := client.Subscribe(topic, 0, c.handleGaze)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, token.Error())
	}
	log.Printf("Subscribed to gaze stream on %s", topic)
	return nil
}

// Unsubscribe stops delivering gaze frames.
func (c *MQTTClient) Unsubscribe() error {
	c.mu.Lock()
	c.frameHandler = nil
	c.mu.Unlock()

	if !c.client.IsConnected() {
		return nil
	}
	topic := c.config.MQTT.GazeTopic
	token := c.client.Unsubscribe(topic)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("unsubscribing from %s: %w", topic, token.Error())
	}
	return nil
}

func (c *MQTTClient) handleGaze(client mqtt.Client, msg mqtt.Message) {
	frame, err := DecodeGazeFrame(msg.Payload())
	if err != nil {
		log.Printf("Error decoding gaze frame (topic: %s, size: %d bytes): %v", msg.Topic(), len(msg.Payload()), err)
		return
	}
	if handler := c.getFrameHandler(); handler != nil {
		handler(frame)
	}
}

func (c *MQTTClient) handleGeometry(client mqtt.Client, msg mqtt.Message) {
	tb, da, err := DecodeGeometry(msg.Payload())
	if err != nil {
		log.Printf("Error decoding tracker geometry (topic: %s): %v", msg.Topic(), err)
		return
	}
	log.Printf("Received tracker geometry: track box %.0fx%.0f mm, display area %.2fx%.2f mm",
		tb.Width, tb.Height, da.Width, da.Height)

	c.mu.Lock()
	defer c.mu.Unlock()
	first := c.trackBox == nil
	c.trackBox = tb
	c.displayArea = da
	if first {
		close(c.geometryReady)
	}
}

func (c *MQTTClient) getFrameHandler() func(GazeFrame) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frameHandler
}

// TrackBox returns the last geometry received from the tracker bridge.
func (c *MQTTClient) TrackBox() (*TrackBoxGeometry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.trackBox == nil {
		return nil, fmt.Errorf("%w: no track box geometry received", ErrPreconditionUnmet)
	}
	tb := *c.trackBox
	return &tb, nil
}

// DisplayArea returns the last display area received from the tracker bridge.
func (c *MQTTClient) DisplayArea() (*DisplayAreaGeometry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.displayArea == nil {
		return nil, fmt.Errorf("%w: no display area geometry received", ErrPreconditionUnmet)
	}
	da := *c.displayArea
	return &da, nil
}

// WaitForGeometry blocks until the first geometry message arrives.
func (c *MQTTClient) WaitForGeometry(ctx context.Context) error {
	select {
	case <-c.geometryReady:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tracker geometry: %w", ctx.Err())
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

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// DecodeGazeFrame parses a JSON gaze frame. Frames without a timestamp are
// stamped on arrival.
func DecodeGazeFrame(payload []byte) (GazeFrame, error) {
	var f GazeFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return GazeFrame{}, fmt.Errorf("%w: gaze frame: %v", ErrTypeMismatch, err)
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	return f, nil
}

type geometryPayload struct {
	TrackBox struct {
		FrontLowerLeft  Vec3 `json:"frontLowerLeft"`
		FrontLowerRight Vec3 `json:"frontLowerRight"`
		FrontUpperLeft  Vec3 `json:"frontUpperLeft"`
		FrontUpperRight Vec3 `json:"frontUpperRight"`
		BackLowerLeft   Vec3 `json:"backLowerLeft"`
	} `json:"trackBox"`
	DisplayArea DisplayAreaGeometry `json:"displayArea"`
}

// DecodeGeometry parses the tracker bridge's geometry message. Track box
// dimensions are derived from its corners.
func DecodeGeometry(payload []byte) (*TrackBoxGeometry, *DisplayAreaGeometry, error) {
	var g geometryPayload
	if err := json.Unmarshal(payload, &g); err != nil {
		return nil, nil, fmt.Errorf("%w: geometry: %v", ErrTypeMismatch, err)
	}
	tb := NewTrackBoxGeometry(g.TrackBox.FrontLowerLeft, g.TrackBox.FrontLowerRight,
		g.TrackBox.FrontUpperLeft, g.TrackBox.FrontUpperRight, g.TrackBox.BackLowerLeft)
	if tb.Width <= 0 || tb.Height <= 0 {
		return nil, nil, fmt.Errorf("%w: track box has no size", ErrRangeViolation)
	}
	if g.DisplayArea.Width <= 0 || g.DisplayArea.Height <= 0 {
		return nil, nil, fmt.Errorf("%w: display area has no size", ErrRangeViolation)
	}
	da := g.DisplayArea
	return tb, &da, nil
}
