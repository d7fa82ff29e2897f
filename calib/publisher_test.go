package calib

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOutcome(id string) *Outcome {
	return &Outcome{
		SessionID:  id,
		StartedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC),
		Eyes:       EyesBoth,
		Rounds:     1,
		Points: []AggregatedPoint{
			{Key: "1", Source: Point{X: 0.1, Y: 0.1}, Target: PixelPoint{X: -546, Y: 307}, MeanLeft: PixelPoint{X: -520, Y: 290}, MeanRight: PixelPoint{X: -570, Y: 320}, LeftError: 31.0, RightError: 27.3},
			{Key: "3", Source: Point{X: 0.5, Y: 0.5}, MeanLeft: PixelPoint{X: 27, Y: -15}, MeanRight: PixelPoint{X: -27, Y: 15}, LeftError: 30.9, RightError: 30.9},
		},
		Score:     Score{MeanLeftError: 30.95, MeanRightError: 29.1, MaxLeftError: 31, MaxRightError: 30.9, WorstKey: "1"},
		Validated: true,
	}
}

func TestNewPublisher(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	publisher := NewPublisher(nil)
	if publisher == nil {
		t.Fatal("NewPublisher() returned nil")
	}
	if publisher.publishPrefix != "gazecal" {
		t.Errorf("Default prefix = %s, want gazecal", publisher.publishPrefix)
	}
	if publisher.qos != 1 {
		t.Errorf("Default QoS = %d, want 1", publisher.qos)
	}
	if !publisher.retain {
		t.Error("Default retain should be true")
	}
}

func TestNewPublisher_EnvPrefix(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "lab7")
	if p := NewPublisher(nil); p.publishPrefix != "lab7" {
		t.Errorf("prefix = %s, want lab7", p.publishPrefix)
	}
}

func TestPublisher_Settings(t *testing.T) {
	p := NewPublisher(nil)
	p.SetPublishPrefix("station")
	p.SetQoS(2)
	p.SetQoS(3)
	p.SetRetain(false)

	assert.Equal(t, "station", p.publishPrefix)
	assert.Equal(t, byte(2), p.qos, "invalid QoS should be ignored")
	assert.False(t, p.retain)
}

func TestPublisher_ReportWithoutClient(t *testing.T) {
	p := NewPublisher(nil)

	assert.ErrorIs(t, p.Report(nil), ErrTypeMismatch)

	outcome := testOutcome("s-1")
	err := p.Report(outcome)
	assert.Error(t, err, "disconnected publisher should report an error")

	latest, ok := p.Latest()
	require.True(t, ok, "outcome should be kept even when not published")
	assert.Equal(t, "s-1", latest.SessionID)
}

func TestPublisher_Report(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	client := NewMockClient()
	client.SetConnected(true)
	p := NewPublisher(client)

	require.NoError(t, p.Report(testOutcome("s-42")))

	msgs := client.GetPublishedMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "gazecal/calibration/s-42", msgs[0].Topic)
	assert.Equal(t, "gazecal/calibration/latest", msgs[1].Topic)
	for _, m := range msgs {
		assert.True(t, m.Retain)
		assert.Equal(t, byte(1), m.QoS)
	}

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &payload))
	assert.Equal(t, "s-42", payload["sessionId"])
	assert.Equal(t, "both", payload["eyes"])

	var decoded Outcome
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &decoded))
	assert.Equal(t, EyesBoth, decoded.Eyes)
	assert.Equal(t, "1", decoded.Score.WorstKey)
	assert.Equal(t, PixelPoint{X: -546, Y: 307}, decoded.Points[0].Target)
}

func TestPublisher_ReportPublishError(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	client.SetPublishError(errors.New("quota exceeded"))

	err := NewPublisher(client).Report(testOutcome("s-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestPublisher_PublishGaze(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	p := NewPublisher(client)
	p.SetPublishPrefix("station")

	p.PublishGaze(Point{X: 0.3, Y: 0.6})

	msgs := client.GetPublishedMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "station/gaze", msgs[0].Topic)
	assert.Equal(t, byte(0), msgs[0].QoS)
	assert.False(t, msgs[0].Retain)

	var gaze gazeMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &gaze))
	assert.Equal(t, 0.3, gaze.X)
	assert.Equal(t, 0.6, gaze.Y)
	assert.NotZero(t, gaze.Timestamp)

	client.SetConnected(false)
	p.PublishGaze(Point{X: 0.1, Y: 0.1})
	assert.Len(t, client.GetPublishedMessages(), 1)

	NewPublisher(nil).PublishGaze(Point{})
}
