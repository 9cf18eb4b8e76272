package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// Tests in this file run without a broker. Behaviour against a live
// Mosquitto instance is covered by integration_test.go (build tag
// "integration").

func TestCloseBeforeConnect(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() before Connect = %v, want nil", err)
	}
}

func TestIsConnectedInitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	client := &Client{}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelledContext(t *testing.T) {
	client := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() error = nil for a cancelled context")
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"qos out of range", "shq/state/door-1", []byte("{}"), 3, ErrInvalidQoS},
		{"oversized payload", "shq/state/door-1", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "shq/state/door-1", []byte("{}"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{"empty topic", "", 1, handler, ErrInvalidTopic},
		{"qos out of range", "shq/command/+", 3, handler, ErrInvalidQoS},
		{"nil handler", "shq/command/+", 1, nil, ErrSubscribeFailed},
		{"disconnected", "shq/command/+", 1, handler, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Subscribe(tt.topic, tt.qos, tt.handler); !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
		})
	}

	// Rejected subscriptions must not linger in the restore set.
	if len(client.subscriptions) != 0 {
		t.Errorf("subscriptions = %v, want none after rejected calls", client.subscriptions)
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Unsubscribe("shq/command/door-1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestStatusPayload(t *testing.T) {
	var doc statusDoc
	if err := json.Unmarshal(statusPayload("shqlink", "offline", "graceful_shutdown"), &doc); err != nil {
		t.Fatalf("unmarshalling status payload: %v", err)
	}
	if doc.Status != "offline" || doc.ClientID != "shqlink" || doc.Reason != "graceful_shutdown" {
		t.Errorf("payload = %+v", doc)
	}
	if _, err := time.Parse(time.RFC3339, doc.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", doc.Timestamp, err)
	}

	// The online document omits the reason field entirely.
	raw := statusPayload("shqlink", "online", "")
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshalling online payload: %v", err)
	}
	if _, ok := generic["reason"]; ok {
		t.Errorf("online payload = %s, want reason omitted", raw)
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DeviceState", Topics{}.DeviceState("door-garage"), "shq/state/door-garage"},
		{"DeviceAvailability", Topics{}.DeviceAvailability("door-garage"), "shq/availability/door-garage"},
		{"DeviceCommand", Topics{}.DeviceCommand("display-kitchen"), "shq/command/display-kitchen"},
		{"DeviceCommandResult", Topics{}.DeviceCommandResult("display-kitchen"), "shq/result/display-kitchen"},
		{"SystemStatus", Topics{}.SystemStatus(), "shq/system/status"},
		{"AllDeviceCommands", Topics{}.AllDeviceCommands(), "shq/command/+"},
		{"AllDeviceStates", Topics{}.AllDeviceStates(), "shq/state/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}
