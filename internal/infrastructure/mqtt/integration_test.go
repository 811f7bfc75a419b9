//go:build integration

package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-persist/internal/persist"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

func TestIntegration_EventRoundtrip(t *testing.T) {
	cfg := testConfig()
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	// A plain paho subscriber stands in for a downstream consumer.
	subOpts := pahomqtt.NewClientOptions().AddBroker(brokerURL(cfg)).SetClientID("persistd-test-sub")
	sub := pahomqtt.NewClient(subOpts)
	if tok := sub.Connect(); !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		t.Fatalf("subscriber connect: %v", tok.Error())
	}
	defer sub.Disconnect(100)

	received := make(chan []byte, 1)
	tok := sub.Subscribe(client.Topics().AllEvents(), 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
		received <- m.Payload()
	})
	if !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		t.Fatalf("subscribe: %v", tok.Error())
	}

	p := NewEventPublisher(client, client.Topics(), 1, 0)
	p.OnEvent(persist.Event{Kind: persist.EventCommit, TxID: "tx-int", Time: time.Now()})
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case payload := <-received:
		var msg EventMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("payload is not JSON: %v", err)
		}
		if msg.Kind != "commit" || msg.TxID != "tx-int" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestIntegration_HealthCheck(t *testing.T) {
	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}
