package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultDisconnectQuiesce = 1000 // ms

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12

	// willQoS is used for the last will so a crash is always reported.
	willQoS = 1
)

// Status values published to {prefix}/system/status.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown   = "graceful_shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

// statusMessage is the retained payload on the system status topic.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// encode renders m as JSON, stamping the current UTC time.
func (m statusMessage) encode() string {
	m.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(m)
	if err != nil {
		// Only string fields; Marshal cannot fail here.
		return `{"status":"` + m.Status + `"}`
	}
	return string(data)
}

func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions maps the mqtt config section onto paho options.
//
// persistd never subscribes, so sessions are clean and no message handler
// is registered. Reconnect intervals come from cfg.Reconnect (seconds).
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(seconds(cfg.Reconnect.InitialDelay)).
		SetMaxReconnectInterval(seconds(cfg.Reconnect.MaxDelay)).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// configureLWT registers a retained offline will on the status topic, so
// subscribers can tell a crash from a clean shutdown.
func configureLWT(opts *pahomqtt.ClientOptions, cfg config.MQTTConfig) {
	will := statusMessage{
		Status:   statusOffline,
		ClientID: cfg.Broker.ClientID,
		Reason:   reasonUnexpected,
	}
	opts.SetWill(Topics{Prefix: cfg.TopicPrefix}.SystemStatus(), will.encode(), willQoS, true)
}

func buildOnlinePayload(clientID string) string {
	return statusMessage{Status: statusOnline, ClientID: clientID}.encode()
}

func buildOfflinePayload(clientID string) string {
	return statusMessage{Status: statusOffline, ClientID: clientID, Reason: reasonShutdown}.encode()
}
