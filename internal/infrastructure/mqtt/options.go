package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	ackTimeout     = 5 * time.Second
	keepAlive      = 30 * time.Second

	// quiesceMillis lets in-flight state publishes finish on Close.
	quiesceMillis = 250

	maxQoS = 2
)

// Presence states published on the service status topic.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Reasons attached to an offline presence.
const (
	ReasonShutdown       = "shutdown"
	ReasonConnectionLost = "connection_lost"
)

// Presence is the retained document on atomberg/system/status.
type Presence struct {
	State    string    `json:"state"`
	ClientID string    `json:"client_id"`
	Reason   string    `json:"reason,omitempty"`
	Since    time.Time `json:"since"`
}

func presence(state, clientID, reason string) []byte {
	data, _ := json.Marshal(Presence{ //nolint:errchkjson // fixed struct of strings and a time
		State:    state,
		ClientID: clientID,
		Reason:   reason,
		Since:    time.Now().UTC().Truncate(time.Second),
	})
	return data
}

// brokerOptions builds the paho options for cfg, including the Last Will
// that marks the service offline when the broker loses it.
//
// Message handlers run concurrently: a fan command routed through the cloud
// can take seconds and must not hold up state traffic.
func brokerOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	addr := net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(cfg.Broker.Port))

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s", scheme, addr)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetBinaryWill(Topics{}.SystemStatus(), presence(PresenceOffline, cfg.Broker.ClientID, ReasonConnectionLost), 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12, ServerName: cfg.Broker.Host})
	}
	return opts
}
