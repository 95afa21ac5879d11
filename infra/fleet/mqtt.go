// Package fleet feeds field status into the availability roster. Depots and
// crews report over MQTT; each message updates one resource's availability so
// the next proposal round sees the current fleet.
package fleet

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/secutrans/convoy/core/availability"
	"github.com/secutrans/convoy/core/model"
	"github.com/secutrans/convoy/infra/logger"
)

// Config defines the connection parameters for the fleet status feed.
type Config struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	StatusTopic string `json:"status_topic"`
	QoS         byte   `json:"qos"`
	UseTLS      bool   `json:"use_tls"`
	ClientCert  string `json:"client_cert"`
	ClientKey   string `json:"client_key"`
	CABundle    string `json:"ca_bundle"`
}

// StatusMessage is the wire format of one fleet status update.
type StatusMessage struct {
	ResourceID string `json:"resource_id"`
	Kind       string `json:"kind"`
	Capacity   int    `json:"capacity,omitempty"`
	// Event is one of "online", "offline", "out_of_service", "back_in_service".
	Event string `json:"event"`
	// Date scopes out_of_service and back_in_service to one day.
	Date model.Date `json:"date,omitempty"`
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// StatusFeed subscribes to the status topic and applies updates to a roster.
type StatusFeed struct {
	cli    pahoClient
	roster *availability.Roster
	topic  string
	qos    byte
	log    logger.Logger
}

// NewStatusFeed connects to the broker and subscribes to cfg.StatusTopic.
func NewStatusFeed(cfg Config, roster *availability.Roster) (*StatusFeed, error) {
	if roster == nil {
		return nil, fmt.Errorf("status feed requires a roster")
	}
	opts, err := newClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("fleet-feed")
	feed := &StatusFeed{roster: roster, topic: cfg.StatusTopic, qos: cfg.QoS, log: log}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("fleet feed connected")
		if token := c.Subscribe(feed.topic, feed.qos, feed.onStatus); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	feed.cli = c
	return feed, nil
}

func newClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.CABundle != "" {
			ca, err := os.ReadFile(cfg.CABundle)
			if err != nil {
				return nil, fmt.Errorf("read ca bundle: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(ca) {
				return nil, fmt.Errorf("invalid ca bundle %s", cfg.CABundle)
			}
			tlsCfg.RootCAs = pool
		}
		if cfg.ClientCert != "" && cfg.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("load client cert: %w", err)
			}
			tlsCfg.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

func (f *StatusFeed) onStatus(_ paho.Client, msg paho.Message) {
	var status StatusMessage
	if err := json.Unmarshal(msg.Payload(), &status); err != nil {
		f.log.Errorf("malformed status message: %v", err)
		return
	}
	if err := f.Apply(status); err != nil {
		f.log.Warnf("status update dropped: %v", err)
	}
}

// Apply applies one status update to the roster.
func (f *StatusFeed) Apply(status StatusMessage) error {
	if status.ResourceID == "" {
		return fmt.Errorf("status without resource id")
	}
	switch status.Event {
	case "online":
		kind, err := parseKind(status.Kind)
		if err != nil {
			return err
		}
		f.roster.Add(availability.Resource{ID: status.ResourceID, Kind: kind, Capacity: status.Capacity})
		f.roster.SetOnline(status.ResourceID, true)
	case "offline":
		f.roster.SetOnline(status.ResourceID, false)
	case "out_of_service":
		if status.Date.IsZero() {
			return fmt.Errorf("out_of_service for %s without date", status.ResourceID)
		}
		f.roster.MarkOut(status.ResourceID, status.Date)
	case "back_in_service":
		if status.Date.IsZero() {
			return fmt.Errorf("back_in_service for %s without date", status.ResourceID)
		}
		f.roster.MarkIn(status.ResourceID, status.Date)
	default:
		return fmt.Errorf("unknown status event %q", status.Event)
	}
	return nil
}

// Close disconnects from the broker.
func (f *StatusFeed) Close() {
	if f.cli != nil && f.cli.IsConnected() {
		f.cli.Disconnect(250)
	}
}

func parseKind(s string) (model.ResourceKind, error) {
	for _, k := range model.ResourceKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown resource kind %q", s)
}
