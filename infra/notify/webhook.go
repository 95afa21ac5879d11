// Package notify pushes assignment lifecycle events back to the order
// subsystem over HTTP, authenticating with client credentials.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/secutrans/convoy/core/events"
	"github.com/secutrans/convoy/core/model"
	"github.com/secutrans/convoy/infra/logger"
	"github.com/secutrans/convoy/internal/eventbus"
)

// Config parameterizes the webhook notifier.
type Config struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`

	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AuthURL      string `json:"auth_url"`

	TimeoutSeconds int `json:"timeout_seconds"`
}

func (c *Config) SetDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}
}

func (c Config) Validate() error {
	if c.Enabled && c.URL == "" {
		return fmt.Errorf("notify.url is required when the notifier is enabled")
	}
	return nil
}

// payload is the wire format of one notification.
type payload struct {
	Event        string     `json:"event"`
	AssignmentID string     `json:"assignment_id,omitempty"`
	RouteID      string     `json:"route_id,omitempty"`
	Date         model.Date `json:"date"`
	Resource     string     `json:"resource,omitempty"`
	Kind         string     `json:"kind,omitempty"`
	Time         time.Time  `json:"time"`
}

// authHeaderSetter is satisfied by ClientCred; injected for tests.
type authHeaderSetter interface {
	SetAuthHeader(*http.Request) error
}

// Webhook forwards assignment events from the bus to the configured endpoint.
type Webhook struct {
	url    string
	client *http.Client
	creds  authHeaderSetter
	log    logger.Logger
	now    func() time.Time
}

// NewWebhook creates a Webhook. Credentials are optional; without an auth URL
// requests go out unauthenticated.
func NewWebhook(cfg Config) (*Webhook, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := &Webhook{
		url:    cfg.URL,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		log:    logger.New("notify"),
		now:    time.Now,
	}
	if cfg.AuthURL != "" {
		w.creds = NewClientCred(CredentialsConf{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			AuthURL:      cfg.AuthURL,
		})
	}
	return w, nil
}

// Run consumes the bus until the context is cancelled. Delivery failures are
// logged and dropped; notifications are best-effort by design of the bus.
func (w *Webhook) Run(ctx context.Context, bus eventbus.EventBus) {
	sub := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			bus.Unsubscribe(sub)
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if p, relevant := w.translate(ev); relevant {
				if err := w.post(ctx, p); err != nil {
					w.log.Errorf("notify %s: %v", p.Event, err)
				}
			}
		}
	}
}

func (w *Webhook) translate(ev eventbus.Event) (payload, bool) {
	switch e := ev.(type) {
	case events.AssignmentBound:
		return payload{
			Event:        "assignment.bound",
			AssignmentID: e.AssignmentID,
			RouteID:      e.RouteID,
			Date:         e.Date,
			Time:         w.now().UTC(),
		}, true
	case events.AssignmentConflict:
		return payload{
			Event:    "assignment.conflict",
			RouteID:  e.RouteID,
			Date:     e.Date,
			Resource: e.Resource,
			Kind:     e.Kind.String(),
			Time:     w.now().UTC(),
		}, true
	case events.AssignmentCancelled:
		return payload{
			Event:        "assignment.cancelled",
			AssignmentID: e.AssignmentID,
			Date:         e.Date,
			Time:         w.now().UTC(),
		}, true
	default:
		return payload{}, false
	}
}

func (w *Webhook) post(ctx context.Context, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.creds != nil {
		if err := w.creds.SetAuthHeader(req); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}
