package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dynamic-load-balancer/internal/balancer"

	"github.com/sirupsen/logrus"
)

// Webhook posts alerts as JSON to a user endpoint (ntfy, Gotify, Home
// Assistant webhook automation...).
type Webhook struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, alert balancer.Alert) error {
	body, err := json.Marshal(webhookPayload{Title: alert.Title, Message: alert.Message, Target: alert.Target})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Log writes alerts to the service log.
type Log struct {
	logger *logrus.Logger
}

func NewLog(logger *logrus.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Send(ctx context.Context, alert balancer.Alert) error {
	l.logger.WithField("target", alert.Target).Warnf("%s: %s", alert.Title, alert.Message)
	return nil
}

// Fanout sends every alert to all its channels and reports the failures
// together.
type Fanout []balancer.AlertChannel

func (f Fanout) Name() string {
	names := make([]string, 0, len(f))
	for _, ch := range f {
		names = append(names, ch.Name())
	}
	return strings.Join(names, "+")
}

func (f Fanout) Send(ctx context.Context, alert balancer.Alert) error {
	var errs []error
	for _, ch := range f {
		if err := ch.Send(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var (
	_ balancer.AlertChannel = (*Webhook)(nil)
	_ balancer.AlertChannel = (*Log)(nil)
	_ balancer.AlertChannel = Fanout(nil)
)
