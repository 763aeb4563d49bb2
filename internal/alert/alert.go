// Package alert provides the outbound operator-notification adapter
// (spec.md §7 supplemental feature): a STUCK position or a tripped
// circuit breaker posts a JSON payload to a configured webhook rather
// than silently waiting for an operator to notice. Generalizes the
// teacher's inbound order-postback HTTP server into an outbound
// notifier with the same timeout and logging discipline.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/ridgeline-systems/perpctl/internal/config"
)

// Notifier posts operator alerts to a webhook URL. Satisfies
// closer.AlertNotifier.
type Notifier struct {
	cfg    config.AlertConfig
	client *http.Client
	logger *log.Logger
}

// New creates a Notifier. If cfg.Enabled is false, every call is a no-op.
func New(cfg config.AlertConfig, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[alert] ", log.LstdFlags)
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// payload is the JSON body posted to the webhook.
type payload struct {
	Kind   string    `json:"kind"`
	Symbol string    `json:"symbol,omitempty"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// NotifyStuck alerts that symbol failed to close after cycles attempts.
func (n *Notifier) NotifyStuck(ctx context.Context, symbol string, cycles int) error {
	return n.post(ctx, payload{
		Kind:   "position_stuck",
		Symbol: symbol,
		Detail: fmt.Sprintf("failed to close after %d cycles", cycles),
		At:     time.Now().UTC(),
	})
}

// NotifyCircuitBreaker alerts that the daily loss limit tripped the
// circuit breaker for the remainder of the UTC trading day.
func (n *Notifier) NotifyCircuitBreaker(ctx context.Context, dailyPnL string) error {
	return n.post(ctx, payload{
		Kind:   "circuit_breaker_tripped",
		Detail: fmt.Sprintf("daily pnl %s breached the configured loss limit", dailyPnL),
		At:     time.Now().UTC(),
	})
}

func (n *Notifier) post(ctx context.Context, p payload) error {
	if !n.cfg.Enabled || n.cfg.WebhookURL == "" {
		n.logger.Printf("alert suppressed (disabled): %s %s %s", p.Kind, p.Symbol, p.Detail)
		return nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("alert: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("alert: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert: webhook returned status %d", resp.StatusCode)
	}
	n.logger.Printf("alert sent: %s %s", p.Kind, p.Symbol)
	return nil
}
