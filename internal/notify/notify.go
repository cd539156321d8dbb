// Package notify pushes trade events to an operator webhook. Delivery
// is best-effort: failures are logged and never block the pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"mempool-mirror/internal/domain"
)

// Notifier receives trade lifecycle events.
type Notifier interface {
	PositionOpened(ctx context.Context, pos *domain.Position)
	PositionClosed(ctx context.Context, rec *domain.PositionRecord)
}

// Noop discards all events.
type Noop struct{}

func (Noop) PositionOpened(context.Context, *domain.Position)       {}
func (Noop) PositionClosed(context.Context, *domain.PositionRecord) {}

// Webhook POSTs JSON events to a single URL.
type Webhook struct {
	url    string
	http   *http.Client
	logger *log.Logger
}

func NewWebhook(url string, logger *log.Logger) *Webhook {
	if logger == nil {
		logger = log.Default()
	}
	return &Webhook{
		url:    url,
		http:   &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

var _ Notifier = (*Webhook)(nil)

type event struct {
	Type      string    `json:"type"`
	Token     string    `json:"token"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// PositionOpened announces a confirmed mirrored buy.
func (w *Webhook) PositionOpened(ctx context.Context, pos *domain.Position) {
	w.send(ctx, event{
		Type:      "position_opened",
		Token:     pos.Token,
		Detail:    fmt.Sprintf("mirrored %s, committed $%s", pos.Origin, pos.CommittedUSD.StringFixed(2)),
		Timestamp: time.Now(),
	})
}

// PositionClosed announces a close with its reason and PnL.
func (w *Webhook) PositionClosed(ctx context.Context, rec *domain.PositionRecord) {
	w.send(ctx, event{
		Type:      "position_closed",
		Token:     rec.Token,
		Detail:    fmt.Sprintf("%s, pnl $%s", rec.CloseReason, rec.PnLUSD.StringFixed(2)),
		Timestamp: time.Now(),
	})
}

func (w *Webhook) send(ctx context.Context, ev event) {
	body, err := json.Marshal(ev)
	if err != nil {
		w.logger.Printf("Encoding event failed: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Printf("Building request failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		w.logger.Printf("Delivering %s failed: %v", ev.Type, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		w.logger.Printf("Webhook returned %d for %s", resp.StatusCode, ev.Type)
	}
}
