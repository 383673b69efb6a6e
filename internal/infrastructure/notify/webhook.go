package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"futures-autopilot/internal/domain"
)

// WebhookNotifier posts alerts as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

func (w *WebhookNotifier) Send(n domain.Notification) error {
	body, err := json.Marshal(map[string]string{
		"kind":    string(n.Kind),
		"symbol":  n.Symbol,
		"side":    string(n.Side),
		"message": n.Message,
		"price":   n.Price.String(),
		"at":      n.At.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}

	w.logger.Debug("notification delivered",
		zap.String("kind", string(n.Kind)),
		zap.String("symbol", n.Symbol))
	return nil
}

// LogNotifier writes alerts to the structured log only. Used when no
// webhook URL is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Send(n domain.Notification) error {
	l.logger.Info("notification",
		zap.String("kind", string(n.Kind)),
		zap.String("symbol", n.Symbol),
		zap.String("side", string(n.Side)),
		zap.String("price", n.Price.String()),
		zap.String("message", n.Message))
	return nil
}
