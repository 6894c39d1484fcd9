package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	database "github.com/opsdeck/opsdeck-backend/internal"
	"github.com/opsdeck/opsdeck-backend/internal/utils"
)

// notifyWebhook delivers a fired alert to the rule's webhook. Payloads are
// canonicalized and HMAC-signed so receivers can verify them. Failures are
// logged, never retried; the event row is the source of truth.
func notifyWebhook(rule database.AlertRule, event database.AlertEvent) {
	if rule.WebhookURL == nil || *rule.WebhookURL == "" {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"rule_id":   rule.ID.String(),
		"rule_name": rule.Name,
		"kind":      rule.Kind,
		"event_id":  event.ID.String(),
		"message":   event.Message,
		"value":     event.Value,
		"fired_at":  event.FiredAt.UTC().Format(time.RFC3339),
	})
	payload = utils.CanonicalizeJSON(payload)

	ts := time.Now().Unix()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, *rule.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		log.Printf("alert %s: webhook request build failed: %v", rule.Name, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OpsDeck-Timestamp", strconv.FormatInt(ts, 10))
	if secret := os.Getenv("OPSDECK_WEBHOOK_SECRET"); secret != "" {
		req.Header.Set("X-OpsDeck-Signature", utils.ComputeWebhookSignature(secret, ts, payload))
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("alert %s: webhook delivery failed: %v", rule.Name, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("alert %s: webhook returned status %d", rule.Name, resp.StatusCode)
	}
}
