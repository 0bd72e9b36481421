// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finalyze/analysis-runtime/internal/domain"
)

const (
	notifyRetryAttempts = 3
	notifyRetryBase     = 300 * time.Millisecond
	notifyHeaderSig     = "X-Signature"
)

type terminalNotifyPayload struct {
	RunID        uuid.UUID           `json:"run_id"`
	Status       domain.RunStatus    `json:"status"`
	RiskCategory domain.RiskCategory `json:"risk_category,omitempty"`
	RiskScore    *float64            `json:"risk_score,omitempty"`
	FinishedAt   time.Time           `json:"finished_at"`
}

// Notifier delivers the terminal-run webhook a caller registered on
// submission. Payloads are HMAC-signed when a secret is configured.
type Notifier struct {
	httpClient *http.Client
	secret     string
	logger     *slog.Logger
}

type NotifierDeps struct {
	HTTPClient *http.Client
	Secret     string
	Logger     *slog.Logger
}

func NewNotifier(deps NotifierDeps) *Notifier {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Notifier{
		httpClient: deps.HTTPClient,
		secret:     deps.Secret,
		logger:     deps.Logger,
	}
}

// Notify posts the terminal status to webhookURL, retrying transient failures
// a fixed number of times. Delivery is best-effort and never affects the run.
func (n *Notifier) Notify(ctx context.Context, snap domain.RunSnapshot, webhookURL string) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return
	}

	payload := terminalNotifyPayload{
		RunID:  snap.RunID,
		Status: snap.Status,
	}
	if snap.FinishedAt != nil {
		payload.FinishedAt = *snap.FinishedAt
	}
	if snap.Record != nil && snap.Record.Risk != nil {
		payload.RiskCategory = snap.Record.Risk.Category
		score := snap.Record.Risk.Score
		payload.RiskScore = &score
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("webhook payload marshal failed",
			"run_id", snap.RunID,
			"status", snap.Status,
			"error", err,
		)
		return
	}

	signature := signNotifyPayload(n.secret, body)

	var lastErr error
	for attempt := 1; attempt <= notifyRetryAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
		if err != nil {
			n.logger.Error("webhook request build failed",
				"run_id", snap.RunID,
				"error", err,
			)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(notifyHeaderSig, signature)
		}

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
			n.logger.Warn("webhook failure",
				"run_id", snap.RunID,
				"attempt", attempt,
				"error", err,
			)
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
				n.logger.Info("webhook delivered",
					"run_id", snap.RunID,
					"status", snap.Status,
					"attempt", attempt,
				)
				return
			}
			lastErr = fmt.Errorf("non-2xx response: %d", resp.StatusCode)
			n.logger.Warn("webhook failure",
				"run_id", snap.RunID,
				"attempt", attempt,
				"response_status", resp.StatusCode,
			)
		}

		if attempt < notifyRetryAttempts {
			wait := notifyRetryBase * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}

	if lastErr != nil {
		n.logger.Error("webhook retries exhausted",
			"run_id", snap.RunID,
			"status", snap.Status,
			"error", lastErr,
		)
	}
}

func signNotifyPayload(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
