package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"lastmile/internal/metrics"
	"lastmile/internal/store"
)

// Worker drains the delivery queue on a fixed tick with exponential
// backoff per delivery. A delivery whose MaxAttempts-th attempt fails is
// failed for good.
type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	Log         zerolog.Logger
	Stop        chan struct{}
	MaxAttempts int
}

func NewWorker(s store.Store, log zerolog.Logger) *Worker {
	max := 10
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			max = n
		}
	}
	return &Worker{
		Store:       s,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		Log:         log,
		Stop:        make(chan struct{}),
		MaxAttempts: max,
	}
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
	if err != nil || len(items) == 0 {
		return
	}
	for _, it := range items {
		success, code, lastErr, latency := w.deliver(ctx, it)
		status := "retry"
		if success {
			status = "delivered"
		}
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
		if !success && it.Attempts+1 >= w.MaxAttempts {
			w.Log.Warn().Str("delivery", it.ID).Str("event", it.EventType).
				Int("attempts", it.Attempts+1).Msg("webhook delivery dead-lettered")
			_ = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
			continue
		}
		next := time.Now().Add(nextBackoff(it.Attempts))
		_ = w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) (success bool, code int, lastErr string, latencyMs int) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		return false, 0, err.Error(), 0
	}
	req.Header.Set("Content-Type", "application/json")
	if it.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
		req.Header.Set("X-Event-Type", it.EventType)
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latencyMs = int(time.Since(start).Milliseconds())
	if err != nil {
		return false, 0, err.Error(), latencyMs
	}
	defer func() { _ = resp.Body.Close() }()
	code = resp.StatusCode
	return code >= 200 && code < 300, code, "", latencyMs
}

// SignHMAC signs a delivery payload for the X-Signature header:
// lowercase hex of HMAC-SHA256 over the raw body with the subscription
// secret.
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC is the receiver-side check for that header. Exported so
// subscribers built against this module can validate deliveries.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), b)
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
