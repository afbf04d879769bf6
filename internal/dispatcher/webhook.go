package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmehdipour/order-gateway/internal/model"
)

// Endpoint is one downstream notification target.
type Endpoint interface {
	Name() string
	Ready() bool
	Acquire() bool
	Notify(ctx context.Context, n model.Notification) error
}

// Webhook POSTs notifications as JSON to a fixed URL behind a MicroBreaker.
type Webhook struct {
	name   string
	url    string
	client *http.Client
	br     *MicroBreaker
}

func NewWebhook(name, url string, timeoutMs, failThreshold, openForMs int) *Webhook {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}

	if failThreshold <= 0 {
		failThreshold = 3
	}

	if openForMs <= 0 {
		openForMs = 15000
	}

	return &Webhook{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:     NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (w *Webhook) Name() string  { return w.name }
func (w *Webhook) Ready() bool   { return w.br.Ready() }
func (w *Webhook) Acquire() bool { return w.br.TryAcquire() }

func (w *Webhook) Notify(ctx context.Context, n model.Notification) error {
	if err := w.post(ctx, n); err != nil {
		w.br.OnFailure()
		return err
	}

	w.br.OnSuccess()

	return nil
}

func (w *Webhook) post(ctx context.Context, n model.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(b))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", model.MarkKey(n.ItemID, n.OrderID))

	res, err := w.client.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("webhook=%s status=%d", w.name, res.StatusCode)
	}

	return nil
}
