// Package webhook delivers remote spend alerts to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/fincue/ai/stats"
)

var (
	// timeout is the timeout for webhook request. Default to 30 seconds.
	timeout = 30 * time.Second
)

type AlertPayload struct {
	Alert   *stats.CostAlert `json:"alert"`
	Message string           `json:"message"`
	Source  string           `json:"source"`
}

// Notifier posts cost alerts to URL. It implements stats.AlertNotifier.
type Notifier struct {
	URL    string
	client *http.Client
}

// NewNotifier returns a Notifier posting to url.
func NewNotifier(url string) *Notifier {
	return &Notifier{
		URL:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// SendCostAlert posts the alert and checks the endpoint's reply.
func (n *Notifier) SendCostAlert(ctx context.Context, alert *stats.CostAlert) error {
	return n.post(ctx, &AlertPayload{
		Alert:   alert,
		Message: alert.String(),
		Source:  "fincue",
	})
}

func (n *Notifier) post(ctx context.Context, payload *AlertPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal webhook request to %s", n.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrapf(err, "failed to construct webhook request to %s", n.URL)
	}

	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post webhook to %s", n.URL)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "failed to read webhook response from %s", n.URL)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("failed to post webhook %s, status code: %d, response body: %s", n.URL, resp.StatusCode, b)
	}

	// Endpoints that reply with an empty body are accepted.
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	response := &struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}{}
	if err := json.Unmarshal(b, response); err != nil {
		return errors.Wrapf(err, "failed to unmarshal webhook response from %s", n.URL)
	}

	if response.Code != 0 {
		return errors.Errorf("receive error code sent by webhook server, code %d, msg: %s", response.Code, response.Message)
	}

	return nil
}
