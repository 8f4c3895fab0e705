package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/provider"
	"github.com/rs/zerolog"
)

// FactoryKeyWebhook registers the HTTP webhook gateway.
const FactoryKeyWebhook = "webhook"

// WebhookGateway posts each message as JSON to a configured HTTP endpoint and
// expects 202 Accepted with a remote message id. It suits SendGrid-style and
// SMS gateway APIs fronted by a single send endpoint.
type WebhookGateway struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookGateway creates a gateway for the given endpoint URL.
func NewWebhookGateway(url string, logger zerolog.Logger) (*WebhookGateway, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook gateway requires a url")
	}
	return &WebhookGateway{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "WebhookGateway").Str("url", url).Logger(),
	}, nil
}

type webhookRequest struct {
	Key     string `json:"key"`
	Type    string `json:"type"`
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

type webhookResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

// DeliverBatch posts the messages one by one; the endpoint contract is
// per-message, so a slow or failing recipient never poisons its batch mates.
func (g *WebhookGateway) DeliverBatch(ctx context.Context, _ provider.Descriptor, msgs []courier.Message) ([]provider.Outcome, error) {
	outcomes := make([]provider.Outcome, 0, len(msgs))
	for _, m := range msgs {
		remoteID, err := g.send(ctx, m)
		if err != nil {
			outcomes = append(outcomes, provider.FailedOutcome(m.ID, err.Error()))
			continue
		}
		outcomes = append(outcomes, provider.SentOutcome(m.ID, remoteID))
	}
	return outcomes, nil
}

func (g *WebhookGateway) send(ctx context.Context, msg courier.Message) (string, error) {
	req := webhookRequest{Key: msg.Key, Type: string(msg.Type)}
	switch {
	case msg.Mail != nil:
		req.To = msg.Mail.To
		req.From = msg.Mail.From
		req.Subject = msg.Mail.Subject
		req.Body = msg.Mail.Body
	case msg.Text != nil:
		req.To = msg.Text.To
		req.From = msg.Text.From
		req.Body = msg.Text.Body
	default:
		return "", fmt.Errorf("message %s has no payload", msg.ID)
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var wr webhookResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if wr.MessageID == "" {
		return "", fmt.Errorf("missing messageId in response body=%q", string(body))
	}
	return wr.MessageID, nil
}

// RegisterWebhook binds the webhook gateway to its factory key. The endpoint
// URL comes from the descriptor's "url" parameter.
func RegisterWebhook(f *provider.Factory, logger zerolog.Logger) error {
	return f.Register(FactoryKeyWebhook, func(desc provider.Descriptor) (provider.DeliveryAdapter, error) {
		return NewWebhookGateway(desc.Params["url"], logger)
	})
}
