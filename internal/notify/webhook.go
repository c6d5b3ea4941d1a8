package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cronflow/cronflow/internal/crypto"
	"github.com/cronflow/cronflow/internal/models"
)

// webhookSender holds what all webhook-style variants share: URL decryption
// and the POST itself.
type webhookSender struct {
	client *http.Client
	enc    *crypto.Encryptor
}

func newWebhookSender(enc *crypto.Encryptor) webhookSender {
	return webhookSender{
		client: &http.Client{Timeout: 10 * time.Second},
		enc:    enc,
	}
}

func (w webhookSender) post(ctx context.Context, cred *models.Credential, body []byte, contentType string) error {
	url, err := w.enc.Decrypt(cred.EncryptedWebhookURL)
	if err != nil {
		return fmt.Errorf("decrypt webhook url: %w", err)
	}
	if url == "" {
		return fmt.Errorf("credential %s has no webhook url", cred.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST: %w", err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// jsonObject reports whether the body parses as a JSON object, returning
// the compacted form when it does.
func jsonObject(body string) ([]byte, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return nil, false
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SlackNotifier posts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookSender
}

func NewSlackNotifier(enc *crypto.Encryptor) *SlackNotifier {
	return &SlackNotifier{newWebhookSender(enc)}
}

func (n *SlackNotifier) Kind() string { return models.ChannelSlack }

func (n *SlackNotifier) Send(ctx context.Context, cred *models.Credential, msg Message) error {
	payload, err := json.Marshal(map[string]string{"text": msg.Body})
	if err != nil {
		return err
	}
	return n.post(ctx, cred, payload, "application/json")
}

// DiscordNotifier posts to a Discord webhook.
type DiscordNotifier struct {
	webhookSender
}

func NewDiscordNotifier(enc *crypto.Encryptor) *DiscordNotifier {
	return &DiscordNotifier{newWebhookSender(enc)}
}

func (n *DiscordNotifier) Kind() string { return models.ChannelDiscord }

func (n *DiscordNotifier) Send(ctx context.Context, cred *models.Credential, msg Message) error {
	payload, err := json.Marshal(map[string]string{"content": msg.Body})
	if err != nil {
		return err
	}
	return n.post(ctx, cred, payload, "application/json")
}

// WebhookNotifier posts to an arbitrary webhook. A rendered body that
// parses as a JSON object is sent as raw JSON, anything else as plain text.
type WebhookNotifier struct {
	webhookSender
}

func NewWebhookNotifier(enc *crypto.Encryptor) *WebhookNotifier {
	return &WebhookNotifier{newWebhookSender(enc)}
}

func (n *WebhookNotifier) Kind() string { return models.ChannelWebhook }

func (n *WebhookNotifier) Send(ctx context.Context, cred *models.Credential, msg Message) error {
	if obj, ok := jsonObject(msg.Body); ok {
		return n.post(ctx, cred, obj, "application/json")
	}
	return n.post(ctx, cred, []byte(msg.Body), "text/plain")
}
