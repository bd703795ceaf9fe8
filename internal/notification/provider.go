package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelPush     Channel = "push"
	ChannelWhatsApp Channel = "whatsapp"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelPush, ChannelWhatsApp:
		return true
	}
	return false
}

// Message is one dispatch to a provider.
type Message struct {
	Channel    Channel        `json:"channel"`
	Recipients []string       `json:"recipients"`
	Message    string         `json:"message,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Body       string         `json:"body,omitempty"`
	Title      string         `json:"title,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	TaskID     string         `json:"taskId,omitempty"`
}

// Receipt is what a provider reports after accepting a message.
type Receipt struct {
	Channel    Channel   `json:"channel"`
	MessageID  string    `json:"messageId"`
	Recipients int       `json:"recipients"`
	SentAt     time.Time `json:"sentAt"`
	Simulated  bool      `json:"simulated,omitempty"`
}

type Provider interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// LogProvider only logs messages. It stands in until a real provider is configured.
type LogProvider struct {
	log *slog.Logger
}

func NewLogProvider(logger *slog.Logger) *LogProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProvider{log: logger}
}

func (p *LogProvider) Send(_ context.Context, msg Message) (Receipt, error) {
	r := Receipt{
		Channel:    msg.Channel,
		MessageID:  uuid.NewString(),
		Recipients: len(msg.Recipients),
		SentAt:     time.Now().UTC(),
		Simulated:  true,
	}
	p.log.Info("notification sent (simulated)", "channel", msg.Channel, "recipients", len(msg.Recipients),
		"message_id", r.MessageID, "task_id", msg.TaskID)
	return r, nil
}

// WebhookProvider posts each message as JSON to a relay that talks to the
// SMS, email, push and WhatsApp vendors.
type WebhookProvider struct {
	url        string
	httpClient *http.Client
}

func NewWebhookProvider(url string, client *http.Client) *WebhookProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookProvider{url: url, httpClient: client}
}

func (p *WebhookProvider) Send(ctx context.Context, msg Message) (Receipt, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("call notification relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, fmt.Errorf("notification relay returned status %d", resp.StatusCode)
	}

	var out struct {
		MessageID string `json:"messageId"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.MessageID == "" {
		out.MessageID = uuid.NewString()
	}
	return Receipt{
		Channel:    msg.Channel,
		MessageID:  out.MessageID,
		Recipients: len(msg.Recipients),
		SentAt:     time.Now().UTC(),
	}, nil
}
