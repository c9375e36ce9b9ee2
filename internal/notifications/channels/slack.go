package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/recovery-orchestrator/internal/notifications"
	"github.com/NikhilSetiya/recovery-orchestrator/internal/recovery"
)

// SlackConfig configures the Slack webhook channel
type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
}

// SlackHandler implements notification sending to Slack
type SlackHandler struct {
	config     SlackConfig
	logger     *zap.Logger
	httpClient *http.Client
	now        func() time.Time
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Username    string            `json:"username,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackHandler creates a new Slack notification handler
func NewSlackHandler(config SlackConfig, logger *zap.Logger) *SlackHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlackHandler{
		config: config,
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// Name returns "slack"
func (h *SlackHandler) Name() string {
	return "slack"
}

// Send posts message to the webhook
func (h *SlackHandler) Send(ctx context.Context, message notifications.Message) error {
	if h.config.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	payload, err := json.Marshal(h.buildSlackMessage(message))
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.WebhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	h.logger.Info("Successfully sent Slack notification",
		zap.String("event", string(message.Event)),
		zap.String("webhook_url", maskWebhookURL(h.config.WebhookURL)))

	return nil
}

func (h *SlackHandler) buildSlackMessage(message notifications.Message) SlackMessage {
	slackMessage := SlackMessage{
		Text:      message.Subject,
		Username:  h.config.Username,
		Channel:   h.config.Channel,
		IconEmoji: iconFor(message.Severity),
	}

	attachment := SlackAttachment{
		Color:     colorFor(message.Event),
		Text:      message.Body,
		Footer:    "Recovery Orchestrator",
		Timestamp: h.now().Unix(),
	}

	keys := make([]string, 0, len(message.Metadata))
	for k := range message.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attachment.Fields = append(attachment.Fields, SlackField{
			Title: k,
			Value: fmt.Sprintf("%v", message.Metadata[k]),
			Short: true,
		})
	}

	slackMessage.Attachments = []SlackAttachment{attachment}
	return slackMessage
}

func iconFor(severity recovery.Severity) string {
	switch severity {
	case recovery.SeverityCritical:
		return ":rotating_light:"
	case recovery.SeverityHigh:
		return ":warning:"
	case recovery.SeverityMedium, recovery.SeverityLow:
		return ":information_source:"
	default:
		return ":robot_face:"
	}
}

func colorFor(event notifications.EventType) string {
	switch event {
	case notifications.EventCriticalError, notifications.EventBreakerOpened:
		return "danger"
	case notifications.EventBreakerClosed:
		return "good"
	default:
		return "#36a64f"
	}
}

// maskWebhookURL masks the webhook URL for logging
func maskWebhookURL(url string) string {
	if len(url) < 20 {
		return "***"
	}
	return url[:20] + "***"
}
