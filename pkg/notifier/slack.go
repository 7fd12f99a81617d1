package notifier

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// SlackProvider posts events to a Slack channel via a bot token, adapted
// from the chat-ops notifier's PostMessageContext pattern.
type SlackProvider struct {
	client *goslack.Client
	log    *slog.Logger
}

// NewSlackProvider constructs a SlackProvider. If botToken is empty the
// provider is a no-op — Deliver logs and returns nil rather than erroring,
// so a tenant without Slack configured doesn't fail other channels' fan-out.
func NewSlackProvider(botToken string, log *slog.Logger) *SlackProvider {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackProvider{client: client, log: log}
}

func (p *SlackProvider) Name() string { return "slack" }

// Deliver posts ev to the Slack channel named by target.
func (p *SlackProvider) Deliver(ctx context.Context, target string, ev Event) error {
	if p.client == nil {
		p.log.Debug("slack provider disabled, skipping", "service", ev.ServiceName, "event", ev.Type)
		return nil
	}

	color := "#36a64f"
	if ev.Type == EventIncidentStarted {
		color = "#e01e5a"
	}

	attachment := goslack.Attachment{
		Color: color,
		Title: fmt.Sprintf("%s: %s", ev.ServiceName, ev.Type),
		Text:  ev.Incident.Reason,
	}
	opts := []goslack.MsgOption{
		goslack.MsgOptionAttachments(attachment),
		goslack.MsgOptionText(fmt.Sprintf("%s: %s", ev.ServiceName, ev.Type), false),
	}

	_, _, err := p.client.PostMessageContext(ctx, target, opts...)
	if err != nil {
		return fmt.Errorf("posting to slack channel %s: %w", target, err)
	}
	return nil
}
