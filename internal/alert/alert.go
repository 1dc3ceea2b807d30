// Package alert notifies an ops Slack channel when an instance lands in
// the terminal error state.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/zaplink/zaplink/internal/instance"
)

// Poster is the slice of the Slack API the alerter needs.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackAlerter is a store listener that posts a message whenever an agent
// enters ERROR. Nil receivers are safe no-ops so wiring stays unconditional.
type SlackAlerter struct {
	client  Poster
	channel string
}

// NewSlackAlerter returns nil when the token or channel is unset, which
// disables alerting.
func NewSlackAlerter(token, channel string) *SlackAlerter {
	if token == "" || channel == "" {
		return nil
	}
	return &SlackAlerter{client: slack.New(token), channel: channel}
}

func (a *SlackAlerter) OnTransition(from instance.State, rec instance.Record) {
	if a == nil || rec.State != instance.StateError || from == instance.StateError {
		return
	}
	text := fmt.Sprintf(":rotating_light: WhatsApp instance `%s` (agent %s) entered ERROR from %s. Gateway status: %q. Delete and recreate to recover.",
		rec.InstanceName, rec.AgentID, from, rec.RawStatus)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, _, err := a.client.PostMessageContext(ctx, a.channel, slack.MsgOptionText(text, false)); err != nil {
			slog.Warn("Slack alert failed", "agent_id", rec.AgentID, "error", err)
		}
	}()
}

func (a *SlackAlerter) OnDelete(agentID string) {}
