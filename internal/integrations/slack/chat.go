package slackbot

import (
	"fmt"
	"log"
	"strings"

	"github.com/slack-go/slack"
)

// Chat is the slice of the Slack Web API the dispatcher needs.
type Chat interface {
	PostMessage(channel, threadTS, text string) error
	PostEphemeral(channel, userID, text string) error
	AddReaction(channel, ts, name string) error
	RemoveReaction(channel, ts, name string) error
	// ThreadContext returns the earlier messages of a thread, oldest first,
	// excluding the message at ts.
	ThreadContext(channel, threadTS, ts string) (string, error)
}

type slackChat struct {
	api *slack.Client
}

func NewChat(api *slack.Client) Chat {
	return &slackChat{api: api}
}

func (c *slackChat) PostMessage(channel, threadTS, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, _, err := c.api.PostMessage(channel, opts...)
	return err
}

func (c *slackChat) PostEphemeral(channel, userID, text string) error {
	_, err := c.api.PostEphemeral(channel, userID, slack.MsgOptionText(text, false))
	return err
}

func (c *slackChat) AddReaction(channel, ts, name string) error {
	return c.api.AddReaction(name, slack.NewRefToMessage(channel, ts))
}

func (c *slackChat) RemoveReaction(channel, ts, name string) error {
	return c.api.RemoveReaction(name, slack.NewRefToMessage(channel, ts))
}

const (
	threadContextMessages = 10
	threadPageSize        = 200
	threadMaxPages        = 10
)

// ThreadContext walks the thread up to ts; replies come back oldest first,
// so only the tail of the last page matters.
func (c *slackChat) ThreadContext(channel, threadTS, ts string) (string, error) {
	params := &slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: threadTS,
		Latest:    ts,
		Inclusive: false,
		Limit:     threadPageSize,
	}
	var lines []string
	for page := 0; page < threadMaxPages; page++ {
		msgs, hasMore, cursor, err := c.api.GetConversationReplies(params)
		if err != nil {
			return "", fmt.Errorf("conversations.replies: %w", err)
		}
		for _, m := range msgs {
			if !tsBefore(m.Timestamp, ts) {
				continue
			}
			text := strings.TrimSpace(mentionPattern.ReplaceAllString(m.Text, ""))
			if text == "" {
				continue
			}
			lines = append(lines, text)
		}
		if len(lines) > threadContextMessages {
			lines = lines[len(lines)-threadContextMessages:]
		}
		if !hasMore || cursor == "" {
			break
		}
		params.Cursor = cursor
	}
	return strings.Join(lines, "\n"), nil
}

// tsBefore compares Slack timestamps ("seconds.micros") numerically.
func tsBefore(a, b string) bool {
	as, af, _ := strings.Cut(a, ".")
	bs, bf, _ := strings.Cut(b, ".")
	if len(as) != len(bs) {
		return len(as) < len(bs)
	}
	if as != bs {
		return as < bs
	}
	for len(af) < len(bf) {
		af += "0"
	}
	for len(bf) < len(af) {
		bf += "0"
	}
	return af < bf
}

// The helpers below never fail the caller; Slack errors are logged only.

func postMessage(chat Chat, channel, threadTS, text string) {
	if err := chat.PostMessage(channel, threadTS, text); err != nil {
		log.Printf("slack post error channel=%s ts=%s: %v", channel, threadTS, err)
	}
}

func addReaction(chat Chat, channel, ts, name string) {
	if err := chat.AddReaction(channel, ts, name); err != nil {
		log.Printf("slack add reaction error name=%s channel=%s ts=%s: %v", name, channel, ts, err)
	}
}

func removeReaction(chat Chat, channel, ts, name string) {
	if err := chat.RemoveReaction(channel, ts, name); err != nil {
		log.Printf("slack remove reaction error name=%s channel=%s ts=%s: %v", name, channel, ts, err)
	}
}
