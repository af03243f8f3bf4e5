package qq

import (
	"fmt"
	"strconv"
)

// MessageEvent is one inbound message extracted from a webhook payload.
// The payload shape varies across channel, group, and direct messages, so
// most fields are best-effort.
type MessageEvent struct {
	EventID       string
	SenderID      string
	ChannelID     string
	GroupID       string
	Text          string
	IsSelfMessage bool
	Raw           map[string]any
}

// ParseEvent extracts a MessageEvent from a raw webhook payload. The event
// body usually sits under "d", but some delivery modes inline it at the top
// level. Sender and message fields are resolved across the known payload
// variants; a message is flagged as self when it originates from this bot,
// to prevent reply loops.
func (c *Client) ParseEvent(payload map[string]any) MessageEvent {
	data, ok := payload["d"].(map[string]any)
	if !ok {
		data = payload
	}

	author := asMap(data["author"])
	sender := asMap(data["sender"])

	senderID := firstString(
		author["id"],
		sender["user_id"],
		data["author_id"],
		data["user_id"],
	)

	eventID := firstString(payload["id"], data["id"], payload["event_id"])
	if eventID == "" {
		eventID = "unknown"
	}

	isBotTagged := truthy(author["bot"]) || truthy(sender["bot"])
	sourceBotID := firstString(payload["bot_appid"], payload["self_id"], data["self_id"])

	return MessageEvent{
		EventID:       eventID,
		SenderID:      senderID,
		ChannelID:     stringify(data["channel_id"]),
		GroupID:       firstString(data["group_openid"], data["group_id"]),
		Text:          firstString(data["content"], data["message"]),
		IsSelfMessage: senderID == c.botAccountID || sourceBotID == c.botAccountID || isBotTagged,
		Raw:           payload,
	}
}

func asMap(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}

	return m
}

// stringify renders payload values the way they are used as identifiers.
// JSON decoding turns numeric IDs into float64, so those are formatted
// without an exponent.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func firstString(values ...any) string {
	for _, v := range values {
		if s := stringify(v); s != "" {
			return s
		}
	}

	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}
