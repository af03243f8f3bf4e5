// Package server exposes the QQ webhook over HTTP and bridges inbound
// messages to per-sender Claude sessions.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/qq"
)

// responsePreviewLimit caps how much of the QQ API response is echoed back
// to the webhook caller.
const responsePreviewLimit = 500

// Asker answers one prompt for a session key.
type Asker interface {
	Ask(sessionKey, prompt string) (string, error)
}

// Messenger authenticates inbound payloads, parses them, and delivers
// replies to their origin.
type Messenger interface {
	VerifyCallbackSignature(body []byte, header http.Header) bool
	ParseEvent(payload map[string]any) qq.MessageEvent
	SendMessage(event qq.MessageEvent, content string) (int, string)
}

// Result is the JSON document returned to the webhook caller.
type Result struct {
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	EventID        string `json:"event_id"`
	SessionKey     string `json:"session_key,omitempty"`
	QQSendStatus   int    `json:"qq_send_status,omitempty"`
	QQSendResponse string `json:"qq_send_response,omitempty"`
}

// Bridge coordinates QQ event ingestion with per-user Claude sessions.
type Bridge struct {
	log    *slog.Logger
	qq     Messenger
	claude Asker
}

// NewBridge wires a Bridge from its two collaborators.
func NewBridge(log *slog.Logger, messenger Messenger, asker Asker) *Bridge {
	return &Bridge{
		log:    log.With("component", "bridge"),
		qq:     messenger,
		claude: asker,
	}
}

// HandleEvent processes one webhook payload end to end: parse, filter,
// ask the sender's Claude session, send the reply back through QQ.
//
// Self messages and messages without a sender or text are ignored rather
// than failed, so the platform does not retry them. A session error is
// returned to the caller; the request is never silently dropped.
func (b *Bridge) HandleEvent(payload map[string]any) (Result, error) {
	event := b.qq.ParseEvent(payload)
	b.log.Info("incoming qq event", "event_id", event.EventID)

	if event.IsSelfMessage {
		b.log.Info("ignoring bot self message to prevent reply loop",
			"event_id", event.EventID, "sender_id", event.SenderID)

		return Result{Status: "ignored", Reason: "self_message", EventID: event.EventID}, nil
	}

	if event.SenderID == "" || strings.TrimSpace(event.Text) == "" {
		return Result{Status: "ignored", Reason: "empty_sender_or_text", EventID: event.EventID}, nil
	}

	sessionKey := event.SenderID
	b.log.Info("routing qq message to claude session",
		"event_id", event.EventID, "session_key", sessionKey)

	reply, err := b.claude.Ask(sessionKey, event.Text)
	if err != nil {
		return Result{}, fmt.Errorf("ask claude session %q: %w", sessionKey, err)
	}

	sendStatus, sendResponse := b.qq.SendMessage(event, reply)

	return Result{
		Status:         "ok",
		EventID:        event.EventID,
		SessionKey:     sessionKey,
		QQSendStatus:   sendStatus,
		QQSendResponse: qq.Truncate(sendResponse, responsePreviewLimit),
	}, nil
}
