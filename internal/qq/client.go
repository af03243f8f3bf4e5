package qq

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/logging"
)

const (
	// defaultSendTimeout bounds one outbound API call.
	defaultSendTimeout = 10 * time.Second

	// DefaultMaxRetries is how many extra attempts a send gets after a
	// transient failure (network error or 5xx).
	DefaultMaxRetries = 2

	// DefaultRetryBackoff is the pause between send attempts.
	DefaultRetryBackoff = 500 * time.Millisecond

	// signatureHeader carries the webhook callback signature.
	signatureHeader = "X-Signature"
)

// Options configures a Client. Zero-value retry fields fall back to
// defaults; an empty CallbackSecret disables signature verification.
type Options struct {
	Logger         *slog.Logger
	BotAccountID   string
	BotToken       string
	BaseURL        string
	CallbackSecret string
	MaxRetries     int
	RetryBackoff   time.Duration
	HTTPClient     *http.Client
}

// Client sends messages through the QQ bot REST API on behalf of one bot
// account.
type Client struct {
	log            *slog.Logger
	botAccountID   string
	botToken       string
	baseURL        string
	callbackSecret string
	maxRetries     int
	retryBackoff   time.Duration
	httpClient     *http.Client
}

// NewClient creates a Client for the given bot credentials and API base
// URL (for example https://api.sgroup.qq.com).
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultSendTimeout}
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	retryBackoff := opts.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = DefaultRetryBackoff
	}

	return &Client{
		log:            log.With("component", "qq_client"),
		botAccountID:   opts.BotAccountID,
		botToken:       opts.BotToken,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		callbackSecret: opts.CallbackSecret,
		maxRetries:     maxRetries,
		retryBackoff:   retryBackoff,
		httpClient:     httpClient,
	}
}

// VerifyCallbackSignature checks the X-Signature header against a
// hex-encoded HMAC-SHA256 of the raw request body, keyed by the callback
// secret. When no secret is configured verification is skipped and every
// payload is accepted.
func (c *Client) VerifyCallbackSignature(body []byte, header http.Header) bool {
	if c.callbackSecret == "" {
		return true
	}

	signature := header.Get(signatureHeader)
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(c.callbackSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// SendMessage delivers content back to the origin of event, picking the
// channel, group, or direct-user endpoint from the event's fields.
//
// The HTTP status and response body are returned as data rather than an
// error: the bridge reports the platform's answer to its own caller, and a
// 4xx from QQ is an answer, not a transport failure. Transient failures
// (network errors and 5xx) are retried with backoff before the final
// outcome is returned; network failures end up as status 0 with the error
// text as the payload.
func (c *Client) SendMessage(event MessageEvent, content string) (int, string) {
	body := map[string]any{"content": content}

	var path string

	switch {
	case event.ChannelID != "":
		path = "/channels/" + event.ChannelID + "/messages"
	case event.GroupID != "":
		path = "/v2/groups/" + event.GroupID + "/messages"
	default:
		path = "/v2/users/" + event.SenderID + "/messages"
	}

	status, payload := c.postJSON(path, body)
	c.log.Info("outgoing qq message finished",
		"event_id", event.EventID,
		"status_code", status,
		"response_preview", Truncate(payload, 300))

	return status, payload
}

// postJSON posts body to path, retrying transient failures up to
// maxRetries extra attempts. Status 0 means the request never reached the
// server.
func (c *Client) postJSON(path string, body any) (int, string) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, err.Error()
	}

	var (
		status  int
		payload string
	)

	for attempt := 0; ; attempt++ {
		status, payload = c.doPost(path, encoded)

		if status >= http.StatusContinue && status < http.StatusInternalServerError {
			return status, payload
		}

		if attempt >= c.maxRetries {
			return status, payload
		}

		c.log.Warn("qq api request failed, retrying",
			"path", path, "status_code", status, "attempt", attempt+1)
		time.Sleep(c.retryBackoff)
	}
}

func (c *Client) doPost(path string, encoded []byte) (int, string) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, err.Error()
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bot %s.%s", c.botAccountID, c.botToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("qq api request failed", "error", err, "path", path)

		return 0, err.Error()
	}

	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err.Error()
	}

	return resp.StatusCode, string(payload)
}

// Truncate caps s at n bytes. Used for logging previews and for the
// response excerpt echoed back to the webhook caller.
func Truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}

	return s
}
