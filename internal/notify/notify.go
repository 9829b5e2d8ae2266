// Package notify posts short run summaries to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seenimoa/reportalpha/internal/infra"
)

type textMessage struct {
	MsgType string      `json:"msg_type"`
	Content textContent `json:"content"`
}

type textContent struct {
	Text string `json:"text"`
}

// webhookReply is the bot acknowledgement; a nonzero code is a rejection.
type webhookReply struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Webhook sends text messages to a custom bot endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook returns a notifier for url. An empty url yields a notifier
// whose Send does nothing.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

// Enabled reports whether a webhook URL is configured.
func (w *Webhook) Enabled() bool {
	return w != nil && w.url != ""
}

// Send posts text as a plain text message.
func (w *Webhook) Send(ctx context.Context, text string) error {
	if !w.Enabled() {
		return nil
	}
	data, err := json.Marshal(textMessage{MsgType: "text", Content: textContent{Text: text}})
	if err != nil {
		return fmt.Errorf("marshal webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read webhook response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return &infra.ErrHTTP{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	var reply webhookReply
	if len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &reply) == nil && reply.Code != 0 {
		return fmt.Errorf("webhook rejected message: code %d: %s", reply.Code, reply.Msg)
	}
	return nil
}
