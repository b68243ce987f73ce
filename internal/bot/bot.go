// Package bot is the Telegram channel: a small Bot API client and the
// dispatcher that turns webhook updates into agent turns.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	// Telegram rejects longer texts.
	maxMessageRunes = 4096
)

type Client struct {
	http *resty.Client
}

type ClientOption func(*Client)

func WithAPIBase(url string) ClientOption {
	return func(c *Client) {
		if u := strings.TrimRight(strings.TrimSpace(url), "/"); u != "" {
			c.http.SetBaseURL(u)
		}
	}
}

func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(defaultAPIBase).
			SetPathParam("token", strings.TrimSpace(token)).
			SetHeader("Content-Type", "application/json").
			SetTimeout(10 * time.Second),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		SetError(&out).
		Post("/bot{token}/" + method)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	if resp.IsError() || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = resp.Status()
		}
		return fmt.Errorf("telegram %s: %s", method, desc)
	}
	return nil
}

// SendMessage posts plain text, split into several messages when it is
// longer than Telegram allows.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, part := range splitText(text, maxMessageRunes) {
		err := c.call(ctx, "sendMessage", map[string]any{
			"chat_id": chatID,
			"text":    part,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SetWebhook registers url (including its secret) with Telegram.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	return c.call(ctx, "setWebhook", map[string]any{
		"url":             url,
		"allowed_updates": []string{"message"},
	})
}

// splitText cuts at line breaks where possible.
func splitText(text string, limit int) []string {
	r := []rune(text)
	if len(r) <= limit {
		return []string{text}
	}
	var parts []string
	for len(r) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if r[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(r[:cut]))
		r = r[cut:]
	}
	if len(r) > 0 {
		parts = append(parts, string(r))
	}
	return parts
}
