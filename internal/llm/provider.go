// Package llm talks to text-completion backends. The agent treats every
// backend as a black box: instructions plus ordered turns in, one text out.
package llm

import (
	"context"
	"errors"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

type Response struct {
	Text       string
	Model      string
	StopReason string
}

type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

var ErrEmptyResponse = errors.New("llm: empty response")

const defaultMaxTokens = 2048

func maxTokens(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
