// Package mail is the email channel: it composes and sends outbound mail,
// polls the inbox, parses inbound messages and keeps bounces and
// auto-replies away from the agent.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	msgmail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is one outbound mail.
type Message struct {
	From        string
	To          []string
	Cc          []string
	ReplyTo     string
	Subject     string
	Body        string
	MessageID   string // without angle brackets; generated when empty
	InReplyTo   string
	References  []string
	AutoReply   bool // marks the mail Auto-Submitted: auto-replied
	Attachments []Attachment
}

// Recipients returns To and Cc without duplicates, in order.
func (m Message) Recipients() []string {
	seen := make(map[string]struct{}, len(m.To)+len(m.Cc))
	var out []string
	for _, list := range [][]string{m.To, m.Cc} {
		for _, a := range list {
			key := strings.ToLower(strings.TrimSpace(a))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, strings.TrimSpace(a))
		}
	}
	return out
}

// Sender delivers composed messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewMessageID returns a fresh id for the given sender's domain.
func NewMessageID(from string) string {
	domain := "meistereder.local"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return uuid.NewString() + "@" + domain
}

// Compose renders msg as an RFC 5322 message with UTF-8 text and base64
// attachments.
func Compose(msg Message, now time.Time) ([]byte, error) {
	var h msgmail.Header
	h.SetDate(now)
	from, err := addressList([]string{msg.From})
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	h.SetAddressList("From", from)
	to, err := addressList(msg.To)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	h.SetAddressList("To", to)
	if len(msg.Cc) > 0 {
		cc, err := addressList(msg.Cc)
		if err != nil {
			return nil, fmt.Errorf("cc: %w", err)
		}
		h.SetAddressList("Cc", cc)
	}
	if msg.ReplyTo != "" {
		rt, err := addressList([]string{msg.ReplyTo})
		if err != nil {
			return nil, fmt.Errorf("reply-to: %w", err)
		}
		h.SetAddressList("Reply-To", rt)
	}
	h.SetSubject(msg.Subject)

	id := msg.MessageID
	if id == "" {
		id = NewMessageID(msg.From)
	}
	h.SetMessageID(trimID(id))
	if msg.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{trimID(msg.InReplyTo)})
	}
	if len(msg.References) > 0 {
		refs := make([]string, 0, len(msg.References))
		for _, r := range msg.References {
			if r = trimID(r); r != "" {
				refs = append(refs, r)
			}
		}
		h.SetMsgIDList("References", refs)
	}
	if msg.AutoReply {
		h.Set("Auto-Submitted", "auto-replied")
	}

	var buf bytes.Buffer
	if len(msg.Attachments) == 0 {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := msgmail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, msg.Body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw, err := msgmail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	var th msgmail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(tw, msg.Body); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	for _, a := range msg.Attachments {
		var ah msgmail.AttachmentHeader
		ah.SetContentType(a.ContentType, nil)
		ah.SetFilename(a.Filename)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, err
		}
		if _, err := aw.Write(a.Data); err != nil {
			return nil, err
		}
		if err := aw.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addressList(raw []string) ([]*msgmail.Address, error) {
	out := make([]*msgmail.Address, 0, len(raw))
	for _, r := range raw {
		a, err := msgmail.ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", r, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func trimID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
