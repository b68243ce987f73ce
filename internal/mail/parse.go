package mail

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	msgmail "github.com/emersion/go-message/mail"

	"github.com/familienverein/meistereder/internal/services"
)

// Incoming is a parsed inbound mail.
type Incoming struct {
	UID        uint32
	From       string // bare address as written by the sender
	Subject    string
	MessageID  string // without angle brackets
	InReplyTo  string
	References []string
	Date       time.Time
	RawBody    string // first text/plain part, decoded
	Body       string // RawBody without quoted history
	Header     msgmail.Header
}

// Parse reads one RFC 5322 message. Unknown charsets are tolerated.
func Parse(r io.Reader) (*Incoming, error) {
	mr, err := msgmail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	in := &Incoming{Header: mr.Header}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		in.From = from[0].Address
	} else {
		in.From = services.AddressOnly(mr.Header.Get("From"))
	}
	if s, err := mr.Header.Subject(); err == nil {
		in.Subject = s
	} else {
		in.Subject = mr.Header.Get("Subject")
	}
	in.MessageID, _ = mr.Header.MessageID()
	if ids, _ := mr.Header.MsgIDList("In-Reply-To"); len(ids) > 0 {
		in.InReplyTo = ids[0]
	}
	in.References, _ = mr.Header.MsgIDList("References")
	in.Date, _ = mr.Header.Date()

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			// Malformed bodies (broken bounces) still yield their headers.
			break
		}
		h, ok := p.Header.(*msgmail.InlineHeader)
		if !ok {
			continue
		}
		if t, _, _ := h.ContentType(); t != "" && t != "text/plain" {
			continue
		}
		b, err := io.ReadAll(p.Body)
		if err != nil {
			break
		}
		in.RawBody = normalizeNewlines(string(b))
		break
	}
	in.Body = StripQuoted(in.RawBody)
	return in, nil
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

var (
	separatorLine = regexp.MustCompile(`^(-{3,}|_{3,}|={3,})`)
	wroteEN       = regexp.MustCompile(`^On .+ wrote:$`)
	schriebDE     = regexp.MustCompile(`^Am .+ schrieb .+:$`)
)

// StripQuoted drops quoted lines and everything after the first reply
// separator so only the newly written text remains.
func StripQuoted(text string) string {
	var kept []string
	for _, line := range strings.Split(normalizeNewlines(text), "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, ">") {
			continue
		}
		if separatorLine.MatchString(t) ||
			wroteEN.MatchString(t) ||
			schriebDE.MatchString(t) ||
			strings.Contains(t, "-----Original Message-----") {
			break
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
