package mail

import (
	"fmt"
	"strings"
)

var automatedLocalParts = []string{
	"mailer-daemon",
	"postmaster",
	"noreply",
	"no-reply",
	"donotreply",
	"bounce",
}

var automatedSubjects = []string{
	"undelivered",
	"delivery failed",
	"delivery status notification",
	"returned mail",
	"out of office",
	"abwesenheitsnotiz",
	"automatische antwort",
	"auto-reply",
	"autoreply",
}

// DetectAutomated reports whether in was produced by a machine (bounce,
// vacation reply, mailing list robot). The reason names what matched.
func DetectAutomated(in *Incoming) (bool, string) {
	local := strings.ToLower(in.From)
	if i := strings.LastIndex(local, "@"); i >= 0 {
		local = local[:i]
	}
	for _, p := range automatedLocalParts {
		if strings.Contains(local, p) {
			return true, fmt.Sprintf("sender %s matches automated address pattern %q", in.From, p)
		}
	}

	h := in.Header
	if v := strings.ToLower(strings.TrimSpace(h.Get("Auto-Submitted"))); v != "" && v != "no" {
		return true, fmt.Sprintf("Auto-Submitted: %s", v)
	}
	if v := h.Get("X-Auto-Response-Suppress"); v != "" {
		return true, fmt.Sprintf("X-Auto-Response-Suppress: %s", v)
	}
	if t, _, _ := h.ContentType(); t == "multipart/report" {
		return true, "Content-Type: multipart/report"
	}
	if v := h.Get("X-Loop"); v != "" {
		return true, fmt.Sprintf("X-Loop: %s", v)
	}
	switch v := strings.ToLower(strings.TrimSpace(h.Get("Precedence"))); v {
	case "bulk", "junk":
		return true, fmt.Sprintf("Precedence: %s", v)
	}

	subject := strings.ToLower(in.Subject)
	for _, p := range automatedSubjects {
		if strings.Contains(subject, p) {
			return true, fmt.Sprintf("subject %q looks automated", in.Subject)
		}
	}
	return false, ""
}
