package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/familienverein/meistereder/internal/models"
)

const dobLayout = "2006-01-02"

var (
	adminDays  = map[string]string{"monday": "Montag", "wednesday": "Mittwoch", "thursday": "Donnerstag"}
	adminTypes = map[string]string{"indoor": "Innenspielgruppe", "outdoor": "Waldspielgruppe"}
)

// FormatDOB turns YYYY-MM-DD into DD.MM.YYYY and leaves anything else as is.
func FormatDOB(dob string) string {
	t, err := time.Parse(dobLayout, dob)
	if err != nil {
		return dob
	}
	return t.Format("02.01.2006")
}

// Age renders the child's age at now as "X Jahre, Y Monate".
func Age(dob string, now time.Time) string {
	t, err := time.Parse(dobLayout, dob)
	if err != nil {
		return dob
	}
	months := (now.Year()-t.Year())*12 + int(now.Month()) - int(t.Month())
	if now.Day() < t.Day() {
		months--
	}
	if months < 0 {
		months = 0
	}
	return fmt.Sprintf("%d Jahre, %d Monate", months/12, months%12)
}

// TypesGerman is the subject line label for the booked playgroup types.
func TypesGerman(types []string) string {
	indoor, outdoor := false, false
	for _, t := range types {
		switch t {
		case "indoor":
			indoor = true
		case "outdoor":
			outdoor = true
		}
	}
	switch {
	case indoor && outdoor:
		return "Innen- und Waldspielgruppe"
	case indoor:
		return "Innenspielgruppe"
	case outdoor:
		return "Waldspielgruppe"
	}
	return "Spielgruppe"
}

func labelList(types []string, names map[string]string) string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		if n, ok := names[t]; ok {
			out = append(out, n)
		} else {
			out = append(out, t)
		}
	}
	return strings.Join(out, ", ")
}

// formatDays renders "Montag (Innenspielgruppe), Donnerstag (Waldspielgruppe)".
func formatDays(days []models.BookingDay, dayNames, typeNames map[string]string) string {
	out := make([]string, 0, len(days))
	for _, d := range days {
		day, ok := dayNames[d.Day]
		if !ok {
			day = capitalize(d.Day)
		}
		typ, ok := typeNames[d.Type]
		if !ok {
			typ = d.Type
		}
		out = append(out, fmt.Sprintf("%s (%s)", day, typ))
	}
	return strings.Join(out, ", ")
}

func channelLabel(ch models.Channel) string {
	switch ch {
	case models.ChannelEmail:
		return "E-Mail"
	case models.ChannelChat:
		return "Chat"
	case models.ChannelTelegram:
		return "Telegram"
	}
	return capitalize(string(ch))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func orDefault(s *string, def string) string {
	if v := models.Str(s); v != "" {
		return v
	}
	return def
}
