package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/familienverein/meistereder/internal/models"
)

type Intent string

const (
	IntentQuestion Intent = "question"
	IntentUpdate   Intent = "update"
	IntentNewChild Intent = "new_child"
)

var (
	fencedJSON  = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n(.*?)\\n```\\s*$")
	braceObject = regexp.MustCompile(`(?s)\{.*\}`)
)

// Parse extracts the JSON object from raw model output. It tries a fenced
// block spanning the whole text, then the whole text, then the widest
// brace-delimited substring. When none decodes it returns a fallback whose
// reply is the raw text itself. Parse never fails.
func Parse(raw string) map[string]any {
	obj, _ := parse(raw)
	return obj
}

// parse is Parse that also reports whether the fallback was used.
func parse(raw string) (map[string]any, bool) {
	text := strings.TrimSpace(raw)
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if obj, ok := decodeObject(text); ok {
		return obj, false
	}
	if sub := braceObject.FindString(text); sub != "" {
		if obj, ok := decodeObject(sub); ok {
			return obj, false
		}
	}
	return fallbackParse(raw), true
}

func fallbackParse(raw string) map[string]any {
	return map[string]any{
		"reply":                 raw,
		"updates":               map[string]any{},
		"next_step":             string(models.StepGreeting),
		"registration_complete": false,
		"language":              string(models.LangDE),
		"intent":                string(IntentQuestion),
	}
}

func decodeObject(s string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	// Reject trailing garbage the way a strict parser would.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return obj, true
}

// TurnResult is the typed view of one model answer.
type TurnResult struct {
	Reply                string
	Updates              map[string]any
	NextStep             models.FlowStep
	RegistrationComplete bool
	Language             models.Language
	Intent               Intent
}

// Decode coerces a parsed object into a TurnResult. Missing or wrong-typed
// keys fall back to the conversation's current step and language.
func Decode(parsed map[string]any, conv *models.Conversation) TurnResult {
	res := TurnResult{
		Updates:  map[string]any{},
		NextStep: conv.FlowStep,
		Language: conv.Language,
		Intent:   IntentQuestion,
	}
	if s, ok := parsed["reply"].(string); ok {
		res.Reply = s
	}
	if u, ok := parsed["updates"].(map[string]any); ok {
		res.Updates = u
	}
	if s, ok := parsed["next_step"].(string); ok {
		if step, ok := models.ParseFlowStep(strings.TrimSpace(s)); ok {
			res.NextStep = step
		}
	}
	switch v := parsed["registration_complete"].(type) {
	case bool:
		res.RegistrationComplete = v
	case string:
		res.RegistrationComplete = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if s, ok := parsed["language"].(string); ok {
		if lang, ok := models.ParseLanguage(strings.ToLower(strings.TrimSpace(s))); ok {
			res.Language = lang
		}
	}
	if s, ok := parsed["intent"].(string); ok {
		switch Intent(strings.ToLower(strings.TrimSpace(s))) {
		case IntentUpdate:
			res.Intent = IntentUpdate
		case IntentNewChild:
			res.Intent = IntentNewChild
		}
	}
	return res
}

// HasValues reports whether at least one update carries a non-null value.
func HasValues(updates map[string]any) bool {
	for _, v := range updates {
		if v != nil {
			return true
		}
	}
	return false
}

// ApplyUpdates writes every non-null update into the conversation's
// registration. Unknown paths are logged and skipped.
func ApplyUpdates(conv *models.Conversation, updates map[string]any, log zerolog.Logger) {
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := updates[k]
		if v == nil {
			continue
		}
		path, ok := ParseFieldPath(k)
		if !ok {
			log.Debug().Str("path", k).Msg("ignoring unknown update path")
			continue
		}
		next, applied := ApplyField(conv.Registration, path, v)
		if !applied {
			log.Debug().Str("path", k).Str("type", fmt.Sprintf("%T", v)).Msg("ignoring update with unusable value")
			continue
		}
		conv.Registration = next
		if path == FieldParentFullName {
			conv.ParentName = models.Str(next.ParentGuardian.FullName)
		}
	}
}

// ApplyField returns r with one field replaced. The bool is false when the
// value does not fit the field, in which case r is returned unchanged.
func ApplyField(r models.Registration, path FieldPath, value any) (models.Registration, bool) {
	switch path {
	case FieldBookingPlaygroupTypes:
		list, ok := value.([]any)
		if !ok {
			return r, false
		}
		types := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := scalarString(item); ok {
				types = append(types, s)
			}
		}
		r.Booking.PlaygroupTypes = types
		return r, true

	case FieldBookingSelectedDays:
		list, ok := value.([]any)
		if !ok {
			return r, false
		}
		days := make([]models.BookingDay, 0, len(list))
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			day, okDay := scalarString(entry["day"])
			typ, okType := scalarString(entry["type"])
			if !okDay || !okType {
				continue
			}
			days = append(days, models.BookingDay{Day: day, Type: typ})
		}
		r.Booking.SelectedDays = days
		return r, true
	}

	s, ok := scalarString(value)
	if !ok {
		return r, false
	}
	p := &s
	switch path {
	case FieldChildFullName:
		r.Child.FullName = p
	case FieldChildDateOfBirth:
		r.Child.DateOfBirth = p
	case FieldChildSpecialNeeds:
		r.Child.SpecialNeeds = p
	case FieldParentFullName:
		r.ParentGuardian.FullName = p
	case FieldParentStreetAddress:
		r.ParentGuardian.StreetAddress = p
	case FieldParentPostalCode:
		r.ParentGuardian.PostalCode = p
	case FieldParentCity:
		r.ParentGuardian.City = p
	case FieldParentPhone:
		r.ParentGuardian.Phone = p
	case FieldParentEmail:
		r.ParentGuardian.Email = p
	case FieldEmergencyFullName:
		r.EmergencyContact.FullName = p
	case FieldEmergencyPhone:
		r.EmergencyContact.Phone = p
	default:
		return r, false
	}
	return r, true
}

// scalarString turns JSON scalars into text; postal codes in particular
// often arrive as bare numbers.
func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// registrationJSON renders the record for the system prompt.
func registrationJSON(r models.Registration) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "{}"
	}
	return strings.TrimSpace(buf.String())
}
