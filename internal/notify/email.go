// Package notify delivers the staff and parent notifications raised by the
// agent: mails to the playgroup admins, the parent confirmation with its
// payment QR code and Telegram alerts.
package notify

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/familienverein/meistereder/internal/events"
	"github.com/familienverein/meistereder/internal/mail"
	"github.com/familienverein/meistereder/internal/models"
	"github.com/familienverein/meistereder/internal/services"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// Routing decides who hears about what.
type Routing struct {
	From    string   // sender address of all notifications
	Indoor  string   // admin of the indoor playgroup
	Outdoor string   // admin of the forest playgroup
	CC      []string // always copied; the only recipients of loop warnings
}

// EmailNotifier implements agent.Notifier on top of a mail.Sender.
type EmailNotifier struct {
	sender mail.Sender
	route  Routing
	log    zerolog.Logger
	now    func() time.Time
}

func NewEmailNotifier(s mail.Sender, route Routing, log zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		sender: s,
		route:  route,
		log:    log.With().Str("component", "notify").Logger(),
		now:    time.Now,
	}
}

// adminRecipients returns To by booked type. With nothing routable the CC
// list takes over so the mail is never dropped.
func (n *EmailNotifier) adminRecipients(reg models.Registration) (to, cc []string) {
	if reg.HasType("indoor") && n.route.Indoor != "" {
		to = append(to, n.route.Indoor)
	}
	if reg.HasType("outdoor") && n.route.Outdoor != "" {
		to = append(to, n.route.Outdoor)
	}
	if len(to) == 0 {
		return n.route.CC, nil
	}
	return to, n.route.CC
}

func (n *EmailNotifier) NotifyAdmin(ctx context.Context, ev events.RegistrationSubmitted) error {
	reg := ev.Registration
	to, cc := n.adminRecipients(reg)
	if len(to) == 0 {
		return errors.New("no admin recipients configured")
	}
	now := n.now().UTC()

	data := adminNewData{
		SubmittedDate:  now.Format("02.01.2006"),
		SubmittedTime:  now.Format("15:04"),
		Channel:        channelLabel(ev.Channel),
		RegistrationID: ev.RegistrationID,
		Version:        ev.Version,
		ChildDOB:       FormatDOB(models.Str(reg.Child.DateOfBirth)),
		ChildAge:       Age(models.Str(reg.Child.DateOfBirth), now),
		ChildNeeds:     orDefault(reg.Child.SpecialNeeds, "Keine"),
		OneTimeFees:    services.FormatCHF(services.OneTimeFees(reg)),
		EmergencyName:  models.Str(reg.EmergencyContact.FullName),
		EmergencyPhone: models.Str(reg.EmergencyContact.Phone),
		bookingData:    newBookingData(reg),
	}
	body, err := render("admin_new.tmpl", data)
	if err != nil {
		return err
	}
	return n.send(ctx, mail.Message{
		From:    n.route.From,
		To:      to,
		Cc:      cc,
		ReplyTo: models.Str(reg.ParentGuardian.Email),
		Subject: fmt.Sprintf("Neue Anmeldung: %s für %s", data.ChildName, data.Types),
		Body:    body,
	})
}

func (n *EmailNotifier) NotifyRegistrationUpdate(ctx context.Context, ev events.RegistrationUpdated) error {
	reg := ev.Registration
	to, cc := n.adminRecipients(reg)
	if len(to) == 0 {
		return errors.New("no admin recipients configured")
	}
	now := n.now().UTC()

	data := adminUpdateData{
		UpdatedDate:    now.Format("02.01.2006"),
		UpdatedTime:    now.Format("15:04"),
		RegistrationID: ev.RegistrationID,
		Version:        ev.Version,
		Changes:        changeLines(ev.Changes),
		bookingData:    newBookingData(reg),
	}
	body, err := render("admin_update.tmpl", data)
	if err != nil {
		return err
	}
	return n.send(ctx, mail.Message{
		From:    n.route.From,
		To:      to,
		Cc:      cc,
		ReplyTo: models.Str(reg.ParentGuardian.Email),
		Subject: fmt.Sprintf("Anmeldung aktualisiert: %s (Version %d)", data.ChildName, ev.Version),
		Body:    body,
	})
}

func (n *EmailNotifier) NotifyParent(ctx context.Context, ev events.ParentConfirmation) error {
	reg := ev.Registration
	to := models.Str(reg.ParentGuardian.Email)
	if to == "" {
		return errors.New("registration has no parent email")
	}
	l, err := LabelsFor(ev.Language)
	if err != nil {
		return err
	}

	var attachments []mail.Attachment
	png, err := PaymentQR(reg)
	if err != nil {
		n.log.Warn().Err(err).Msg("payment QR failed, sending without it")
	} else {
		attachments = append(attachments, mail.Attachment{
			Filename:    "zahlung-qr.png",
			ContentType: "image/png",
			Data:        png,
		})
	}

	greetName := models.Str(reg.ParentGuardian.FullName)
	if greetName == "" {
		greetName = to
	}
	data := parentData{
		L:                l,
		Greeting:         l.Greet(greetName),
		ChildName:        models.Str(reg.Child.FullName),
		ChildDOB:         FormatDOB(models.Str(reg.Child.DateOfBirth)),
		ChildNeeds:       orDefault(reg.Child.SpecialNeeds, l.None),
		Types:            labelList(reg.Booking.PlaygroupTypes, l.Types),
		Days:             formatDays(reg.Booking.SelectedDays, l.Days, l.Types),
		MonthlyFee:       services.FormatCHF(services.MonthlyFee(reg)),
		ParentName:       models.Str(reg.ParentGuardian.FullName),
		ParentStreet:     models.Str(reg.ParentGuardian.StreetAddress),
		ParentPostalCode: models.Str(reg.ParentGuardian.PostalCode),
		ParentCity:       models.Str(reg.ParentGuardian.City),
		ParentPhone:      models.Str(reg.ParentGuardian.Phone),
		ParentEmail:      to,
		EmergencyName:    models.Str(reg.EmergencyContact.FullName),
		EmergencyPhone:   models.Str(reg.EmergencyContact.Phone),
		RegistrationFee:  services.FormatCHF(services.RegistrationFee),
		Deposit:          services.FormatCHF(services.CleaningDeposit),
		HasIndoor:        reg.HasType("indoor"),
		HasQR:            len(attachments) > 0,
		Payee:            PayeeName,
		PayeeStreet:      PayeeAddress(),
		PayeePostal:      PayeePostal,
		PayeeCity:        PayeeCity,
		IBAN:             IBAN,
	}
	body, err := render("parent.tmpl", data)
	if err != nil {
		return err
	}

	subject := l.Subject
	if data.ChildName != "" {
		subject += ": " + data.ChildName
	}
	return n.send(ctx, mail.Message{
		From:        n.route.From,
		To:          []string{to},
		Subject:     subject,
		Body:        body,
		Attachments: attachments,
	})
}

// NotifyLoopEscalation warns the CC list only; without one there is nobody
// to warn.
func (n *EmailNotifier) NotifyLoopEscalation(ctx context.Context, ev events.LoopEscalation) error {
	if len(n.route.CC) == 0 {
		n.log.Warn().Str("sender", ev.Sender).Msg("no CC recipients, loop warning skipped")
		return nil
	}
	body, err := render("escalation.tmpl", ev)
	if err != nil {
		return err
	}
	return n.send(ctx, mail.Message{
		From:    n.route.From,
		To:      n.route.CC,
		Subject: "[WARNUNG] Mögliche E-Mail-Schleife: " + ev.Sender,
		Body:    body,
	})
}

func (n *EmailNotifier) send(ctx context.Context, msg mail.Message) error {
	msg.MessageID = mail.NewMessageID(msg.From)
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %q: %w", msg.Subject, err)
	}
	n.log.Info().Strs("to", msg.Recipients()).Str("subject", msg.Subject).Msg("notification sent")
	return nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

type bookingData struct {
	ChildName        string
	Types            string
	Days             string
	MonthlyFee       string
	ParentName       string
	ParentStreet     string
	ParentPostalCode string
	ParentCity       string
	ParentPhone      string
	ParentEmail      string
}

func newBookingData(reg models.Registration) bookingData {
	p := reg.ParentGuardian
	return bookingData{
		ChildName:        models.Str(reg.Child.FullName),
		Types:            TypesGerman(reg.Booking.PlaygroupTypes),
		Days:             formatDays(reg.Booking.SelectedDays, adminDays, adminTypes),
		MonthlyFee:       services.FormatCHF(services.MonthlyFee(reg)),
		ParentName:       models.Str(p.FullName),
		ParentStreet:     models.Str(p.StreetAddress),
		ParentPostalCode: models.Str(p.PostalCode),
		ParentCity:       models.Str(p.City),
		ParentPhone:      models.Str(p.Phone),
		ParentEmail:      models.Str(p.Email),
	}
}

type adminNewData struct {
	bookingData
	SubmittedDate  string
	SubmittedTime  string
	Channel        string
	RegistrationID string
	Version        int
	ChildDOB       string
	ChildAge       string
	ChildNeeds     string
	OneTimeFees    string
	EmergencyName  string
	EmergencyPhone string
}

type changeLine struct {
	Field string
	Old   string
	New   string
}

type adminUpdateData struct {
	bookingData
	UpdatedDate    string
	UpdatedTime    string
	RegistrationID string
	Version        int
	Changes        []changeLine
}

type parentData struct {
	L                Labels
	Greeting         string
	ChildName        string
	ChildDOB         string
	ChildNeeds       string
	Types            string
	Days             string
	MonthlyFee       string
	ParentName       string
	ParentStreet     string
	ParentPostalCode string
	ParentCity       string
	ParentPhone      string
	ParentEmail      string
	EmergencyName    string
	EmergencyPhone   string
	RegistrationFee  string
	Deposit          string
	HasIndoor        bool
	HasQR            bool
	Payee            string
	PayeeStreet      string
	PayeePostal      string
	PayeeCity        string
	IBAN             string
}

func changeLines(changes map[string]models.Change) []changeLine {
	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	out := make([]changeLine, 0, len(fields))
	for _, f := range fields {
		c := changes[f]
		out = append(out, changeLine{Field: f, Old: changeValue(c.Old), New: changeValue(c.New)})
	}
	return out
}

func changeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "(leer)"
	case string:
		if strings.TrimSpace(t) == "" {
			return "(leer)"
		}
		return t
	case *string:
		if t == nil || *t == "" {
			return "(leer)"
		}
		return *t
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
