package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/familienverein/meistereder/internal/models"
	"github.com/familienverein/meistereder/internal/notify"
	"github.com/familienverein/meistereder/internal/services"
)

// Registrations is the read side of the store used by the admin API.
type Registrations interface {
	ListRegistrations(ctx context.Context) ([]models.Snapshot, error)
	GetCurrentRegistration(ctx context.Context, key string) (*models.Snapshot, error)
	GetRegistrationHistory(ctx context.Context, key string) ([]models.Snapshot, error)
	Load(ctx context.Context, identity string) (*models.Conversation, error)
}

type Admin struct {
	store Registrations
	log   zerolog.Logger
}

func NewAdmin(st Registrations, log zerolog.Logger) *Admin {
	return &Admin{store: st, log: log.With().Str("component", "admin").Logger()}
}

// GET /admin/registrations
func (a *Admin) List(w http.ResponseWriter, r *http.Request) {
	snaps, err := a.store.ListRegistrations(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// GET /admin/registrations.csv
func (a *Admin) CSV(w http.ResponseWriter, r *http.Request) {
	snaps, err := a.store.ListRegistrations(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="anmeldungen.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"Registration", "Version", "Submitted", "Channel",
		"Child", "DOB", "Special Needs",
		"Parent", "Street", "Postal Code", "City", "Phone", "Email",
		"Emergency Contact", "Emergency Phone",
		"Types", "Days", "Monthly Fee CHF",
	})
	for _, s := range snaps {
		_ = cw.Write([]string{
			s.Metadata.RegistrationID,
			strconv.Itoa(s.Metadata.Version),
			s.Metadata.SubmittedAt.Format("2006-01-02 15:04"),
			s.Metadata.Channel,
			models.Str(s.Child.FullName),
			models.Str(s.Child.DateOfBirth),
			models.Str(s.Child.SpecialNeeds),
			models.Str(s.ParentGuardian.FullName),
			models.Str(s.ParentGuardian.StreetAddress),
			models.Str(s.ParentGuardian.PostalCode),
			models.Str(s.ParentGuardian.City),
			models.Str(s.ParentGuardian.Phone),
			models.Str(s.ParentGuardian.Email),
			models.Str(s.EmergencyContact.FullName),
			models.Str(s.EmergencyContact.Phone),
			strings.Join(s.Booking.PlaygroupTypes, ";"),
			csvDays(s.Booking.SelectedDays),
			strconv.Itoa(services.MonthlyFee(s.Registration)),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		a.log.Error().Err(err).Msg("csv export")
	}
}

// GET /admin/registrations/{key}
func (a *Admin) Show(w http.ResponseWriter, r *http.Request) {
	key, ok := urlParam(w, r, "key")
	if !ok {
		return
	}
	snap, err := a.store.GetCurrentRegistration(r.Context(), key)
	if err != nil {
		a.fail(w, err)
		return
	}
	if snap == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /admin/registrations/{key}/history
func (a *Admin) History(w http.ResponseWriter, r *http.Request) {
	key, ok := urlParam(w, r, "key")
	if !ok {
		return
	}
	snaps, err := a.store.GetRegistrationHistory(r.Context(), key)
	if err != nil {
		a.fail(w, err)
		return
	}
	if len(snaps) == 0 {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// GET /admin/registrations/{key}/qr.png
func (a *Admin) QR(w http.ResponseWriter, r *http.Request) {
	key, ok := urlParam(w, r, "key")
	if !ok {
		return
	}
	snap, err := a.store.GetCurrentRegistration(r.Context(), key)
	if err != nil {
		a.fail(w, err)
		return
	}
	if snap == nil {
		http.NotFound(w, r)
		return
	}
	png, err := notify.PaymentQR(snap.Registration)
	if err != nil {
		http.Error(w, "failed to generate qr", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// GET /admin/conversations/{id}
func (a *Admin) Conversation(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParam(w, r, "id")
	if !ok {
		return
	}
	conv, err := a.store.Load(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	if conv == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (a *Admin) fail(w http.ResponseWriter, err error) {
	a.log.Error().Err(err).Msg("admin request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// urlParam unescapes a route parameter; email identities arrive encoded.
func urlParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil || strings.TrimSpace(v) == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return "", false
	}
	return v, true
}

func csvDays(days []models.BookingDay) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, fmt.Sprintf("%s:%s", d.Day, d.Type))
	}
	return strings.Join(parts, ";")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
