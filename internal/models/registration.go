package models

import "time"

type Child struct {
	FullName     *string `json:"fullName"`
	DateOfBirth  *string `json:"dateOfBirth"`  // YYYY-MM-DD
	SpecialNeeds *string `json:"specialNeeds"` // nil = not asked yet, "none"/"keine" is a valid answer
}

type ParentGuardian struct {
	FullName      *string `json:"fullName"`
	StreetAddress *string `json:"streetAddress"`
	PostalCode    *string `json:"postalCode"`
	City          *string `json:"city"`
	Phone         *string `json:"phone"`
	Email         *string `json:"email"`
}

type EmergencyContact struct {
	FullName *string `json:"fullName"`
	Phone    *string `json:"phone"`
}

type BookingDay struct {
	Day  string `json:"day"`  // monday | wednesday | thursday
	Type string `json:"type"` // indoor | outdoor
}

type Booking struct {
	PlaygroupTypes []string     `json:"playgroupTypes"`
	SelectedDays   []BookingDay `json:"selectedDays"`
}

// Registration is one child's enrollment application. It is filled turn by
// turn from model output and never cleared field by field.
type Registration struct {
	Child            Child            `json:"child"`
	ParentGuardian   ParentGuardian   `json:"parentGuardian"`
	EmergencyContact EmergencyContact `json:"emergencyContact"`
	Booking          Booking          `json:"booking"`
}

func NewRegistration() Registration {
	return Registration{
		Booking: Booking{
			PlaygroupTypes: []string{},
			SelectedDays:   []BookingDay{},
		},
	}
}

func filled(s *string) bool { return s != nil && *s != "" }

// IsComplete reports whether every required field is present.
func (r Registration) IsComplete() bool {
	required := []*string{
		r.Child.FullName,
		r.Child.DateOfBirth,
		r.ParentGuardian.FullName,
		r.ParentGuardian.StreetAddress,
		r.ParentGuardian.PostalCode,
		r.ParentGuardian.City,
		r.ParentGuardian.Phone,
		r.ParentGuardian.Email,
		r.EmergencyContact.FullName,
		r.EmergencyContact.Phone,
	}
	for _, f := range required {
		if !filled(f) {
			return false
		}
	}
	if r.Child.SpecialNeeds == nil {
		return false
	}
	return len(r.Booking.PlaygroupTypes) > 0 && len(r.Booking.SelectedDays) > 0
}

// HasType reports whether the booking includes the given playgroup type.
func (r Registration) HasType(t string) bool {
	for _, x := range r.Booking.PlaygroupTypes {
		if x == t {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshots never alias the live record.
func (r Registration) Clone() Registration {
	out := r
	out.Child = Child{
		FullName:     clonePtr(r.Child.FullName),
		DateOfBirth:  clonePtr(r.Child.DateOfBirth),
		SpecialNeeds: clonePtr(r.Child.SpecialNeeds),
	}
	out.ParentGuardian = ParentGuardian{
		FullName:      clonePtr(r.ParentGuardian.FullName),
		StreetAddress: clonePtr(r.ParentGuardian.StreetAddress),
		PostalCode:    clonePtr(r.ParentGuardian.PostalCode),
		City:          clonePtr(r.ParentGuardian.City),
		Phone:         clonePtr(r.ParentGuardian.Phone),
		Email:         clonePtr(r.ParentGuardian.Email),
	}
	out.EmergencyContact = EmergencyContact{
		FullName: clonePtr(r.EmergencyContact.FullName),
		Phone:    clonePtr(r.EmergencyContact.Phone),
	}
	out.Booking = Booking{
		PlaygroupTypes: append([]string{}, r.Booking.PlaygroupTypes...),
		SelectedDays:   append([]BookingDay{}, r.Booking.SelectedDays...),
	}
	return out
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Str returns the value or "" for nil.
func Str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Ptr is a small helper for building records in code and tests.
func Ptr(s string) *string { return &s }

// Change is one field-level difference between two registration versions.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

type SnapshotMetadata struct {
	RegistrationID string            `json:"registrationId,omitempty"`
	Version        int               `json:"version"`
	SubmittedAt    time.Time         `json:"submittedAt"`
	Channel        string            `json:"channel"`
	ParentEmail    string            `json:"parentEmail"`
	ConversationID string            `json:"conversationId"`
	ChangeSummary  map[string]Change `json:"changeSummary,omitempty"`
}

// Snapshot is an immutable numbered copy of a registration as stored.
type Snapshot struct {
	Registration
	Metadata SnapshotMetadata `json:"metadata"`
}
