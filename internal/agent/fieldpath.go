package agent

// FieldPath enumerates the registration fields the model may update.
type FieldPath int

const (
	FieldUnknown FieldPath = iota
	FieldChildFullName
	FieldChildDateOfBirth
	FieldChildSpecialNeeds
	FieldParentFullName
	FieldParentStreetAddress
	FieldParentPostalCode
	FieldParentCity
	FieldParentPhone
	FieldParentEmail
	FieldEmergencyFullName
	FieldEmergencyPhone
	FieldBookingPlaygroupTypes
	FieldBookingSelectedDays
)

var fieldPathNames = map[FieldPath]string{
	FieldChildFullName:         "child.fullName",
	FieldChildDateOfBirth:      "child.dateOfBirth",
	FieldChildSpecialNeeds:     "child.specialNeeds",
	FieldParentFullName:        "parentGuardian.fullName",
	FieldParentStreetAddress:   "parentGuardian.streetAddress",
	FieldParentPostalCode:      "parentGuardian.postalCode",
	FieldParentCity:            "parentGuardian.city",
	FieldParentPhone:           "parentGuardian.phone",
	FieldParentEmail:           "parentGuardian.email",
	FieldEmergencyFullName:     "emergencyContact.fullName",
	FieldEmergencyPhone:        "emergencyContact.phone",
	FieldBookingPlaygroupTypes: "booking.playgroupTypes",
	FieldBookingSelectedDays:   "booking.selectedDays",
}

var fieldPathsByName = func() map[string]FieldPath {
	m := make(map[string]FieldPath, len(fieldPathNames))
	for p, name := range fieldPathNames {
		m[name] = p
	}
	return m
}()

// ParseFieldPath maps a dotted path such as "child.fullName" to its enum.
func ParseFieldPath(s string) (FieldPath, bool) {
	p, ok := fieldPathsByName[s]
	return p, ok
}

func (p FieldPath) String() string {
	if name, ok := fieldPathNames[p]; ok {
		return name
	}
	return "unknown"
}
