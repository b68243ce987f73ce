package services

import (
	"fmt"

	"github.com/familienverein/meistereder/internal/models"
)

const (
	IndoorFeePerDay  = 130
	OutdoorFeePerDay = 250
	RegistrationFee  = 80
	CleaningDeposit  = 50 // indoor only, refundable
)

// MonthlyFee sums the per-day tariffs of the booked days in CHF.
func MonthlyFee(r models.Registration) int {
	fee := 0
	for _, d := range r.Booking.SelectedDays {
		switch d.Type {
		case "indoor":
			fee += IndoorFeePerDay
		case "outdoor":
			fee += OutdoorFeePerDay
		}
	}
	return fee
}

// FormatCHF renders an amount the way the staff write it on invoices.
func FormatCHF(amount int) string {
	return fmt.Sprintf("CHF %d.-", amount)
}

// OneTimeFees is what the parent pays before the first session.
func OneTimeFees(r models.Registration) int {
	total := RegistrationFee
	if r.HasType("indoor") {
		total += CleaningDeposit
	}
	return total
}
