package notify

import (
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/familienverein/meistereder/internal/models"
)

// Payee of the one-time fees.
const (
	IBAN         = "CH14 0900 0000 4930 8018 8"
	PayeeName    = "Familienverein Fällanden Spielgruppen"
	PayeeStreet  = "Huebwisstrase"
	PayeeHouseNo = "5"
	PayeePostal  = "8117"
	PayeeCity    = "Fällanden"
)

// PayeeAddress is the payee's street line as printed in mails.
func PayeeAddress() string { return PayeeStreet + " " + PayeeHouseNo }

// PaymentPayload builds a Swiss QR-bill (SPC 0200) payload without amount,
// so the parent can pay whatever applies to them. The debtor block is
// filled from the parent's address when it is known.
func PaymentPayload(reg models.Registration) string {
	lines := []string{
		"SPC", "0200", "1",
		strings.ReplaceAll(IBAN, " ", ""),
		"S", PayeeName, PayeeStreet, PayeeHouseNo, PayeePostal, PayeeCity, "CH",
		"", "", "", "", "", "", "", // ultimate creditor, unused
		"", "CHF",
	}

	p := reg.ParentGuardian
	if name := models.Str(p.FullName); name != "" {
		lines = append(lines, "S", name, models.Str(p.StreetAddress), "",
			models.Str(p.PostalCode), models.Str(p.City), "CH")
	} else {
		lines = append(lines, "", "", "", "", "", "", "")
	}

	msg := "Spielgruppe Pumuckl"
	if child := models.Str(reg.Child.FullName); child != "" {
		msg += " " + child
	}
	lines = append(lines, "NON", "", truncate(msg, 140), "EPD")
	return strings.Join(lines, "\n")
}

// PaymentQR renders the payload as PNG. Swiss QR-bills require error
// correction level M.
func PaymentQR(reg models.Registration) ([]byte, error) {
	return qrcode.Encode(PaymentPayload(reg), qrcode.Medium, 512)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
