package notify

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/familienverein/meistereder/internal/models"
)

//go:embed i18n/*.yaml
var labelFS embed.FS

// Labels is the string table of the parent confirmation mail.
type Labels struct {
	Subject          string            `yaml:"subject"`
	Greeting         string            `yaml:"greeting"`
	Intro            string            `yaml:"intro"`
	ChildHeading     string            `yaml:"child_heading"`
	BookingHeading   string            `yaml:"booking_heading"`
	ParentHeading    string            `yaml:"parent_heading"`
	EmergencyHeading string            `yaml:"emergency_heading"`
	PaymentHeading   string            `yaml:"payment_heading"`
	Name             string            `yaml:"name"`
	DateOfBirth      string            `yaml:"date_of_birth"`
	SpecialNeeds     string            `yaml:"special_needs"`
	TypesLabel       string            `yaml:"types_label"`
	DaysLabel        string            `yaml:"days_label"`
	MonthlyFee       string            `yaml:"monthly_fee"`
	Address          string            `yaml:"address"`
	Phone            string            `yaml:"phone"`
	Email            string            `yaml:"email"`
	RegistrationFee  string            `yaml:"registration_fee"`
	Deposit          string            `yaml:"deposit"`
	PaymentIntro     string            `yaml:"payment_intro"`
	QRNote           string            `yaml:"qr_note"`
	Closing          string            `yaml:"closing"`
	Signature        string            `yaml:"signature"`
	None             string            `yaml:"none"`
	Days             map[string]string `yaml:"days"`
	Types            map[string]string `yaml:"types"`
}

// Greet fills the greeting line with the parent's name.
func (l Labels) Greet(name string) string {
	return strings.ReplaceAll(l.Greeting, "{name}", name)
}

var (
	labelsOnce sync.Once
	labelSets  map[models.Language]Labels
	labelsErr  error
)

func loadLabelSets() (map[models.Language]Labels, error) {
	labelsOnce.Do(func() {
		labelSets = map[models.Language]Labels{}
		for _, lang := range []models.Language{models.LangDE, models.LangEN} {
			raw, err := labelFS.ReadFile("i18n/" + string(lang) + ".yaml")
			if err != nil {
				labelsErr = err
				return
			}
			var l Labels
			if err := yaml.Unmarshal(raw, &l); err != nil {
				labelsErr = fmt.Errorf("labels %s: %w", lang, err)
				return
			}
			labelSets[lang] = l
		}
	})
	return labelSets, labelsErr
}

// LabelsFor returns the table for lang, German for anything unknown.
func LabelsFor(lang models.Language) (Labels, error) {
	sets, err := loadLabelSets()
	if err != nil {
		return Labels{}, err
	}
	if l, ok := sets[lang]; ok {
		return l, nil
	}
	return sets[models.LangDE], nil
}
