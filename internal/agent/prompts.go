package agent

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/familienverein/meistereder/internal/models"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// StepDescriptions tell the model what each flow step is for.
var StepDescriptions = map[models.FlowStep]string{
	models.StepGreeting:           "Greet the parent and detect their intent (registration vs. questions).",
	models.StepChildName:          "Ask for the child's full name.",
	models.StepChildDOB:           "Ask for the child's date of birth. Validate age: indoor requires ≥2.5 years, outdoor requires ≥3 years.",
	models.StepPlaygroupSelection: "Explain both playgroup options and ask which the parent wants (indoor / outdoor / both) and which days.",
	models.StepSpecialNeeds:       "Ask whether the child has any special needs, allergies, or medical conditions.",
	models.StepParentContact:      "Collect the parent/guardian's full name, street address, postal code (4 digits), city, phone number, and email address.",
	models.StepEmergencyContact:   "Ask for an emergency contact (someone other than the parent): full name and phone.",
	models.StepConfirmation:       "Show a summary of all collected information and ask the parent to confirm.",
	models.StepComplete:           "Thank the parent, mention fees and next steps. Registration is done.",
}

const defaultStepHint = "Continue the conversation."

type stepInfo struct {
	Name string
	Hint string
}

type fieldExample struct {
	Path    string
	Example string
}

var fieldExamples = []fieldExample{
	{FieldChildFullName.String(), `"string or null"`},
	{FieldChildDateOfBirth.String(), `"YYYY-MM-DD or null"`},
	{FieldChildSpecialNeeds.String(), `"string or null"`},
	{FieldParentFullName.String(), `"string or null"`},
	{FieldParentStreetAddress.String(), `"string or null"`},
	{FieldParentPostalCode.String(), `"4-digit string or null"`},
	{FieldParentCity.String(), `"string or null"`},
	{FieldParentPhone.String(), `"string or null"`},
	{FieldParentEmail.String(), `"string or null"`},
	{FieldEmergencyFullName.String(), `"string or null"`},
	{FieldEmergencyPhone.String(), `"string or null"`},
	{FieldBookingPlaygroupTypes.String(), `["indoor", "outdoor"] or null`},
	{FieldBookingSelectedDays.String(), `[{"day": "monday", "type": "indoor"}] or null`},
}

type promptData struct {
	Step             models.FlowStep
	StepHint         string
	Steps            []stepInfo
	StepNames        []string
	Fields           []fieldExample
	RegistrationJSON string
	KnowledgeBase    string
	ParentName       string
}

// PromptBuilder renders the system instructions for a turn. It is built
// once and safe for concurrent use.
type PromptBuilder struct {
	active *template.Template
	post   *template.Template
}

func NewPromptBuilder() (*PromptBuilder, error) {
	funcs := template.FuncMap{
		"inc":  func(i int) int { return i + 1 },
		"last": func(i int, list []fieldExample) bool { return i == len(list)-1 },
		"join": strings.Join,
	}
	active, err := template.New("system.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/system.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}
	post, err := template.New("post_completion.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/post_completion.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse post-completion prompt: %w", err)
	}
	return &PromptBuilder{active: active, post: post}, nil
}

// MustPromptBuilder panics if the embedded templates do not parse.
func MustPromptBuilder() *PromptBuilder {
	pb, err := NewPromptBuilder()
	if err != nil {
		panic(err)
	}
	return pb
}

// Active renders the prompt for a registration still in progress.
func (b *PromptBuilder) Active(knowledge string, conv *models.Conversation) (string, error) {
	return b.render(b.active, knowledge, conv)
}

// PostCompletion renders the prompt used once the registration is submitted.
func (b *PromptBuilder) PostCompletion(knowledge string, conv *models.Conversation) (string, error) {
	return b.render(b.post, knowledge, conv)
}

func (b *PromptBuilder) render(t *template.Template, knowledge string, conv *models.Conversation) (string, error) {
	hint, ok := StepDescriptions[conv.FlowStep]
	if !ok {
		hint = defaultStepHint
	}
	data := promptData{
		Step:             conv.FlowStep,
		StepHint:         hint,
		Fields:           fieldExamples,
		RegistrationJSON: registrationJSON(conv.Registration),
		KnowledgeBase:    knowledge,
		ParentName:       conv.ParentName,
	}
	for _, s := range models.FlowSteps {
		data.Steps = append(data.Steps, stepInfo{Name: string(s), Hint: StepDescriptions[s]})
		data.StepNames = append(data.StepNames, string(s))
	}

	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}
