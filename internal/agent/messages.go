package agent

import "github.com/familienverein/meistereder/internal/models"

var technicalIssue = map[models.Language]string{
	models.LangDE: "Entschuldigung, ich habe gerade ein technisches Problem. Bitte versuche es gleich nochmal oder kontaktiere uns direkt.",
	models.LangEN: "I'm sorry, I'm having a technical issue right now. Please try again in a moment or contact us directly.",
}

// TechnicalIssueMessage is the apology sent when the model cannot answer.
func TechnicalIssueMessage(lang models.Language) string {
	if msg, ok := technicalIssue[lang]; ok {
		return msg
	}
	return technicalIssue[models.LangDE]
}

var welcome = map[models.Language]string{
	models.LangDE: "Hallo und herzlich willkommen bei der Spielgruppe Pumuckl! Ich helfe dir gerne bei der Anmeldung deines Kindes oder beantworte deine Fragen. Wie kann ich dir helfen?",
	models.LangEN: "Hello and welcome to Spielgruppe Pumuckl! I'm happy to help you register your child or answer your questions. How can I help?",
}

// WelcomeMessage opens a chat session before the parent has written anything.
func WelcomeMessage(lang models.Language) string {
	if msg, ok := welcome[lang]; ok {
		return msg
	}
	return welcome[models.LangDE]
}
