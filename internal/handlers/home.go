package handlers

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/familienverein/meistereder/internal/agent"
	"github.com/familienverein/meistereder/internal/models"
)

//go:embed templates/*.tmpl
var pageFS embed.FS

// ParsePages loads the embedded page templates.
func ParsePages() (*template.Template, error) {
	return template.ParseFS(pageFS, "templates/*.tmpl")
}

// Home serves the web chat page.
func Home(t *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lang := models.LangDE
		if l, ok := models.ParseLanguage(r.URL.Query().Get("lang")); ok {
			lang = l
		}
		data := map[string]any{
			"Title": "Anmeldung Spielgruppe Pumuckl",
			"Lang":  string(lang),
			"Intro": agent.WelcomeMessage(lang),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := t.ExecuteTemplate(w, "chat.tmpl", data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
