package server

import (
	"embed"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

type renderer struct {
	t *template.Template
}

func (r *renderer) Render(w io.Writer, name string, data any, e echo.Context) error {
	return r.t.ExecuteTemplate(w, name, data)
}

type loginPage struct {
	DisplayName string
	AvatarURL   string
	UserLink    string
	Token       string
}
