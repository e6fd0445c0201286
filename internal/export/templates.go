package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

//go:embed templates/*.html
var templateFS embed.FS

var exposeTemplate *template.Template

func init() {
	// Custom template functions
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}

	templateContent, err := templateFS.ReadFile("templates/expose.html")
	if err != nil {
		// Fallback to built-in template if file not found
		exposeTemplate = template.Must(template.New("expose").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	exposeTemplate = template.Must(template.New("expose").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for exposé template rendering
type TemplateData struct {
	Title       string
	BookTitle   string
	BookAuthor  string
	Category    string
	ContentHTML template.HTML
	Author      string
	CreatedAt   time.Time
	Quotes      []TemplateQuote
}

// TemplateQuote holds quote data for template
type TemplateQuote struct {
	Text string
	Page string
}

// RenderExposeHTML renders the exposé template with provided data
func RenderExposeHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := exposeTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 720px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .quote { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <p><em>{{.BookTitle}}{{if .BookAuthor}}, {{.BookAuthor}}{{end}}</em></p>
  <div class="meta">{{.Category}} | {{.Author}} | {{.CreatedAt.Format "02/01/2006"}}</div>
  <div>{{.ContentHTML | safeHTML}}</div>
  {{if .Quotes}}
  <h2>Citations</h2>
  {{range .Quotes}}<div class="quote">{{.Text}}</div>{{end}}
  {{end}}
</body>
</html>`
