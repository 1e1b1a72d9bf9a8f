package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML.
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

var syllabusTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}

	templateContent, err := templateFS.ReadFile("templates/syllabus.html")
	if err != nil {
		// Fallback to built-in template if file not found
		syllabusTemplate = template.Must(template.New("syllabus").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	syllabusTemplate = template.Must(template.New("syllabus").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for syllabus template rendering.
type TemplateData struct {
	Course CourseMeta
	Units  []TemplateUnit
}

// TemplateUnit holds one unit and its lessons for the template.
type TemplateUnit struct {
	Title   string
	Lessons []TemplateLesson
}

// TemplateLesson holds one lesson for the template.
type TemplateLesson struct {
	Title       string
	ContentType string
	ContentHTML template.HTML
}

// RenderSyllabusHTML renders the syllabus template with provided data.
func RenderSyllabusHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := syllabusTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load.
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Course.Title}}</title>
</head>
<body>
  <h1>{{.Course.Title}}</h1>
  {{if .Course.Description}}<p>{{.Course.Description}}</p>{{end}}
  {{range .Units}}
  <h2>{{.Title}}</h2>
  {{range .Lessons}}<h3>{{.Title}}</h3><div>{{.ContentHTML | safeHTML}}</div>{{end}}
  {{end}}
</body>
</html>`
