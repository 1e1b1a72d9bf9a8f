package export

import (
	"fmt"
	"html"
	"strings"

	"coursewright/api/internal/content"
)

// LessonContentToHTML renders a lesson's typed content as a syllabus fragment.
// Unknown or malformed content renders as an empty string rather than failing
// the whole export.
func LessonContentToHTML(raw []byte) string {
	c, err := content.Parse(raw)
	if err != nil {
		return ""
	}

	switch c.Kind {
	case content.KindText:
		if c.Text == nil {
			return ""
		}
		return renderTextBody(c.Text.Body)
	case content.KindVideo:
		if c.Video == nil {
			return ""
		}
		out := fmt.Sprintf(`<p class="media">Video: <a href="%s">%s</a></p>`,
			html.EscapeString(c.Video.URL), html.EscapeString(c.Video.URL))
		if c.Video.Notes != "" {
			out += "\n" + renderTextBody(c.Video.Notes)
		}
		return out
	case content.KindAudio:
		if c.Audio == nil {
			return ""
		}
		out := fmt.Sprintf(`<p class="media">Audio: <a href="%s">%s</a></p>`,
			html.EscapeString(c.Audio.URL), html.EscapeString(c.Audio.URL))
		if c.Audio.Transcript != "" {
			out += "\n" + renderTextBody(c.Audio.Transcript)
		}
		return out
	case content.KindExercise:
		if c.Exercise == nil {
			return ""
		}
		return renderExercise(c.Exercise)
	default:
		return ""
	}
}

func renderExercise(ex *content.Exercise) string {
	switch ex.Kind {
	case content.ExerciseQuiz:
		if ex.Quiz == nil {
			return ""
		}
		var b strings.Builder
		b.WriteString("<div class=\"exercise\">\n")
		fmt.Fprintf(&b, "<p><strong>Quiz:</strong> %s</p>\n", html.EscapeString(ex.Quiz.Question))
		b.WriteString("<ol>\n")
		for _, choice := range ex.Quiz.Choices {
			fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(choice))
		}
		b.WriteString("</ol>\n</div>")
		return b.String()
	case content.ExerciseFillBlank:
		if ex.FillBlank == nil {
			return ""
		}
		return fmt.Sprintf("<div class=\"exercise\">\n<p><strong>Fill in the blanks:</strong> %s</p>\n</div>",
			html.EscapeString(ex.FillBlank.Prompt))
	default:
		return ""
	}
}

// renderTextBody turns blank-line separated plain text into paragraphs.
func renderTextBody(body string) string {
	paragraphs := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n")
	var b strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(p))
	}
	return strings.TrimSpace(b.String())
}
