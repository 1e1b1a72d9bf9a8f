package export

import (
	"encoding/json"
	"html/template"
	"strings"
	"testing"
	"time"

	"coursewright/api/internal/snapshot"
	"coursewright/api/internal/store"
)

func TestLessonContentToHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "text paragraphs",
			input:    `{"kind":"text","text":{"body":"First paragraph.\n\nSecond paragraph."}}`,
			expected: "<p>First paragraph.</p>",
		},
		{
			name:     "text escapes html",
			input:    `{"kind":"text","text":{"body":"<script>alert(1)</script>"}}`,
			expected: "&lt;script&gt;",
		},
		{
			name:     "video link",
			input:    `{"kind":"video","video":{"url":"https://example.com/v.mp4","notes":"Watch closely"}}`,
			expected: `<a href="https://example.com/v.mp4">`,
		},
		{
			name:     "audio link",
			input:    `{"kind":"audio","audio":{"url":"https://example.com/a.mp3","transcript":"Hello"}}`,
			expected: "Audio:",
		},
		{
			name:     "quiz exercise",
			input:    `{"kind":"exercise","exercise":{"kind":"quiz","quiz":{"question":"What is a halyard?","choices":["A rope","A sail"],"answerIndex":0}}}`,
			expected: "<li>A rope</li>",
		},
		{
			name:     "fill blank exercise",
			input:    `{"kind":"exercise","exercise":{"kind":"fill-blank","fillBlank":{"prompt":"The ___ raises the sail.","blanks":["halyard"]}}}`,
			expected: "Fill in the blanks",
		},
		{
			name:     "malformed content renders empty",
			input:    `{"kind":"nonsense"}`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := LessonContentToHTML([]byte(tt.input))
			if tt.expected == "" {
				if result != "" {
					t.Errorf("LessonContentToHTML() = %q, want empty", result)
				}
				return
			}
			if !strings.Contains(result, tt.expected) {
				t.Errorf("LessonContentToHTML() = %q, want it to contain %q", result, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Course v1.2", "My-Course-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "course"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},       // Spaces encoded as %20, not +
		{"test+sign", "test%2Bsign"},           // + signs are encoded
		{"special<>", "special%3C%3E"},         // Special chars encoded
		{"normal-text.txt", "normal-text.txt"}, // Unreserved chars pass through
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderSyllabusHTML(t *testing.T) {
	data := TemplateData{
		Course: CourseMeta{
			Title:         "Intro to Sailing",
			Description:   "Learn to sail small boats.",
			Difficulty:    "beginner",
			EstimatedMins: 240,
			Objectives:    "Tie the essential knots.",
			Author:        "Avery",
			UpdatedAt:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		Units: []TemplateUnit{
			{
				Title: "Knots",
				Lessons: []TemplateLesson{
					{Title: "Bowline", ContentType: "text", ContentHTML: template.HTML("<p>Loop, rabbit, tree.</p>")},
				},
			},
		},
	}

	html, err := RenderSyllabusHTML(data)
	if err != nil {
		t.Fatalf("RenderSyllabusHTML() error = %v", err)
	}

	for _, want := range []string{"Intro to Sailing", "Learn to sail small boats.", "Tie the essential knots.", "Knots", "Bowline", "Avery"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}

	// Lesson HTML must render unescaped.
	if strings.Contains(html, "&lt;p&gt;") {
		t.Error("lesson HTML content was escaped")
	}
	if !strings.Contains(html, "<p>Loop, rabbit, tree.</p>") {
		t.Error("lesson HTML content missing")
	}
}

func TestBuildTemplateDataOrdersByOrderIndex(t *testing.T) {
	snap := snapshot.Snapshot{
		Course: store.Course{ID: "crs_1", Title: "Intro to Sailing"},
		Units: []store.Unit{
			{ID: "unit_b", CourseID: "crs_1", Title: "Second", OrderIndex: 1},
			{ID: "unit_a", CourseID: "crs_1", Title: "First", OrderIndex: 0},
		},
		Lessons: []store.Lesson{
			{ID: "les_2", UnitID: "unit_a", Title: "A2", ContentType: "text", Content: json.RawMessage(`{"kind":"text","text":{"body":"x"}}`), OrderIndex: 1},
			{ID: "les_1", UnitID: "unit_a", Title: "A1", ContentType: "text", Content: json.RawMessage(`{"kind":"text","text":{"body":"y"}}`), OrderIndex: 0},
		},
	}

	data := buildTemplateData(snap, "Avery")
	if len(data.Units) != 2 || data.Units[0].Title != "First" || data.Units[1].Title != "Second" {
		t.Fatalf("units out of order: %+v", data.Units)
	}
	lessons := data.Units[0].Lessons
	if len(lessons) != 2 || lessons[0].Title != "A1" || lessons[1].Title != "A2" {
		t.Fatalf("lessons out of order: %+v", lessons)
	}
}
