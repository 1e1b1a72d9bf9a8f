package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		content Content
		wantErr bool
	}{
		{"text ok", NewText("welcome"), false},
		{"video ok", NewVideo("https://example.com/v.mp4", "intro"), false},
		{"audio ok", NewAudio("https://example.com/a.mp3", ""), false},
		{"quiz ok", NewQuiz("2+2?", []string{"3", "4"}, 1), false},
		{"fill-blank ok", NewFillBlank("Go is ___", []string{"fun"}), false},
		{"unknown kind", Content{Kind: "markdown"}, true},
		{"text missing variant", Content{Kind: KindText}, true},
		{"exercise missing variant", Content{Kind: KindExercise}, true},
		{"exercise unknown subkind", Content{Kind: KindExercise, Exercise: &Exercise{Kind: "essay"}}, true},
		{"quiz missing fields", Content{Kind: KindExercise, Exercise: &Exercise{Kind: ExerciseQuiz}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.content.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCanonicalIsDeterministic(t *testing.T) {
	a := NewQuiz("capital of France?", []string{"Paris", "Lyon"}, 0)
	b := NewQuiz("capital of France?", []string{"Paris", "Lyon"}, 0)

	canonA, err := a.Canonical()
	require.NoError(t, err)
	canonB, err := b.Canonical()
	require.NoError(t, err)
	assert.Equal(t, canonA, canonB)
}

func TestCanonicalIgnoresStrayVariants(t *testing.T) {
	clean := NewText("hello")
	dirty := NewText("hello")
	dirty.Video = &Video{URL: "left over from an earlier edit"}

	canonClean, err := clean.Canonical()
	require.NoError(t, err)
	canonDirty, err := dirty.Canonical()
	require.NoError(t, err)
	assert.Equal(t, canonClean, canonDirty)
}

func TestParseRoundTrip(t *testing.T) {
	original := NewVideo("https://example.com/lesson.mp4", "watch before class")
	raw, err := original.Canonical()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := Parse([]byte(`{"kind":"hologram"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}
