// Package content models the polymorphic lesson payload. Each lesson carries
// exactly one content variant selected by its kind; variant fields never leak
// across kinds.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindText     Kind = "text"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindExercise Kind = "exercise"
)

type ExerciseKind string

const (
	ExerciseQuiz      ExerciseKind = "quiz"
	ExerciseFillBlank ExerciseKind = "fill-blank"
)

var ErrUnknownKind = errors.New("unknown content kind")

type Text struct {
	Body string `json:"body"`
}

type Video struct {
	URL   string `json:"url"`
	Notes string `json:"notes"`
}

type Audio struct {
	URL        string `json:"url"`
	Transcript string `json:"transcript"`
}

type Quiz struct {
	Question    string   `json:"question"`
	Choices     []string `json:"choices"`
	AnswerIndex int      `json:"answerIndex"`
}

type FillBlank struct {
	Prompt string   `json:"prompt"`
	Blanks []string `json:"blanks"`
}

type Exercise struct {
	Kind      ExerciseKind `json:"kind"`
	Quiz      *Quiz        `json:"quiz,omitempty"`
	FillBlank *FillBlank   `json:"fillBlank,omitempty"`
}

// Content is the tagged union stored in a lesson row. Exactly one variant
// pointer is set, matching Kind.
type Content struct {
	Kind     Kind      `json:"kind"`
	Text     *Text     `json:"text,omitempty"`
	Video    *Video    `json:"video,omitempty"`
	Audio    *Audio    `json:"audio,omitempty"`
	Exercise *Exercise `json:"exercise,omitempty"`
}

func NewText(body string) Content {
	return Content{Kind: KindText, Text: &Text{Body: body}}
}

func NewVideo(url, notes string) Content {
	return Content{Kind: KindVideo, Video: &Video{URL: url, Notes: notes}}
}

func NewAudio(url, transcript string) Content {
	return Content{Kind: KindAudio, Audio: &Audio{URL: url, Transcript: transcript}}
}

func NewQuiz(question string, choices []string, answerIndex int) Content {
	return Content{Kind: KindExercise, Exercise: &Exercise{
		Kind: ExerciseQuiz,
		Quiz: &Quiz{Question: question, Choices: choices, AnswerIndex: answerIndex},
	}}
}

func NewFillBlank(prompt string, blanks []string) Content {
	return Content{Kind: KindExercise, Exercise: &Exercise{
		Kind:      ExerciseFillBlank,
		FillBlank: &FillBlank{Prompt: prompt, Blanks: blanks},
	}}
}

// Validate checks that the kind is known and the matching variant (and only
// the matching variant) is populated.
func (c Content) Validate() error {
	switch c.Kind {
	case KindText:
		if c.Text == nil {
			return fmt.Errorf("text content missing body variant")
		}
	case KindVideo:
		if c.Video == nil {
			return fmt.Errorf("video content missing variant")
		}
	case KindAudio:
		if c.Audio == nil {
			return fmt.Errorf("audio content missing variant")
		}
	case KindExercise:
		if c.Exercise == nil {
			return fmt.Errorf("exercise content missing variant")
		}
		switch c.Exercise.Kind {
		case ExerciseQuiz:
			if c.Exercise.Quiz == nil {
				return fmt.Errorf("quiz exercise missing quiz fields")
			}
		case ExerciseFillBlank:
			if c.Exercise.FillBlank == nil {
				return fmt.Errorf("fill-blank exercise missing fill-blank fields")
			}
		default:
			return fmt.Errorf("%w: exercise %q", ErrUnknownKind, c.Exercise.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	return nil
}

// Canonical returns a deterministic byte form of the content, suitable for
// change detection. encoding/json emits struct fields in declaration order,
// so two semantically equal values always serialize identically.
func (c Content) Canonical() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(canonicalView(c))
}

// canonicalView strips variants that do not belong to the active kind so a
// stray populated pointer never influences the canonical form.
func canonicalView(c Content) Content {
	out := Content{Kind: c.Kind}
	switch c.Kind {
	case KindText:
		out.Text = c.Text
	case KindVideo:
		out.Video = c.Video
	case KindAudio:
		out.Audio = c.Audio
	case KindExercise:
		if c.Exercise != nil {
			ex := Exercise{Kind: c.Exercise.Kind}
			switch c.Exercise.Kind {
			case ExerciseQuiz:
				ex.Quiz = c.Exercise.Quiz
			case ExerciseFillBlank:
				ex.FillBlank = c.Exercise.FillBlank
			}
			out.Exercise = &ex
		}
	}
	return out
}

// Parse decodes and validates a stored content payload.
func Parse(raw []byte) (Content, error) {
	var c Content
	if err := json.Unmarshal(raw, &c); err != nil {
		return Content{}, fmt.Errorf("decode content: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Content{}, err
	}
	return c, nil
}
