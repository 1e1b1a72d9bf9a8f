package snapshot

import (
	"bytes"

	"coursewright/api/internal/content"
	"coursewright/api/internal/store"
)

// UnitChanged reports whether a candidate unit should be highlighted against
// the base. A unit absent from the base is new, hence changed; otherwise only
// the title participates in the comparison.
func UnitChanged(candidate store.Unit, baseByID map[string]store.Unit) bool {
	base, ok := baseByID[candidate.ID]
	if !ok {
		return true
	}
	return candidate.Title != base.Title
}

// LessonChanged reports whether a candidate lesson should be highlighted.
// Content is compared in canonical form so key order never produces a false
// highlight. A lesson whose content fails to serialize is treated as
// unchanged: this feeds a cosmetic highlight, not the merge decision.
func LessonChanged(candidate store.Lesson, baseByID map[string]store.Lesson) bool {
	base, ok := baseByID[candidate.ID]
	if !ok {
		return true
	}
	if candidate.Title != base.Title {
		return true
	}
	candidateCanon, ok := canonicalContent(candidate)
	if !ok {
		return false
	}
	baseCanon, ok := canonicalContent(base)
	if !ok {
		return false
	}
	return !bytes.Equal(candidateCanon, baseCanon)
}

func canonicalContent(lesson store.Lesson) ([]byte, bool) {
	parsed, err := content.Parse(lesson.Content)
	if err != nil {
		return nil, false
	}
	canon, err := parsed.Canonical()
	if err != nil {
		return nil, false
	}
	return canon, true
}
