// Package snapshot models a full point-in-time copy of a course tree and the
// comparison logic used to highlight proposal changes for reviewers.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"

	"coursewright/api/internal/store"
)

// ErrMalformed reports a snapshot whose internal references do not line up.
// It signals a data-integrity bug, never ordinary user error.
var ErrMalformed = errors.New("malformed snapshot")

// Snapshot is a self-consistent copy of one course with its units and
// lessons. It is a value; callers may mutate their copy freely without
// affecting the snapshot it was captured from.
type Snapshot struct {
	Course  store.Course   `json:"course"`
	Units   []store.Unit   `json:"units"`
	Lessons []store.Lesson `json:"lessons"`
}

// Payload is the persisted body of a change proposal: the drafted snapshot
// plus an optional scalar patch listing only the course fields the
// collaborator meant to change.
type Payload struct {
	Snapshot
	CourseUpdates *store.CoursePatch `json:"courseUpdates,omitempty"`
}

// Capture builds a snapshot from live rows, defensive-copying every
// collection so the caller's slices never alias the snapshot's.
func Capture(course store.Course, units []store.Unit, lessons []store.Lesson) (Snapshot, error) {
	snap := Snapshot{
		Course:  course,
		Units:   copyUnits(units),
		Lessons: copyLessons(lessons),
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Validate checks the tree invariants: every unit belongs to the snapshot's
// course, every lesson belongs to a unit in the snapshot, and order indexes
// are unique among siblings. Run before any merge so a broken payload never
// reaches the store.
func (s Snapshot) Validate() error {
	if s.Course.ID == "" {
		return fmt.Errorf("%w: course id is empty", ErrMalformed)
	}
	unitIDs := make(map[string]struct{}, len(s.Units))
	unitOrders := make(map[int]string, len(s.Units))
	for _, unit := range s.Units {
		if unit.CourseID != s.Course.ID {
			return fmt.Errorf("%w: unit %s references course %s, want %s", ErrMalformed, unit.ID, unit.CourseID, s.Course.ID)
		}
		if other, dup := unitOrders[unit.OrderIndex]; dup {
			return fmt.Errorf("%w: units %s and %s share order index %d", ErrMalformed, other, unit.ID, unit.OrderIndex)
		}
		unitOrders[unit.OrderIndex] = unit.ID
		unitIDs[unit.ID] = struct{}{}
	}
	type siblingOrder struct {
		unitID string
		index  int
	}
	lessonOrders := make(map[siblingOrder]string, len(s.Lessons))
	for _, lesson := range s.Lessons {
		if _, ok := unitIDs[lesson.UnitID]; !ok {
			return fmt.Errorf("%w: lesson %s references unknown unit %s", ErrMalformed, lesson.ID, lesson.UnitID)
		}
		key := siblingOrder{unitID: lesson.UnitID, index: lesson.OrderIndex}
		if other, dup := lessonOrders[key]; dup {
			return fmt.Errorf("%w: lessons %s and %s share order index %d in unit %s", ErrMalformed, other, lesson.ID, lesson.OrderIndex, lesson.UnitID)
		}
		lessonOrders[key] = lesson.ID
	}
	return nil
}

// Clone returns a deep copy, so a working draft can diverge from its base.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Course:  s.Course,
		Units:   copyUnits(s.Units),
		Lessons: copyLessons(s.Lessons),
	}
}

// UnitsByID indexes the snapshot's units for diffing.
func (s Snapshot) UnitsByID() map[string]store.Unit {
	byID := make(map[string]store.Unit, len(s.Units))
	for _, unit := range s.Units {
		byID[unit.ID] = unit
	}
	return byID
}

// LessonsByID indexes the snapshot's lessons for diffing.
func (s Snapshot) LessonsByID() map[string]store.Lesson {
	byID := make(map[string]store.Lesson, len(s.Lessons))
	for _, lesson := range s.Lessons {
		byID[lesson.ID] = lesson
	}
	return byID
}

// ParsePayload decodes a stored proposal payload and validates its snapshot.
func ParsePayload(raw []byte) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, fmt.Errorf("decode proposal payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return Payload{}, err
	}
	return payload, nil
}

func copyUnits(units []store.Unit) []store.Unit {
	out := make([]store.Unit, len(units))
	copy(out, units)
	return out
}

func copyLessons(lessons []store.Lesson) []store.Lesson {
	out := make([]store.Lesson, len(lessons))
	for i, lesson := range lessons {
		copied := lesson
		if lesson.Content != nil {
			copied.Content = append(json.RawMessage(nil), lesson.Content...)
		}
		out[i] = copied
	}
	return out
}
