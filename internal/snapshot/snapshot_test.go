package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursewright/api/internal/content"
	"coursewright/api/internal/store"
)

func testCourse() store.Course {
	return store.Course{ID: "crs_1", AuthorID: "usr_author", Title: "Intro to Go"}
}

func testUnits() []store.Unit {
	return []store.Unit{
		{ID: "u1", CourseID: "crs_1", Title: "Basics", OrderIndex: 0},
		{ID: "u2", CourseID: "crs_1", Title: "Concurrency", OrderIndex: 1},
	}
}

func testLessons(t *testing.T) []store.Lesson {
	t.Helper()
	body, err := content.NewText("hello world").Canonical()
	require.NoError(t, err)
	return []store.Lesson{
		{ID: "l1", UnitID: "u1", Title: "Hello", ContentType: "text", Content: body, OrderIndex: 0},
	}
}

func TestCaptureCopiesCollections(t *testing.T) {
	units := testUnits()
	lessons := testLessons(t)

	snap, err := Capture(testCourse(), units, lessons)
	require.NoError(t, err)

	units[0].Title = "mutated after capture"
	lessons[0].Title = "mutated after capture"
	lessons[0].Content[2] = 'X'

	assert.Equal(t, "Basics", snap.Units[0].Title)
	assert.Equal(t, "Hello", snap.Lessons[0].Title)
	assert.NotContains(t, string(snap.Lessons[0].Content), "X")
}

func TestCaptureRejectsForeignUnit(t *testing.T) {
	units := testUnits()
	units[1].CourseID = "crs_other"

	_, err := Capture(testCourse(), units, nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCaptureRejectsOrphanLesson(t *testing.T) {
	lessons := testLessons(t)
	lessons[0].UnitID = "u_missing"

	_, err := Capture(testCourse(), testUnits(), lessons)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCloneDoesNotAliasBase(t *testing.T) {
	base, err := Capture(testCourse(), testUnits(), testLessons(t))
	require.NoError(t, err)

	working := base.Clone()
	working.Units[0].Title = "Basics, revised"
	working.Lessons[0].Content = []byte(`{"kind":"text","text":{"body":"new"}}`)

	assert.Equal(t, "Basics", base.Units[0].Title)
	assert.Contains(t, string(base.Lessons[0].Content), "hello world")
}

func TestParsePayloadValidates(t *testing.T) {
	_, err := ParsePayload([]byte(`{"course":{"id":"crs_1"},"units":[{"id":"u1","course_id":"crs_other"}],"lessons":[]}`))
	assert.ErrorIs(t, err, ErrMalformed)

	payload, err := ParsePayload([]byte(`{"course":{"id":"crs_1"},"units":[],"lessons":[],"courseUpdates":{"title":"New"}}`))
	require.NoError(t, err)
	require.NotNil(t, payload.CourseUpdates)
	assert.Equal(t, "New", *payload.CourseUpdates.Title)
}

func TestCaptureRejectsDuplicateUnitOrder(t *testing.T) {
	units := testUnits()
	units[1].OrderIndex = units[0].OrderIndex

	_, err := Capture(testCourse(), units, nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCaptureRejectsDuplicateLessonOrderWithinUnit(t *testing.T) {
	lessons := testLessons(t)
	body, err := content.NewText("second lesson").Canonical()
	require.NoError(t, err)
	lessons = append(lessons, store.Lesson{
		ID: "l2", UnitID: "u1", Title: "Hello Again",
		ContentType: "text", Content: body, OrderIndex: lessons[0].OrderIndex,
	})

	_, err = Capture(testCourse(), testUnits(), lessons)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCaptureAllowsSameLessonOrderAcrossUnits(t *testing.T) {
	lessons := testLessons(t)
	body, err := content.NewText("first in u2").Canonical()
	require.NoError(t, err)
	lessons = append(lessons, store.Lesson{
		ID: "l2", UnitID: "u2", Title: "Goroutines",
		ContentType: "text", Content: body, OrderIndex: 0,
	})

	_, err = Capture(testCourse(), testUnits(), lessons)
	assert.NoError(t, err)
}
