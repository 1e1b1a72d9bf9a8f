package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursewright/api/internal/content"
	"coursewright/api/internal/store"
)

func lessonWith(t *testing.T, id, title string, c content.Content) store.Lesson {
	t.Helper()
	raw, err := c.Canonical()
	require.NoError(t, err)
	return store.Lesson{ID: id, UnitID: "u1", Title: title, ContentType: string(c.Kind), Content: raw}
}

func TestUnitChanged(t *testing.T) {
	base := map[string]store.Unit{
		"u1": {ID: "u1", CourseID: "crs_1", Title: "Basics"},
	}

	assert.False(t, UnitChanged(store.Unit{ID: "u1", Title: "Basics"}, base), "identical title")
	assert.True(t, UnitChanged(store.Unit{ID: "u1", Title: "Basics, revised"}, base), "edited title")
	assert.True(t, UnitChanged(store.Unit{ID: "u_new", Title: "Anything"}, base), "new unit")

	// order_index alone never highlights a unit
	assert.False(t, UnitChanged(store.Unit{ID: "u1", Title: "Basics", OrderIndex: 7}, base))
}

func TestLessonChanged(t *testing.T) {
	base := map[string]store.Lesson{
		"l1": lessonWith(t, "l1", "Hello", content.NewText("hello world")),
	}

	assert.False(t, LessonChanged(lessonWith(t, "l1", "Hello", content.NewText("hello world")), base))
	assert.True(t, LessonChanged(lessonWith(t, "l1", "Hello!", content.NewText("hello world")), base), "title change")
	assert.True(t, LessonChanged(lessonWith(t, "l1", "Hello", content.NewText("goodbye")), base), "content change")
	assert.True(t, LessonChanged(lessonWith(t, "l2", "Hello", content.NewText("hello world")), base), "new lesson")
}

func TestLessonChangedIgnoresKeyOrder(t *testing.T) {
	base := map[string]store.Lesson{
		"l1": {ID: "l1", UnitID: "u1", Title: "Watch", ContentType: "video",
			Content: []byte(`{"video":{"notes":"intro","url":"https://example.com/v"},"kind":"video"}`)},
	}
	candidate := store.Lesson{ID: "l1", UnitID: "u1", Title: "Watch", ContentType: "video",
		Content: []byte(`{"kind":"video","video":{"url":"https://example.com/v","notes":"intro"}}`)}

	assert.False(t, LessonChanged(candidate, base))
}

func TestLessonChangedTreatsUnserializableAsUnchanged(t *testing.T) {
	base := map[string]store.Lesson{
		"l1": {ID: "l1", UnitID: "u1", Title: "Broken", ContentType: "text", Content: []byte(`{not json`)},
	}
	candidate := store.Lesson{ID: "l1", UnitID: "u1", Title: "Broken", ContentType: "text", Content: []byte(`{also not json`)}

	assert.False(t, LessonChanged(candidate, base))
}

func TestSnapshotComparedToItselfHasNoChanges(t *testing.T) {
	snap, err := Capture(testCourse(), testUnits(), testLessons(t))
	require.NoError(t, err)

	unitBase := snap.UnitsByID()
	lessonBase := snap.LessonsByID()
	for _, unit := range snap.Units {
		assert.False(t, UnitChanged(unit, unitBase), "unit %s", unit.ID)
	}
	for _, lesson := range snap.Lessons {
		assert.False(t, LessonChanged(lesson, lessonBase), "lesson %s", lesson.ID)
	}
}
