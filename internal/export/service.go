package export

import (
	"context"
	"fmt"
	"html/template"
	"sort"

	"coursewright/api/internal/snapshot"
	"coursewright/api/internal/store"
)

// SnapshotSource resolves a course version to the snapshot to render.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, courseID, version string) (snapshot.Snapshot, error)
	GetAuthorName(ctx context.Context, courseID string) (string, error)
}

// Service renders course syllabi.
type Service struct {
	source SnapshotSource
}

// NewService creates a new export service.
func NewService(source SnapshotSource) *Service {
	return &Service{source: source}
}

// Export generates an export in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	snap, err := s.source.GetSnapshot(ctx, req.CourseID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	// A missing author name only degrades the header line.
	authorName, err := s.source.GetAuthorName(ctx, req.CourseID)
	if err != nil {
		authorName = ""
	}

	data := buildTemplateData(snap, authorName)

	html, err := RenderSyllabusHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, snap.Course.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func buildTemplateData(snap snapshot.Snapshot, authorName string) TemplateData {
	data := TemplateData{
		Course: CourseMeta{
			Title:         snap.Course.Title,
			Description:   snap.Course.Description,
			Difficulty:    snap.Course.Difficulty,
			EstimatedMins: snap.Course.EstimatedMins,
			Objectives:    snap.Course.Objectives,
			Author:        authorName,
			UpdatedAt:     snap.Course.UpdatedAt,
		},
	}

	units := append([]store.Unit(nil), snap.Units...)
	sort.SliceStable(units, func(i, j int) bool { return units[i].OrderIndex < units[j].OrderIndex })

	lessonsByUnit := make(map[string][]store.Lesson, len(units))
	for _, lesson := range snap.Lessons {
		lessonsByUnit[lesson.UnitID] = append(lessonsByUnit[lesson.UnitID], lesson)
	}

	for _, unit := range units {
		tu := TemplateUnit{Title: unit.Title}
		lessons := lessonsByUnit[unit.ID]
		sort.SliceStable(lessons, func(i, j int) bool { return lessons[i].OrderIndex < lessons[j].OrderIndex })
		for _, lesson := range lessons {
			tu.Lessons = append(tu.Lessons, TemplateLesson{
				Title:       lesson.Title,
				ContentType: lesson.ContentType,
				ContentHTML: template.HTML(LessonContentToHTML(lesson.Content)),
			})
		}
		data.Units = append(data.Units, tu)
	}

	return data
}
