package search

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Warn().Err(err).Msg("search: meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Error().Err(err).Msg("search: pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCourse indexes a course (fire-and-forget to Meilisearch).
func (s *Service) IndexCourse(c CourseRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCourse(c); err != nil {
			log.Warn().Err(err).Str("course", c.ID).Msg("search: index course")
		}
	}()
}

// IndexLesson indexes a lesson (fire-and-forget to Meilisearch).
func (s *Service) IndexLesson(l LessonRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexLesson(l); err != nil {
			log.Warn().Err(err).Str("lesson", l.ID).Msg("search: index lesson")
		}
	}()
}

// DeleteCourse removes a course from the search index (fire-and-forget).
func (s *Service) DeleteCourse(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteCourse(id); err != nil {
			log.Warn().Err(err).Str("course", id).Msg("search: delete course")
		}
	}()
}

// DeleteLesson removes a lesson from the search index (fire-and-forget).
func (s *Service) DeleteLesson(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteLesson(id); err != nil {
			log.Warn().Err(err).Str("lesson", id).Msg("search: delete lesson")
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch in bulk.
func (s *Service) ReindexAll(courses []CourseRecord, lessons []LessonRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(courses) > 0 {
		if err := s.meili.IndexCourses(courses); err != nil {
			log.Warn().Err(err).Msg("search: reindex courses")
		}
	}
	if len(lessons) > 0 {
		if err := s.meili.IndexLessons(lessons); err != nil {
			log.Warn().Err(err).Msg("search: reindex lessons")
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	courses, lessons, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("search: reindex load failed")
		return
	}
	s.ReindexAll(courses, lessons)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
