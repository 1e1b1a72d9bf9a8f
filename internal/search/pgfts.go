package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// The tsvector expressions below must match the GIN index expressions in the
// search migration or Postgres falls back to a sequential scan.
const (
	courseTSV = "to_tsvector('english', c.title || ' ' || c.description || ' ' || c.objectives)"
	lessonTSV = "to_tsvector('english', l.title)"
)

// Search executes a UNION ALL query across courses and lessons using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultCourse {
		courseWhere := courseTSV + " @@ " + tsQuery
		if q.FilterCourseID != "" {
			courseWhere += fmt.Sprintf(" AND c.id = $%d", argN)
			args = append(args, q.FilterCourseID)
			argN++
		}
		if q.PublicOnly {
			courseWhere += " AND c.is_public"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'course'::text AS type, c.id, c.title,
				ts_headline('english', coalesce(c.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.id AS course_id, c.is_public,
				ts_rank(%s, %s) AS rank
			FROM courses c
			WHERE %s`, tsQuery, courseTSV, tsQuery, courseWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultLesson {
		lessonWhere := lessonTSV + " @@ " + tsQuery
		if q.FilterCourseID != "" {
			lessonWhere += fmt.Sprintf(" AND c.id = $%d", argN)
			args = append(args, q.FilterCourseID)
			argN++
		}
		if q.PublicOnly {
			lessonWhere += " AND c.is_public"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'lesson'::text AS type, l.id, l.title,
				l.content_type AS snippet,
				c.id AS course_id, c.is_public,
				ts_rank(%s, %s) AS rank
			FROM lessons l
			JOIN units u ON u.id = l.unit_id
			JOIN courses c ON c.id = u.course_id
			WHERE %s`, lessonTSV, tsQuery, lessonWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, course_id, is_public
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.CourseID, &r.IsPublic); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CourseRecord, []LessonRecord, error) {
	courseRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, objectives, author_id, is_public
		FROM courses
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load courses: %w", err)
	}
	defer courseRows.Close()

	courses := make([]CourseRecord, 0)
	for courseRows.Next() {
		var c CourseRecord
		if err := courseRows.Scan(&c.ID, &c.Title, &c.Description, &c.Objectives, &c.AuthorID, &c.IsPublic); err != nil {
			return nil, nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}
	if err := courseRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate courses: %w", err)
	}

	lessonRows, err := p.db.QueryContext(ctx, `
		SELECT l.id, l.title, l.content_type, l.unit_id, c.id, c.is_public
		FROM lessons l
		JOIN units u ON u.id = l.unit_id
		JOIN courses c ON c.id = u.course_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load lessons: %w", err)
	}
	defer lessonRows.Close()

	lessons := make([]LessonRecord, 0)
	for lessonRows.Next() {
		var l LessonRecord
		if err := lessonRows.Scan(&l.ID, &l.Title, &l.ContentType, &l.UnitID, &l.CourseID, &l.IsPublic); err != nil {
			return nil, nil, fmt.Errorf("scan lesson: %w", err)
		}
		lessons = append(lessons, l)
	}
	if err := lessonRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate lessons: %w", err)
	}

	return courses, lessons, nil
}
