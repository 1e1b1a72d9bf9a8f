package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultCourse ResultType = "course"
	ResultLesson ResultType = "lesson"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	CourseID string     `json:"courseId"`
	IsPublic bool       `json:"isPublic,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterCourseID string
	Limit          int
	Offset         int
	PublicOnly     bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexCourse(c CourseRecord) error
	IndexLesson(l LessonRecord) error
	DeleteCourse(id string) error
	DeleteLesson(id string) error
}

// CourseRecord is the data we index for a course.
type CourseRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Objectives  string `json:"objectives"`
	AuthorID    string `json:"authorId"`
	IsPublic    bool   `json:"isPublic"`
}

// LessonRecord is the data we index for a lesson.
type LessonRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ContentType string `json:"contentType"`
	UnitID      string `json:"unitId"`
	CourseID    string `json:"courseId"`
	IsPublic    bool   `json:"isPublic"`
}
