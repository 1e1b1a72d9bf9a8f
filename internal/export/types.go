// Package export renders a course syllabus to PDF via headless Chrome.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format.
type Format string

const (
	FormatPDF Format = "pdf"
)

// Request contains parameters for an export operation.
type Request struct {
	CourseID string
	// Version selects what to render: "main" for the published course or a
	// proposal id for its proposed snapshot.
	Version string
	Format  Format
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// CourseMeta is the header block of a rendered syllabus.
type CourseMeta struct {
	Title         string
	Description   string
	Difficulty    string
	EstimatedMins int
	Objectives    string
	Author        string
	UpdatedAt     time.Time
}

var (
	// ErrContentUnavailable indicates course content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
