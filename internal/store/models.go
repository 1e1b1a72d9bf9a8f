package store

import (
	"encoding/json"
	"time"
)

// Proposal lifecycle. A proposal leaves pending exactly once; every other
// value is terminal.
const (
	ProposalPending   = "pending"
	ProposalApproved  = "approved"
	ProposalRejected  = "rejected"
	ProposalCancelled = "cancelled"
)

func IsTerminalStatus(status string) bool {
	return status == ProposalApproved || status == ProposalRejected || status == ProposalCancelled
}

func ValidProposalStatus(status string) bool {
	return status == ProposalPending || IsTerminalStatus(status)
}

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Course is the document root. It is owned by its author and mutated only via
// a direct author edit or the merge of an approved proposal.
type Course struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"author_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Difficulty    string    `json:"difficulty"`
	EstimatedMins int       `json:"estimated_mins"`
	Objectives    string    `json:"objectives"`
	CoverImageKey string    `json:"cover_image_key"`
	IsPublic      bool      `json:"is_public"`
	IsPublished   bool      `json:"is_published"`
	OpenToCollab  bool      `json:"open_to_collab"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CoursePatch is a field-level update of course scalars. Nil fields are left
// untouched by UpdateCourseFields.
type CoursePatch struct {
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	Difficulty    *string `json:"difficulty,omitempty"`
	EstimatedMins *int    `json:"estimated_mins,omitempty"`
	Objectives    *string `json:"objectives,omitempty"`
	CoverImageKey *string `json:"cover_image_key,omitempty"`
	IsPublic      *bool   `json:"is_public,omitempty"`
	IsPublished   *bool   `json:"is_published,omitempty"`
	OpenToCollab  *bool   `json:"open_to_collab,omitempty"`
}

func (p CoursePatch) IsZero() bool {
	return p.Title == nil && p.Description == nil && p.Difficulty == nil &&
		p.EstimatedMins == nil && p.Objectives == nil && p.CoverImageKey == nil &&
		p.IsPublic == nil && p.IsPublished == nil && p.OpenToCollab == nil
}

type Unit struct {
	ID         string `json:"id"`
	CourseID   string `json:"course_id"`
	Title      string `json:"title"`
	OrderIndex int    `json:"order_index"`
}

type Lesson struct {
	ID          string          `json:"id"`
	UnitID      string          `json:"unit_id"`
	Title       string          `json:"title"`
	ContentType string          `json:"content_type"`
	Content     json.RawMessage `json:"content"`
	OrderIndex  int             `json:"order_index"`
}

// Proposal is a persisted change request. Payload holds the full snapshot
// JSON (course, units, lessons, optional courseUpdates patch).
type Proposal struct {
	ID             string
	CourseID       string
	CollaboratorID string
	Summary        string
	Payload        json.RawMessage
	Status         string
	ReviewedBy     *string
	ReviewedAt     *time.Time
	ReviewNote     string
	CreatedAt      time.Time
}

// Collaborator links a user to a course they may draft proposals for.
type Collaborator struct {
	CourseID  string
	UserID    string
	Role      string
	AddedBy   string
	CreatedAt time.Time
}
