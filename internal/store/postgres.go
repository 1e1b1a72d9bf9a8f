package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertCourse(ctx context.Context, course Course) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (id, author_id, title, description, difficulty, estimated_mins, objectives, cover_image_key, is_public, is_published, open_to_collab)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, course.ID, course.AuthorID, course.Title, course.Description, course.Difficulty,
		course.EstimatedMins, course.Objectives, course.CoverImageKey,
		course.IsPublic, course.IsPublished, course.OpenToCollab)
	if err != nil {
		return fmt.Errorf("insert course: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCourse(ctx context.Context, courseID string) (Course, error) {
	var item Course
	err := s.db.QueryRowContext(ctx, `
		SELECT id, author_id, title, description, difficulty, estimated_mins, objectives,
		       COALESCE(cover_image_key, ''), is_public, is_published, open_to_collab, created_at, updated_at
		FROM courses
		WHERE id=$1
	`, courseID).Scan(
		&item.ID,
		&item.AuthorID,
		&item.Title,
		&item.Description,
		&item.Difficulty,
		&item.EstimatedMins,
		&item.Objectives,
		&item.CoverImageKey,
		&item.IsPublic,
		&item.IsPublished,
		&item.OpenToCollab,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Course{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListCourses(ctx context.Context, viewerID string) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT c.id, c.author_id, c.title, c.description, c.difficulty, c.estimated_mins, c.objectives,
		       COALESCE(c.cover_image_key, ''), c.is_public, c.is_published, c.open_to_collab, c.created_at, c.updated_at
		FROM courses c
		LEFT JOIN course_collaborators cc ON cc.course_id = c.id AND cc.user_id = $1
		WHERE c.is_public OR c.author_id = $1 OR cc.user_id IS NOT NULL
		ORDER BY c.updated_at DESC
	`, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	items := make([]Course, 0)
	for rows.Next() {
		var item Course
		if err := rows.Scan(
			&item.ID,
			&item.AuthorID,
			&item.Title,
			&item.Description,
			&item.Difficulty,
			&item.EstimatedMins,
			&item.Objectives,
			&item.CoverImageKey,
			&item.IsPublic,
			&item.IsPublished,
			&item.OpenToCollab,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}
	return items, nil
}

// UpdateCourseFields applies a scalar patch; nil fields are skipped so a merge
// never clobbers scalars the proposal did not touch.
func (s *PostgresStore) UpdateCourseFields(ctx context.Context, courseID string, patch CoursePatch) error {
	assignments := make([]string, 0, 9)
	args := []any{courseID}
	add := func(column string, value any) {
		args = append(args, value)
		assignments = append(assignments, column+"=$"+strconv.Itoa(len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Difficulty != nil {
		add("difficulty", *patch.Difficulty)
	}
	if patch.EstimatedMins != nil {
		add("estimated_mins", *patch.EstimatedMins)
	}
	if patch.Objectives != nil {
		add("objectives", *patch.Objectives)
	}
	if patch.CoverImageKey != nil {
		add("cover_image_key", *patch.CoverImageKey)
	}
	if patch.IsPublic != nil {
		add("is_public", *patch.IsPublic)
	}
	if patch.IsPublished != nil {
		add("is_published", *patch.IsPublished)
	}
	if patch.OpenToCollab != nil {
		add("open_to_collab", *patch.OpenToCollab)
	}
	if len(assignments) == 0 {
		return nil
	}
	query := "UPDATE courses SET " + strings.Join(assignments, ", ") + ", updated_at=NOW() WHERE id=$1"
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update course fields: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update course fields rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListUnits(ctx context.Context, courseID string) ([]Unit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, course_id, title, order_index
		FROM units
		WHERE course_id=$1
		ORDER BY order_index ASC, id ASC
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	items := make([]Unit, 0)
	for rows.Next() {
		var item Unit
		if err := rows.Scan(&item.ID, &item.CourseID, &item.Title, &item.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListLessons(ctx context.Context, courseID string) ([]Lesson, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.unit_id, l.title, l.content_type, l.content_json, l.order_index
		FROM lessons l
		JOIN units u ON u.id = l.unit_id
		WHERE u.course_id=$1
		ORDER BY u.order_index ASC, l.order_index ASC, l.id ASC
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()

	items := make([]Lesson, 0)
	for rows.Next() {
		var item Lesson
		var raw []byte
		if err := rows.Scan(&item.ID, &item.UnitID, &item.Title, &item.ContentType, &raw, &item.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		item.Content = raw
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lessons: %w", err)
	}
	return items, nil
}

// UpsertUnits writes each unit keyed by id. Existing rows are overwritten,
// new rows inserted; units absent from the slice are left alone. The whole
// batch runs in one transaction: the (course_id, order_index) unique
// constraint is deferred to commit, so reorders that swap indexes between
// rows do not trip it mid-batch.
func (s *PostgresStore) UpsertUnits(ctx context.Context, units []Unit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert units: %w", err)
	}
	defer tx.Rollback()

	for _, unit := range units {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO units (id, course_id, title, order_index)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET course_id=EXCLUDED.course_id, title=EXCLUDED.title, order_index=EXCLUDED.order_index, updated_at=NOW()
		`, unit.ID, unit.CourseID, unit.Title, unit.OrderIndex); err != nil {
			return fmt.Errorf("upsert unit %s: %w", unit.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert units: %w", err)
	}
	return nil
}

// UpsertLessons mirrors UpsertUnits for lessons, keyed by id and batched in
// one transaction for the same deferred-constraint reason.
func (s *PostgresStore) UpsertLessons(ctx context.Context, lessons []Lesson) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert lessons: %w", err)
	}
	defer tx.Rollback()

	for _, lesson := range lessons {
		content := lesson.Content
		if len(content) == 0 {
			content = []byte(`{}`)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lessons (id, unit_id, title, content_type, content_json, order_index)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6)
			ON CONFLICT (id) DO UPDATE SET unit_id=EXCLUDED.unit_id, title=EXCLUDED.title, content_type=EXCLUDED.content_type, content_json=EXCLUDED.content_json, order_index=EXCLUDED.order_index, updated_at=NOW()
		`, lesson.ID, lesson.UnitID, lesson.Title, lesson.ContentType, string(content), lesson.OrderIndex); err != nil {
			return fmt.Errorf("upsert lesson %s: %w", lesson.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert lessons: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteUnit(ctx context.Context, unitID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM units WHERE id=$1`, unitID)
	if err != nil {
		return fmt.Errorf("delete unit: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteLesson(ctx context.Context, lessonID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM lessons WHERE id=$1`, lessonID)
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateProposal(ctx context.Context, proposal Proposal) error {
	payload := proposal.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, course_id, collaborator_id, summary, payload_json, status)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`, proposal.ID, proposal.CourseID, proposal.CollaboratorID, proposal.Summary, string(payload), proposal.Status)
	if err != nil {
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	var item Proposal
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, course_id, collaborator_id, summary, payload_json, status, reviewed_by, reviewed_at, COALESCE(review_note, ''), created_at
		FROM proposals
		WHERE id=$1
	`, proposalID).Scan(
		&item.ID,
		&item.CourseID,
		&item.CollaboratorID,
		&item.Summary,
		&payload,
		&item.Status,
		&item.ReviewedBy,
		&item.ReviewedAt,
		&item.ReviewNote,
		&item.CreatedAt,
	)
	if err != nil {
		return Proposal{}, err
	}
	item.Payload = payload
	return item, nil
}

func (s *PostgresStore) ListProposalsByCourse(ctx context.Context, courseID, statusFilter string) ([]Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, course_id, collaborator_id, summary, payload_json, status, reviewed_by, reviewed_at, COALESCE(review_note, ''), created_at
		FROM proposals
		WHERE course_id=$1 AND ($2='' OR status=$2)
		ORDER BY created_at DESC
	`, courseID, statusFilter)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	items := make([]Proposal, 0)
	for rows.Next() {
		var item Proposal
		var payload []byte
		if err := rows.Scan(
			&item.ID,
			&item.CourseID,
			&item.CollaboratorID,
			&item.Summary,
			&payload,
			&item.Status,
			&item.ReviewedBy,
			&item.ReviewedAt,
			&item.ReviewNote,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		item.Payload = payload
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

// TransitionProposalStatus moves a proposal out of pending with a
// compare-and-set: the UPDATE only matches while the row is still pending, so
// of two racing reviewers exactly one observes true.
func (s *PostgresStore) TransitionProposalStatus(ctx context.Context, proposalID, status, reviewedBy, note string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET status=$2, reviewed_by=$3, reviewed_at=NOW(), review_note=NULLIF($4, '')
		WHERE id=$1 AND status=$5
	`, proposalID, status, reviewedBy, note, ProposalPending)
	if err != nil {
		return false, fmt.Errorf("transition proposal status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition proposal rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) AddCollaborator(ctx context.Context, collab Collaborator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO course_collaborators (course_id, user_id, role, added_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (course_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, collab.CourseID, collab.UserID, collab.Role, collab.AddedBy)
	if err != nil {
		return fmt.Errorf("add collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveCollaborator(ctx context.Context, courseID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM course_collaborators WHERE course_id=$1 AND user_id=$2
	`, courseID, userID)
	if err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, courseID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT course_id, user_id, role, COALESCE(added_by, ''), created_at
		FROM course_collaborators
		WHERE course_id=$1
		ORDER BY created_at ASC
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]Collaborator, 0)
	for rows.Next() {
		var item Collaborator
		if err := rows.Scan(&item.CourseID, &item.UserID, &item.Role, &item.AddedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCollaboratorRole(ctx context.Context, courseID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM course_collaborators WHERE course_id=$1 AND user_id=$2
	`, courseID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get collaborator role: %w", err)
	}
	return role, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
