package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"coursewright/api/internal/archive"
	"coursewright/api/internal/auth"
	"coursewright/api/internal/authpw"
	"coursewright/api/internal/config"
	"coursewright/api/internal/content"
	"coursewright/api/internal/rbac"
	"coursewright/api/internal/search"
	"coursewright/api/internal/snapshot"
	"coursewright/api/internal/store"
	"coursewright/api/internal/util"
)

// VersionMain selects the live course tree instead of a proposal payload.
const VersionMain = "main"

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// CourseInput carries the author-supplied fields of a new course.
type CourseInput struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Difficulty    string `json:"difficulty"`
	EstimatedMins int    `json:"estimatedMins"`
	Objectives    string `json:"objectives"`
	IsPublic      bool   `json:"isPublic"`
	OpenToCollab  bool   `json:"openToCollab"`
}

// ProposalDiff lists which entities of a proposal's snapshot differ from the
// live tree. Presentation only; the merge never consults it.
type ProposalDiff struct {
	ProposalID     string   `json:"proposalId"`
	ChangedUnits   []string `json:"changedUnits"`
	ChangedLessons []string `json:"changedLessons"`
	CourseChanged  bool     `json:"courseChanged"`
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	InsertCourse(context.Context, store.Course) error
	GetCourse(context.Context, string) (store.Course, error)
	ListCourses(context.Context, string) ([]store.Course, error)
	UpdateCourseFields(context.Context, string, store.CoursePatch) error
	ListUnits(context.Context, string) ([]store.Unit, error)
	ListLessons(context.Context, string) ([]store.Lesson, error)
	UpsertUnits(context.Context, []store.Unit) error
	UpsertLessons(context.Context, []store.Lesson) error
	DeleteUnit(context.Context, string) error
	DeleteLesson(context.Context, string) error
	CreateProposal(context.Context, store.Proposal) error
	GetProposal(context.Context, string) (store.Proposal, error)
	ListProposalsByCourse(context.Context, string, string) ([]store.Proposal, error)
	TransitionProposalStatus(context.Context, string, string, string, string) (bool, error)
	AddCollaborator(context.Context, store.Collaborator) error
	RemoveCollaborator(context.Context, string, string) error
	ListCollaborators(context.Context, string) ([]store.Collaborator, error)
	GetCollaboratorRole(context.Context, string, string) (string, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID, displayName string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type archiveStore interface {
	EnsureCourseRepo(courseID string, initial snapshot.Snapshot, author string) error
	CommitSnapshot(courseID string, snap snapshot.Snapshot, author, message string) (archive.CommitInfo, error)
	History(courseID string, limit int) ([]archive.CommitInfo, error)
	GetSnapshotByHash(courseID, hash string) (snapshot.Snapshot, error)
}

type notifier interface {
	IsConfigured() bool
	SendProposalSubmittedEmail(to, authorName, collaborator, courseTitle, summary string) error
	SendProposalDecisionEmail(to, userName, courseTitle, summary, decision, reviewNote string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	archive  archiveStore
	search   *search.Service
	notify   notifier
	authpw   *authpw.Service
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, archiveSvc archiveStore) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		archive:  archiveSvc,
	}
}

// SetSearch attaches the search facade. Optional; nil disables indexing.
func (s *Service) SetSearch(svc *search.Service) { s.search = svc }

// SetNotifier attaches the mail sender. Optional; nil disables notices.
func (s *Service) SetNotifier(n notifier) { s.notify = n }

// SetAuthPassword attaches the email/password account service.
func (s *Service) SetAuthPassword(svc *authpw.Service) { s.authpw = svc }

// AuthPasswordService returns the account service, or nil when not configured.
func (s *Service) AuthPasswordService() *authpw.Service { return s.authpw }

// SMTPConfigured reports whether outbound mail is available.
func (s *Service) SMTPConfigured() bool {
	return s.notify != nil && s.notify.IsConfigured()
}

// CreateSession issues an access/refresh token pair for a verified user id.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, user.DisplayName, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// roleFor resolves a user's effective role on a course. Authorship outranks
// any collaborator row.
func (s *Service) roleFor(ctx context.Context, course store.Course, userID string) rbac.Role {
	if userID == "" {
		return rbac.RoleViewer
	}
	if course.AuthorID == userID {
		return rbac.RoleAuthor
	}
	role, err := s.store.GetCollaboratorRole(ctx, course.ID, userID)
	if err != nil || role == "" {
		return rbac.RoleViewer
	}
	return rbac.Normalize(role)
}

// --- Courses ---

func (s *Service) CreateCourse(ctx context.Context, authorID string, input CourseInput) (store.Course, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Course{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	author, err := s.store.GetUserByID(ctx, authorID)
	if err != nil {
		return store.Course{}, fmt.Errorf("load author: %w", err)
	}

	course := store.Course{
		ID:            util.NewID("crs"),
		AuthorID:      authorID,
		Title:         title,
		Description:   strings.TrimSpace(input.Description),
		Difficulty:    strings.TrimSpace(input.Difficulty),
		EstimatedMins: input.EstimatedMins,
		Objectives:    strings.TrimSpace(input.Objectives),
		IsPublic:      input.IsPublic,
		OpenToCollab:  input.OpenToCollab,
	}
	if err := s.store.InsertCourse(ctx, course); err != nil {
		return store.Course{}, fmt.Errorf("insert course: %w", err)
	}

	if s.archive != nil {
		snap, err := snapshot.Capture(course, nil, nil)
		if err == nil {
			if err := s.archive.EnsureCourseRepo(course.ID, snap, author.DisplayName); err != nil {
				log.Warn().Err(err).Str("course", course.ID).Msg("archive init failed")
			}
		}
	}
	s.indexCourse(course)

	return course, nil
}

func (s *Service) GetCourse(ctx context.Context, courseID, viewerID string) (store.Course, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Course{}, domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	if err != nil {
		return store.Course{}, err
	}
	if !course.IsPublic && !s.isMember(ctx, course, viewerID) {
		// Private courses are invisible to outsiders, not just forbidden.
		return store.Course{}, domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	return course, nil
}

// isMember reports whether the user is the course author or holds a
// collaborator row. The rbac viewer fallback does not count; it exists for
// public-course reads only.
func (s *Service) isMember(ctx context.Context, course store.Course, userID string) bool {
	if userID == "" {
		return false
	}
	if course.AuthorID == userID {
		return true
	}
	role, err := s.store.GetCollaboratorRole(ctx, course.ID, userID)
	return err == nil && role != ""
}

func (s *Service) ListCourses(ctx context.Context, viewerID string) ([]store.Course, error) {
	return s.store.ListCourses(ctx, viewerID)
}

// UpdateCourse applies a direct author edit of course scalars, bypassing the
// proposal flow.
func (s *Service) UpdateCourse(ctx context.Context, courseID, editorID string, patch store.CoursePatch) (store.Course, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Course{}, domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	if err != nil {
		return store.Course{}, err
	}
	if !rbac.Can(s.roleFor(ctx, course, editorID), rbac.ActionEdit) {
		return store.Course{}, domainError(http.StatusForbidden, "UNAUTHORIZED", "Only the course author may edit the live course", nil)
	}
	if patch.IsZero() {
		return course, nil
	}
	if err := s.store.UpdateCourseFields(ctx, courseID, patch); err != nil {
		return store.Course{}, fmt.Errorf("update course: %w", err)
	}
	updated, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return store.Course{}, err
	}
	s.indexCourse(updated)
	return updated, nil
}

// SaveUnits upserts units on the live course as a direct author edit.
func (s *Service) SaveUnits(ctx context.Context, courseID, editorID string, units []store.Unit) error {
	course, err := s.store.GetCourse(ctx, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	if err != nil {
		return err
	}
	if !rbac.Can(s.roleFor(ctx, course, editorID), rbac.ActionEdit) {
		return domainError(http.StatusForbidden, "UNAUTHORIZED", "Only the course author may edit the live course", nil)
	}
	for i := range units {
		if units[i].ID == "" {
			units[i].ID = util.NewID("unit")
		}
		if units[i].CourseID != courseID {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				fmt.Sprintf("unit %s does not belong to course %s", units[i].ID, courseID), nil)
		}
	}
	if err := s.store.UpsertUnits(ctx, units); err != nil {
		return fmt.Errorf("upsert units: %w", err)
	}
	return nil
}

// SaveLessons upserts lessons on the live course as a direct author edit.
func (s *Service) SaveLessons(ctx context.Context, courseID, editorID string, lessons []store.Lesson) error {
	course, err := s.store.GetCourse(ctx, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	if err != nil {
		return err
	}
	if !rbac.Can(s.roleFor(ctx, course, editorID), rbac.ActionEdit) {
		return domainError(http.StatusForbidden, "UNAUTHORIZED", "Only the course author may edit the live course", nil)
	}
	units, err := s.store.ListUnits(ctx, courseID)
	if err != nil {
		return err
	}
	unitIDs := make(map[string]struct{}, len(units))
	for _, unit := range units {
		unitIDs[unit.ID] = struct{}{}
	}
	for i := range lessons {
		if lessons[i].ID == "" {
			lessons[i].ID = util.NewID("les")
		}
		if _, ok := unitIDs[lessons[i].UnitID]; !ok {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				fmt.Sprintf("lesson %s references unit %s outside course %s", lessons[i].ID, lessons[i].UnitID, courseID), nil)
		}
		if err := validateLessonContent(lessons[i]); err != nil {
			return err
		}
	}
	if err := s.store.UpsertLessons(ctx, lessons); err != nil {
		return fmt.Errorf("upsert lessons: %w", err)
	}
	for _, lesson := range lessons {
		s.indexLesson(course, lesson)
	}
	return nil
}

func (s *Service) RemoveUnit(ctx context.Context, courseID, editorID, unitID string) error {
	course, err := s.store.GetCourse(ctx, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	if err != nil {
		return err
	}
	if !rbac.Can(s.roleFor(ctx, course, editorID), rbac.ActionEdit) {
		return domainError(http.StatusForbidden, "UNAUTHORIZED", "Only the course author may edit the live course", nil)
	}
	units, err := s.store.ListUnits(ctx, courseID)
	if err != nil {
		return err
	}
	found := false
	for _, unit := range units {
		if unit.ID == unitID {
			found = true
			break
		}
	}
	if !found {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Unit not found in course", nil)
	}
	return s.store.DeleteUnit(ctx, unitID)
}

func (s *Service) RemoveLesson(ctx context.Context, courseID, editorID, lessonID string) error {
	course, err := s.store.GetCourse(ctx, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	if err != nil {
		return err
	}
	if !rbac.Can(s.roleFor(ctx, course, editorID), rbac.ActionEdit) {
		return domainError(http.StatusForbidden, "UNAUTHORIZED", "Only the course author may edit the live course", nil)
	}
	lessons, err := s.store.ListLessons(ctx, courseID)
	if err != nil {
		return err
	}
	found := false
	for _, lesson := range lessons {
		if lesson.ID == lessonID {
			found = true
			break
		}
	}
	if !found {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Lesson not found in course", nil)
	}
	if err := s.store.DeleteLesson(ctx, lessonID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteLesson(lessonID)
	}
	return nil
}

// --- Collaborators ---

func (s *Service) AddCollaborator(ctx context.Context, courseID, actorID, userID, role string) error {
	course, err := s.store.GetCourse(ctx, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	if err != nil {
		return err
	}
	if !rbac.Can(s.roleFor(ctx, course, actorID), rbac.ActionManage) {
		return domainError(http.StatusForbidden, "UNAUTHORIZED", "Only the course author may manage collaborators", nil)
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
	}
	normalized := rbac.Normalize(role)
	if normalized == rbac.RoleAuthor {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "authorship cannot be granted as a collaborator role", nil)
	}
	return s.store.AddCollaborator(ctx, store.Collaborator{
		CourseID: courseID,
		UserID:   userID,
		Role:     string(normalized),
		AddedBy:  actorID,
	})
}

func (s *Service) RemoveCollaborator(ctx context.Context, courseID, actorID, userID string) error {
	course, err := s.store.GetCourse(ctx, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	if err != nil {
		return err
	}
	if !rbac.Can(s.roleFor(ctx, course, actorID), rbac.ActionManage) {
		return domainError(http.StatusForbidden, "UNAUTHORIZED", "Only the course author may manage collaborators", nil)
	}
	return s.store.RemoveCollaborator(ctx, courseID, userID)
}

func (s *Service) ListCollaborators(ctx context.Context, courseID, viewerID string) ([]store.Collaborator, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if !s.isMember(ctx, course, viewerID) {
		return nil, domainError(http.StatusForbidden, "UNAUTHORIZED", "Forbidden", nil)
	}
	return s.store.ListCollaborators(ctx, courseID)
}

// --- Version selector ---

// GetSnapshot resolves a version id to a snapshot: "main" re-fetches the live
// tree; anything else must be a proposal id belonging to the course. It
// performs no authorization of its own.
func (s *Service) GetSnapshot(ctx context.Context, courseID, version string) (snapshot.Snapshot, error) {
	if version == "" || version == VersionMain {
		return s.liveSnapshot(ctx, courseID)
	}

	payload, err := s.proposalPayload(ctx, courseID, version)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return payload.Snapshot, nil
}

// proposalPayload loads a proposal belonging to courseID and decodes its
// stored payload. Proposals under other courses read as missing versions.
func (s *Service) proposalPayload(ctx context.Context, courseID, proposalID string) (snapshot.Payload, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Payload{}, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", nil)
	}
	if err != nil {
		return snapshot.Payload{}, err
	}
	if proposal.CourseID != courseID {
		return snapshot.Payload{}, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", nil)
	}

	payload, err := snapshot.ParsePayload(proposal.Payload)
	if err != nil {
		log.Error().Err(err).Str("proposal", proposal.ID).Msg("stored proposal payload is malformed")
		return snapshot.Payload{}, domainError(http.StatusUnprocessableEntity, "MALFORMED_SNAPSHOT", "Proposal payload failed validation", nil)
	}
	return payload, nil
}

// GetAuthorName resolves the display name of a course's author.
func (s *Service) GetAuthorName(ctx context.Context, courseID string) (string, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return "", err
	}
	author, err := s.store.GetUserByID(ctx, course.AuthorID)
	if err != nil {
		return "", err
	}
	return author.DisplayName, nil
}

func (s *Service) liveSnapshot(ctx context.Context, courseID string) (snapshot.Snapshot, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Snapshot{}, domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	units, err := s.store.ListUnits(ctx, courseID)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	lessons, err := s.store.ListLessons(ctx, courseID)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	snap, err := snapshot.Capture(course, units, lessons)
	if err != nil {
		log.Error().Err(err).Str("course", courseID).Msg("live course tree is malformed")
		return snapshot.Snapshot{}, err
	}
	return snap, nil
}

// DiffProposal compares a proposal's snapshot to the live tree and reports
// which entities a reviewer UI should highlight. Callers viewing "main" must
// short-circuit before calling; main never diffs against itself.
func (s *Service) DiffProposal(ctx context.Context, courseID, proposalID string) (ProposalDiff, error) {
	payload, err := s.proposalPayload(ctx, courseID, proposalID)
	if err != nil {
		return ProposalDiff{}, err
	}
	candidate := payload.Snapshot
	base, err := s.liveSnapshot(ctx, courseID)
	if err != nil {
		return ProposalDiff{}, err
	}

	diff := ProposalDiff{
		ProposalID:     proposalID,
		ChangedUnits:   []string{},
		ChangedLessons: []string{},
	}

	baseUnits := base.UnitsByID()
	for _, unit := range candidate.Units {
		if snapshot.UnitChanged(unit, baseUnits) {
			diff.ChangedUnits = append(diff.ChangedUnits, unit.ID)
		}
	}
	baseLessons := base.LessonsByID()
	for _, lesson := range candidate.Lessons {
		if snapshot.LessonChanged(lesson, baseLessons) {
			diff.ChangedLessons = append(diff.ChangedLessons, lesson.ID)
		}
	}
	diff.CourseChanged = (payload.CourseUpdates != nil && !payload.CourseUpdates.IsZero()) ||
		courseFieldsDiffer(candidate.Course, base.Course)

	return diff, nil
}

// courseFieldsDiffer compares every course field a proposal can change.
// Timestamps are ignored: drafted snapshots carry zero values for them.
func courseFieldsDiffer(a, b store.Course) bool {
	return a.Title != b.Title ||
		a.Description != b.Description ||
		a.Difficulty != b.Difficulty ||
		a.EstimatedMins != b.EstimatedMins ||
		a.Objectives != b.Objectives ||
		a.CoverImageKey != b.CoverImageKey ||
		a.IsPublic != b.IsPublic ||
		a.IsPublished != b.IsPublished ||
		a.OpenToCollab != b.OpenToCollab
}

// --- Proposals ---

func (s *Service) CreateProposal(ctx context.Context, courseID, collaboratorID, summary string, payload snapshot.Payload) (store.Proposal, error) {
	if strings.TrimSpace(summary) == "" {
		return store.Proposal{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "summary is required", nil)
	}

	course, err := s.store.GetCourse(ctx, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Proposal{}, domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	if err != nil {
		return store.Proposal{}, err
	}

	role := s.roleFor(ctx, course, collaboratorID)
	if !rbac.Can(role, rbac.ActionPropose) && !course.OpenToCollab {
		return store.Proposal{}, domainError(http.StatusForbidden, "UNAUTHORIZED", "Course is not open to proposals from this user", nil)
	}

	if payload.Course.ID != courseID {
		return store.Proposal{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"payload course id must match the course being proposed against", nil)
	}
	if err := payload.Validate(); err != nil {
		log.Error().Err(err).Str("course", courseID).Msg("rejected malformed proposal snapshot")
		return store.Proposal{}, domainError(http.StatusUnprocessableEntity, "MALFORMED_SNAPSHOT", err.Error(), nil)
	}
	for _, lesson := range payload.Lessons {
		if err := validateLessonContent(lesson); err != nil {
			return store.Proposal{}, err
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return store.Proposal{}, fmt.Errorf("encode proposal payload: %w", err)
	}

	proposal := store.Proposal{
		ID:             util.NewID("prop"),
		CourseID:       courseID,
		CollaboratorID: collaboratorID,
		Summary:        strings.TrimSpace(summary),
		Payload:        raw,
		Status:         store.ProposalPending,
	}
	if err := s.store.CreateProposal(ctx, proposal); err != nil {
		return store.Proposal{}, fmt.Errorf("create proposal: %w", err)
	}

	s.notifyProposalSubmitted(ctx, course, proposal)

	return s.store.GetProposal(ctx, proposal.ID)
}

func (s *Service) ListProposals(ctx context.Context, courseID, statusFilter string) ([]store.Proposal, error) {
	if statusFilter != "" && !store.ValidProposalStatus(statusFilter) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"status must be one of pending, approved, rejected, cancelled", nil)
	}
	if _, err := s.store.GetCourse(ctx, courseID); errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	} else if err != nil {
		return nil, err
	}
	return s.store.ListProposalsByCourse(ctx, courseID, statusFilter)
}

func (s *Service) GetProposal(ctx context.Context, proposalID string) (store.Proposal, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Proposal{}, domainError(http.StatusNotFound, "PROPOSAL_NOT_FOUND", "Proposal not found", nil)
	}
	return proposal, err
}

// ApproveProposal merges a pending proposal onto the live course. Every
// document write is an idempotent upsert, so a retry after partial failure is
// safe; the status flip is a compare-and-set so concurrent approvals resolve
// to exactly one winner.
func (s *Service) ApproveProposal(ctx context.Context, proposalID, approverID string) (store.Proposal, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Proposal{}, domainError(http.StatusNotFound, "PROPOSAL_NOT_FOUND", "Proposal not found", nil)
	}
	if err != nil {
		return store.Proposal{}, err
	}

	if proposal.Status != store.ProposalPending {
		return store.Proposal{}, domainError(http.StatusConflict, "INVALID_STATE_TRANSITION",
			fmt.Sprintf("proposal is %s, not pending", proposal.Status), nil)
	}

	course, err := s.store.GetCourse(ctx, proposal.CourseID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Proposal{}, domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	if err != nil {
		return store.Proposal{}, err
	}

	if course.AuthorID != approverID {
		return store.Proposal{}, domainError(http.StatusForbidden, "UNAUTHORIZED", "Only the course author may approve a proposal", nil)
	}

	payload, err := snapshot.ParsePayload(proposal.Payload)
	if err != nil {
		log.Error().Err(err).Str("proposal", proposalID).Msg("refusing to merge malformed snapshot")
		return store.Proposal{}, domainError(http.StatusUnprocessableEntity, "MALFORMED_SNAPSHOT", "Proposal payload failed validation", nil)
	}

	// Apply order: course scalars, then units, then lessons. A failure here
	// leaves the proposal pending; the whole approval can be retried.
	if payload.CourseUpdates != nil && !payload.CourseUpdates.IsZero() {
		if err := s.store.UpdateCourseFields(ctx, course.ID, *payload.CourseUpdates); err != nil {
			return store.Proposal{}, fmt.Errorf("apply course updates: %w", err)
		}
	}
	if len(payload.Units) > 0 {
		if err := s.store.UpsertUnits(ctx, payload.Units); err != nil {
			return store.Proposal{}, fmt.Errorf("apply units: %w", err)
		}
	}
	if len(payload.Lessons) > 0 {
		if err := s.store.UpsertLessons(ctx, payload.Lessons); err != nil {
			return store.Proposal{}, fmt.Errorf("apply lessons: %w", err)
		}
	}

	won, err := s.store.TransitionProposalStatus(ctx, proposalID, store.ProposalApproved, approverID, "")
	if err != nil {
		return store.Proposal{}, fmt.Errorf("transition proposal: %w", err)
	}
	if !won {
		// A concurrent reviewer got there first. Our writes are harmless
		// idempotent supersets of the winner's merge.
		return store.Proposal{}, domainError(http.StatusConflict, "INVALID_STATE_TRANSITION", "proposal was reviewed concurrently", nil)
	}

	s.afterMerge(ctx, course, proposal, approverID)

	return s.store.GetProposal(ctx, proposalID)
}

// RejectProposal declines a pending proposal without touching the live course.
func (s *Service) RejectProposal(ctx context.Context, proposalID, reviewerID, reason string) (store.Proposal, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Proposal{}, domainError(http.StatusNotFound, "PROPOSAL_NOT_FOUND", "Proposal not found", nil)
	}
	if err != nil {
		return store.Proposal{}, err
	}
	if proposal.Status != store.ProposalPending {
		return store.Proposal{}, domainError(http.StatusConflict, "INVALID_STATE_TRANSITION",
			fmt.Sprintf("proposal is %s, not pending", proposal.Status), nil)
	}

	course, err := s.store.GetCourse(ctx, proposal.CourseID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Proposal{}, domainError(http.StatusNotFound, "COURSE_NOT_FOUND", "Course not found", nil)
	}
	if err != nil {
		return store.Proposal{}, err
	}
	if course.AuthorID != reviewerID {
		return store.Proposal{}, domainError(http.StatusForbidden, "UNAUTHORIZED", "Only the course author may reject a proposal", nil)
	}

	won, err := s.store.TransitionProposalStatus(ctx, proposalID, store.ProposalRejected, reviewerID, strings.TrimSpace(reason))
	if err != nil {
		return store.Proposal{}, fmt.Errorf("transition proposal: %w", err)
	}
	if !won {
		return store.Proposal{}, domainError(http.StatusConflict, "INVALID_STATE_TRANSITION", "proposal was reviewed concurrently", nil)
	}

	s.notifyDecision(ctx, course, proposal, "rejected", reason)

	return s.store.GetProposal(ctx, proposalID)
}

// CancelProposal lets the proposal's own collaborator withdraw it.
func (s *Service) CancelProposal(ctx context.Context, proposalID, requesterID string) (store.Proposal, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Proposal{}, domainError(http.StatusNotFound, "PROPOSAL_NOT_FOUND", "Proposal not found", nil)
	}
	if err != nil {
		return store.Proposal{}, err
	}
	if proposal.Status != store.ProposalPending {
		return store.Proposal{}, domainError(http.StatusConflict, "INVALID_STATE_TRANSITION",
			fmt.Sprintf("proposal is %s, not pending", proposal.Status), nil)
	}
	if proposal.CollaboratorID != requesterID {
		return store.Proposal{}, domainError(http.StatusForbidden, "UNAUTHORIZED", "Only the proposal's collaborator may cancel it", nil)
	}

	won, err := s.store.TransitionProposalStatus(ctx, proposalID, store.ProposalCancelled, requesterID, "")
	if err != nil {
		return store.Proposal{}, fmt.Errorf("transition proposal: %w", err)
	}
	if !won {
		return store.Proposal{}, domainError(http.StatusConflict, "INVALID_STATE_TRANSITION", "proposal was reviewed concurrently", nil)
	}

	return s.store.GetProposal(ctx, proposalID)
}

// --- Archive ---

func (s *Service) History(ctx context.Context, courseID, viewerID string, limit int) ([]archive.CommitInfo, error) {
	if _, err := s.GetCourse(ctx, courseID, viewerID); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return []archive.CommitInfo{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	return s.archive.History(courseID, limit)
}

func (s *Service) SnapshotAtCommit(ctx context.Context, courseID, viewerID, hash string) (snapshot.Snapshot, error) {
	if _, err := s.GetCourse(ctx, courseID, viewerID); err != nil {
		return snapshot.Snapshot{}, err
	}
	if s.archive == nil {
		return snapshot.Snapshot{}, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Archive is not enabled", nil)
	}
	snap, err := s.archive.GetSnapshotByHash(courseID, hash)
	if err != nil {
		return snapshot.Snapshot{}, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "No archived snapshot at that hash", nil)
	}
	return snap, nil
}

// --- Search ---

func (s *Service) Search(ctx context.Context, text, filterType, courseID string, limit, offset int, viewerID string) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	q := search.Query{
		Text:           text,
		FilterType:     search.ResultType(filterType),
		FilterCourseID: courseID,
		Limit:          limit,
		Offset:         offset,
		PublicOnly:     viewerID == "",
	}
	return s.search.Search(q), nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- internal helpers ---

func validateLessonContent(lesson store.Lesson) error {
	parsed, err := content.Parse(lesson.Content)
	if err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("lesson %s content: %v", lesson.ID, err), nil)
	}
	if string(parsed.Kind) != lesson.ContentType {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("lesson %s content kind %q does not match content_type %q", lesson.ID, parsed.Kind, lesson.ContentType), nil)
	}
	return nil
}

// afterMerge records the merged tree in the archive, refreshes search, and
// notifies the collaborator. All best-effort; the merge itself already
// committed.
func (s *Service) afterMerge(ctx context.Context, course store.Course, proposal store.Proposal, approverID string) {
	merged, err := s.liveSnapshot(ctx, course.ID)
	if err != nil {
		log.Warn().Err(err).Str("course", course.ID).Msg("post-merge snapshot failed")
		return
	}

	if s.archive != nil {
		approver, err := s.store.GetUserByID(ctx, approverID)
		authorName := course.AuthorID
		if err == nil {
			authorName = approver.DisplayName
		}
		if err := s.archive.EnsureCourseRepo(course.ID, merged, authorName); err != nil {
			log.Warn().Err(err).Str("course", course.ID).Msg("archive init failed")
		}
		message := fmt.Sprintf("Merge proposal %s: %s", proposal.ID, proposal.Summary)
		if _, err := s.archive.CommitSnapshot(course.ID, merged, authorName, message); err != nil {
			log.Warn().Err(err).Str("course", course.ID).Msg("archive commit failed")
		}
	}

	s.indexCourse(merged.Course)
	for _, lesson := range merged.Lessons {
		s.indexLesson(merged.Course, lesson)
	}

	s.notifyDecision(ctx, course, proposal, "approved", "")
}

func (s *Service) indexCourse(course store.Course) {
	if s.search == nil {
		return
	}
	s.search.IndexCourse(search.CourseRecord{
		ID:          course.ID,
		Title:       course.Title,
		Description: course.Description,
		Objectives:  course.Objectives,
		AuthorID:    course.AuthorID,
		IsPublic:    course.IsPublic,
	})
}

func (s *Service) indexLesson(course store.Course, lesson store.Lesson) {
	if s.search == nil {
		return
	}
	s.search.IndexLesson(search.LessonRecord{
		ID:          lesson.ID,
		Title:       lesson.Title,
		ContentType: lesson.ContentType,
		UnitID:      lesson.UnitID,
		CourseID:    course.ID,
		IsPublic:    course.IsPublic,
	})
}

func (s *Service) notifyProposalSubmitted(ctx context.Context, course store.Course, proposal store.Proposal) {
	if s.notify == nil || !s.notify.IsConfigured() {
		return
	}
	author, err := s.store.GetUserByID(ctx, course.AuthorID)
	if err != nil {
		return
	}
	collaborator, err := s.store.GetUserByID(ctx, proposal.CollaboratorID)
	if err != nil {
		return
	}
	if err := s.notify.SendProposalSubmittedEmail(author.Email, author.DisplayName, collaborator.DisplayName, course.Title, proposal.Summary); err != nil {
		log.Warn().Err(err).Str("proposal", proposal.ID).Msg("submit notice failed")
	}
}

func (s *Service) notifyDecision(ctx context.Context, course store.Course, proposal store.Proposal, decision, note string) {
	if s.notify == nil || !s.notify.IsConfigured() {
		return
	}
	collaborator, err := s.store.GetUserByID(ctx, proposal.CollaboratorID)
	if err != nil {
		return
	}
	if err := s.notify.SendProposalDecisionEmail(collaborator.Email, collaborator.DisplayName, course.Title, proposal.Summary, decision, note); err != nil {
		log.Warn().Err(err).Str("proposal", proposal.ID).Msg("decision notice failed")
	}
}
