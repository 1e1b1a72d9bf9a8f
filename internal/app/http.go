package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"coursewright/api/internal/assets"
	"coursewright/api/internal/auth"
	"coursewright/api/internal/authpw"
	"coursewright/api/internal/export"
	"coursewright/api/internal/snapshot"
	"coursewright/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	exporter   *export.Service
	assets     *assets.Service
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

// SetExporter attaches the PDF export service. Optional.
func (s *HTTPServer) SetExporter(svc *export.Service) { s.exporter = svc }

// SetAssets attaches the cover-image object store. Optional.
func (s *HTTPServer) SetAssets(svc *assets.Service) { s.assets = svc }

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ready" {
		if err := s.service.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "Dependencies unavailable", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Account endpoints.
	if r.Method == http.MethodPost {
		switch r.URL.Path {
		case "/api/auth/signup":
			s.handleAuthSignUp(w, r)
			return
		case "/api/auth/signin":
			s.handleAuthSignIn(w, r)
			return
		case "/api/auth/verify-email":
			s.handleAuthVerifyEmail(w, r)
			return
		case "/api/auth/request-reset":
			s.handleAuthRequestReset(w, r)
			return
		case "/api/auth/reset-password":
			s.handleAuthResetPassword(w, r)
			return
		case "/api/auth/refresh":
			s.handleAuthRefresh(w, r)
			return
		case "/api/auth/logout":
			s.handleAuthLogout(w, r)
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	parts = parts[1:]

	switch parts[0] {
	case "courses":
		s.handleCourses(w, r, parts[1:])
		return
	case "proposals":
		s.handleProposals(w, r, parts[1:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// --- Courses ---

func (s *HTTPServer) handleCourses(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			viewerID := s.optionalUserID(r)
			courses, err := s.service.ListCourses(r.Context(), viewerID)
			if err != nil {
				respondError(w, err)
				return
			}
			views := make([]map[string]any, 0, len(courses))
			for _, course := range courses {
				views = append(views, courseView(course))
			}
			writeJSON(w, http.StatusOK, map[string]any{"courses": views})
			return
		case http.MethodPost:
			session, ok := s.requireSession(w, r)
			if !ok {
				return
			}
			var input CourseInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			course, err := s.service.CreateCourse(r.Context(), session.UserID, input)
			if err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, courseView(course))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	courseID := parts[0]
	rest := parts[1:]

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			viewerID := s.optionalUserID(r)
			course, err := s.service.GetCourse(r.Context(), courseID, viewerID)
			if err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, courseView(course))
			return
		case http.MethodPatch, http.MethodPut:
			session, ok := s.requireSession(w, r)
			if !ok {
				return
			}
			var patch store.CoursePatch
			if err := decodeBody(r, &patch); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			course, err := s.service.UpdateCourse(r.Context(), courseID, session.UserID, patch)
			if err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, courseView(course))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch rest[0] {
	case "snapshot":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		viewerID := s.optionalUserID(r)
		if _, err := s.service.GetCourse(r.Context(), courseID, viewerID); err != nil {
			respondError(w, err)
			return
		}
		version := r.URL.Query().Get("version")
		snap, err := s.service.GetSnapshot(r.Context(), courseID, version)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return

	case "diff":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		viewerID := s.optionalUserID(r)
		if _, err := s.service.GetCourse(r.Context(), courseID, viewerID); err != nil {
			respondError(w, err)
			return
		}
		version := r.URL.Query().Get("version")
		if version == "" || version == VersionMain {
			// Main never differs from itself.
			writeJSON(w, http.StatusOK, ProposalDiff{
				ProposalID:     VersionMain,
				ChangedUnits:   []string{},
				ChangedLessons: []string{},
			})
			return
		}
		diff, err := s.service.DiffProposal(r.Context(), courseID, version)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, diff)
		return

	case "units":
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if r.Method == http.MethodPut && len(rest) == 1 {
			var body struct {
				Units []store.Unit `json:"units"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.SaveUnits(r.Context(), courseID, session.UserID, body.Units); err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		if r.Method == http.MethodDelete && len(rest) == 2 {
			if err := s.service.RemoveUnit(r.Context(), courseID, session.UserID, rest[1]); err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return

	case "lessons":
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if r.Method == http.MethodPut && len(rest) == 1 {
			var body struct {
				Lessons []store.Lesson `json:"lessons"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.SaveLessons(r.Context(), courseID, session.UserID, body.Lessons); err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		if r.Method == http.MethodDelete && len(rest) == 2 {
			if err := s.service.RemoveLesson(r.Context(), courseID, session.UserID, rest[1]); err != nil {
				respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return

	case "collaborators":
		s.handleCollaborators(w, r, courseID, rest[1:])
		return

	case "proposals":
		s.handleCourseProposals(w, r, courseID)
		return

	case "history":
		s.handleHistory(w, r, courseID, rest[1:])
		return

	case "export.pdf":
		s.handleExportPDF(w, r, courseID)
		return

	case "cover":
		s.handleCover(w, r, courseID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCollaborators(w http.ResponseWriter, r *http.Request, courseID string, rest []string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch {
	case r.Method == http.MethodGet && len(rest) == 0:
		collaborators, err := s.service.ListCollaborators(r.Context(), courseID, session.UserID)
		if err != nil {
			respondError(w, err)
			return
		}
		views := make([]map[string]any, 0, len(collaborators))
		for _, c := range collaborators {
			views = append(views, map[string]any{
				"userId":  c.UserID,
				"role":    c.Role,
				"addedBy": c.AddedBy,
				"addedAt": c.CreatedAt.Unix(),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"collaborators": views})
		return

	case r.Method == http.MethodPost && len(rest) == 0:
		var body struct {
			UserID string `json:"userId"`
			Role   string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.AddCollaborator(r.Context(), courseID, session.UserID, body.UserID, body.Role); err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
		return

	case r.Method == http.MethodDelete && len(rest) == 1:
		if err := s.service.RemoveCollaborator(r.Context(), courseID, session.UserID, rest[0]); err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleCourseProposals(w http.ResponseWriter, r *http.Request, courseID string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		proposals, err := s.service.ListProposals(r.Context(), courseID, r.URL.Query().Get("status"))
		if err != nil {
			respondError(w, err)
			return
		}
		views := make([]map[string]any, 0, len(proposals))
		for _, p := range proposals {
			views = append(views, proposalView(p, false))
		}
		writeJSON(w, http.StatusOK, map[string]any{"proposals": views})
		return

	case http.MethodPost:
		var body struct {
			Summary string           `json:"summary"`
			Payload snapshot.Payload `json:"payload"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		proposal, err := s.service.CreateProposal(r.Context(), courseID, session.UserID, body.Summary, body.Payload)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, proposalView(proposal, true))
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// --- Proposals ---

func (s *HTTPServer) handleProposals(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	proposalID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		proposal, err := s.service.GetProposal(r.Context(), proposalID)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, proposalView(proposal, true))
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	var proposal store.Proposal
	var err error
	switch parts[1] {
	case "approve":
		proposal, err = s.service.ApproveProposal(r.Context(), proposalID, session.UserID)
	case "reject":
		var body struct {
			Reason string `json:"reason"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		proposal, err = s.service.RejectProposal(r.Context(), proposalID, session.UserID, body.Reason)
	case "cancel":
		proposal, err = s.service.CancelProposal(r.Context(), proposalID, session.UserID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposalView(proposal, false))
}

// --- Archive ---

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, courseID string, rest []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if len(rest) == 1 {
		snap, err := s.service.SnapshotAtCommit(r.Context(), courseID, session.UserID, rest[0])
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	commits, err := s.service.History(r.Context(), courseID, session.UserID, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(commits))
	for _, c := range commits {
		views = append(views, map[string]any{
			"hash":      c.Hash,
			"message":   c.Message,
			"author":    c.Author,
			"createdAt": c.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": views})
}

// --- Export ---

func (s *HTTPServer) handleExportPDF(w http.ResponseWriter, r *http.Request, courseID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
		return
	}
	if _, err := s.service.GetCourse(r.Context(), courseID, session.UserID); err != nil {
		respondError(w, err)
		return
	}

	version := r.URL.Query().Get("version")
	if version == "" {
		version = VersionMain
	}
	result, err := s.exporter.Export(r.Context(), export.Request{
		CourseID: courseID,
		Version:  version,
		Format:   export.FormatPDF,
	})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF rendering is unavailable", nil)
			return
		}
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// --- Cover images ---

func (s *HTTPServer) handleCover(w http.ResponseWriter, r *http.Request, courseID string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if s.assets == nil {
		writeError(w, http.StatusServiceUnavailable, "ASSETS_UNAVAILABLE", "Object storage is not configured", nil)
		return
	}

	switch r.Method {
	case http.MethodPost:
		course, err := s.service.GetCourse(r.Context(), courseID, session.UserID)
		if err != nil {
			respondError(w, err)
			return
		}
		if course.AuthorID != session.UserID {
			writeError(w, http.StatusForbidden, "UNAUTHORIZED", "Only the course author may change the cover image", nil)
			return
		}
		var body struct {
			Filename string `json:"filename"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ticket, err := s.assets.NewCoverUpload(r.Context(), courseID, body.Filename)
		if err != nil {
			respondError(w, err)
			return
		}
		key := ticket.Key
		if _, err := s.service.UpdateCourse(r.Context(), courseID, session.UserID, store.CoursePatch{CoverImageKey: &key}); err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"key":       ticket.Key,
			"uploadUrl": ticket.UploadURL,
			"expiresAt": ticket.ExpiresAt.Unix(),
		})
		return

	case http.MethodGet:
		course, err := s.service.GetCourse(r.Context(), courseID, session.UserID)
		if err != nil {
			respondError(w, err)
			return
		}
		url, err := s.assets.CoverURL(r.Context(), course.CoverImageKey)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// --- Search ---

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	viewerID := s.optionalUserID(r)

	q := r.URL.Query()
	limit, offset := 0, 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	if raw := q.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}

	response, err := s.service.Search(r.Context(), q.Get("q"), q.Get("type"), q.Get("courseId"), limit, offset, viewerID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// --- Session endpoints ---

func (s *HTTPServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (s *HTTPServer) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.Logout(r.Context(), body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- Views ---

func courseView(course store.Course) map[string]any {
	return map[string]any{
		"id":            course.ID,
		"authorId":      course.AuthorID,
		"title":         course.Title,
		"description":   course.Description,
		"difficulty":    course.Difficulty,
		"estimatedMins": course.EstimatedMins,
		"objectives":    course.Objectives,
		"coverImageKey": course.CoverImageKey,
		"isPublic":      course.IsPublic,
		"isPublished":   course.IsPublished,
		"openToCollab":  course.OpenToCollab,
		"createdAt":     course.CreatedAt.Unix(),
		"updatedAt":     course.UpdatedAt.Unix(),
	}
}

func proposalView(p store.Proposal, includePayload bool) map[string]any {
	view := map[string]any{
		"id":             p.ID,
		"courseId":       p.CourseID,
		"collaboratorId": p.CollaboratorID,
		"summary":        p.Summary,
		"status":         p.Status,
		"reviewNote":     p.ReviewNote,
		"createdAt":      p.CreatedAt.Unix(),
	}
	if p.ReviewedBy != nil {
		view["reviewedBy"] = *p.ReviewedBy
	}
	if p.ReviewedAt != nil {
		view["reviewedAt"] = p.ReviewedAt.Unix()
	}
	if includePayload {
		view["payload"] = json.RawMessage(p.Payload)
	}
	return view
}

func sessionView(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

// --- Helpers ---

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func respondError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	response := map[string]any{
		"userId":  resp.UserID,
		"message": "Please check your email to verify your account",
	}
	// Dev bypass: surface the verification token when mail is not configured.
	if !s.service.SMTPConfigured() {
		response["devVerificationToken"] = resp.VerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}

	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}

	writeJSON(w, http.StatusOK, sessionView(session))
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	token, _ := authSvc.RequestPasswordReset(r.Context(), body.Email)

	response := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	// Dev bypass: surface the reset token when mail is not configured.
	if !s.service.SMTPConfigured() && token != "" {
		response["devResetToken"] = token
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully",
	})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// optionalUserID resolves a bearer token if present; anonymous callers get "".
func (s *HTTPServer) optionalUserID(r *http.Request) string {
	token := bearerToken(r)
	if token == "" {
		return ""
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		return ""
	}
	return session.UserID
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
