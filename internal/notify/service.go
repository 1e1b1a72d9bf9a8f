// Package notify sends transactional email via SMTP: account verification,
// password resets, and proposal lifecycle notices. When SMTP is not
// configured every send is a silent no-op so local setups work without a
// mail server.
package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending.
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new notification service.
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if SMTP is configured.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email.
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return nil
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends a multipart email with an HTML body.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return nil
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-coursewright"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

type ProposalDecisionData struct {
	AppName     string
	UserName    string
	CourseTitle string
	Summary     string
	Decision    string
	ReviewNote  string
}

type ProposalSubmittedData struct {
	AppName      string
	AuthorName   string
	Collaborator string
	CourseTitle  string
	Summary      string
}

// SendVerificationEmail sends an email verification email.
func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := VerificationData{
		AppName:         "Coursewright",
		UserName:        userName,
		VerificationURL: verificationURL,
	}

	subject := "Verify your Coursewright account"
	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendPasswordResetEmail sends a password reset email.
func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := PasswordResetData{
		AppName:  "Coursewright",
		UserName: userName,
		ResetURL: resetURL,
	}

	subject := "Reset your Coursewright password"
	html, err := renderTemplate(passwordResetEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendProposalDecisionEmail tells a collaborator their proposal was decided.
func (s *Service) SendProposalDecisionEmail(to, userName, courseTitle, summary, decision, reviewNote string) error {
	data := ProposalDecisionData{
		AppName:     "Coursewright",
		UserName:    userName,
		CourseTitle: courseTitle,
		Summary:     summary,
		Decision:    decision,
		ReviewNote:  reviewNote,
	}

	subject := fmt.Sprintf("Your proposal for %q was %s", courseTitle, decision)
	html, err := renderTemplate(proposalDecisionEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render proposal decision template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendProposalSubmittedEmail tells a course author a new proposal is waiting.
func (s *Service) SendProposalSubmittedEmail(to, authorName, collaborator, courseTitle, summary string) error {
	data := ProposalSubmittedData{
		AppName:      "Coursewright",
		AuthorName:   authorName,
		Collaborator: collaborator,
		CourseTitle:  courseTitle,
		Summary:      summary,
	}

	subject := fmt.Sprintf("New proposal for %q", courseTitle)
	html, err := renderTemplate(proposalSubmittedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render proposal submitted template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
