package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"courseattend/internal/attendance"
	"courseattend/internal/auth"
	"courseattend/internal/queue"
)

// UserFinder resolves users for token issuance.
type UserFinder interface {
	UserByEmail(ctx context.Context, email string) (attendance.User, error)
}

// Subscriber manages the newsletter list.
type Subscriber interface {
	Subscribe(ctx context.Context, email string) error
}

// ContactPublisher forwards contact-form submissions to the worker.
type ContactPublisher interface {
	PublishContact(ctx context.Context, req queue.ContactRequest) error
}

// TokenConfig carries what Login needs to mint JWTs.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Handler exposes the attendance service over HTTP.
type Handler struct {
	att     *attendance.Service
	users   UserFinder
	news    Subscriber
	contact ContactPublisher
	tokens  TokenConfig
}

// New wires a handler.
func New(att *attendance.Service, users UserFinder, news Subscriber, contact ContactPublisher, tokens TokenConfig) *Handler {
	return &Handler{att: att, users: users, news: news, contact: contact, tokens: tokens}
}

// Every response carries a success flag plus either data or a message.

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// failFrom maps service errors onto the envelope.
func failFrom(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrEmptyBatch),
		errors.Is(err, attendance.ErrInvalidMonth),
		errors.Is(err, attendance.ErrNoteTooLong):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, attendance.ErrForbidden):
		fail(c, http.StatusForbidden, "forbidden")
	case errors.Is(err, attendance.ErrNotFound):
		fail(c, http.StatusNotFound, "record not found")
	default:
		log.Printf("request failed: %v", err)
		fail(c, http.StatusInternalServerError, "internal error")
	}
}

// parseDate accepts RFC3339 timestamps and bare YYYY-MM-DD dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// ---------- Auth ----------

type loginRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// Login issues a token pair for a known user, looked up by email.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "valid email is required")
		return
	}
	user, err := h.users.UserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, attendance.ErrNotFound) {
			fail(c, http.StatusNotFound, "user not found")
			return
		}
		failFrom(c, err)
		return
	}
	pair, err := auth.Issue(user.ID, user.Role, h.tokens.Issuer, h.tokens.SigningKey, h.tokens.AccessTTL, h.tokens.RefreshTTL)
	if err != nil {
		fail(c, http.StatusInternalServerError, "token issue failed")
		return
	}
	ok(c, http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.AccessExp.Unix(),
		"role":          user.Role,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh redeems a valid refresh token for a fresh token pair.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "refresh_token is required")
		return
	}
	claims, err := auth.Parse(req.RefreshToken, h.tokens.SigningKey, h.tokens.Issuer)
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	pair, err := auth.Issue(claims.Subject, claims.Role, h.tokens.Issuer, h.tokens.SigningKey, h.tokens.AccessTTL, h.tokens.RefreshTTL)
	if err != nil {
		fail(c, http.StatusInternalServerError, "token issue failed")
		return
	}
	ok(c, http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.AccessExp.Unix(),
		"role":          claims.Role,
	})
}

// ---------- Attendance ----------

type markRequest struct {
	CourseID string                          `json:"course_id" binding:"required"`
	Date     string                          `json:"date" binding:"required"`
	Records  map[string]attendance.MarkEntry `json:"records"`
}

// Mark applies one bulk submission for a course day.
func (h *Handler) Mark(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		fail(c, http.StatusBadRequest, "date must be YYYY-MM-DD or RFC3339")
		return
	}
	claims := auth.ClaimsFrom(c)
	res, err := h.att.MarkBatch(c.Request.Context(), claims.Subject, req.CourseID, date, req.Records)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{
		"message": "attendance marked for " + res.Date.Format("January 2, 2006"),
		"marked":  res.Marked,
		"failed":  res.Failed,
		"errors":  res.Errors,
	})
}

// ByDate returns the studentID → {status, note} map for one course day.
func (h *Handler) ByDate(c *gin.Context) {
	courseID := c.Query("course_id")
	dateStr := c.Query("date")
	if courseID == "" || dateStr == "" {
		fail(c, http.StatusBadRequest, "course_id and date are required")
		return
	}
	date, err := parseDate(dateStr)
	if err != nil {
		fail(c, http.StatusBadRequest, "date must be YYYY-MM-DD or RFC3339")
		return
	}
	claims := auth.ClaimsFrom(c)
	marks, err := h.att.ByDate(c.Request.Context(), claims.Subject, courseID, date)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, marks)
}

// MyAttendance returns the caller's own history, newest first.
func (h *Handler) MyAttendance(c *gin.Context) {
	claims := auth.ClaimsFrom(c)
	records, err := h.att.History(c.Request.Context(), claims.Subject)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, records)
}

type noteRequest struct {
	Note string `json:"note" binding:"required,max=500"`
}

// UpdateNote lets a student annotate their own record.
func (h *Handler) UpdateNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "note is required and limited to 500 characters")
		return
	}
	claims := auth.ClaimsFrom(c)
	rec, err := h.att.UpdateNote(c.Request.Context(), claims.Subject, c.Param("id"), req.Note)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// Monthly returns per-student grouped summaries for admin reporting.
func (h *Handler) Monthly(c *gin.Context) {
	courseID := c.Query("course_id")
	monthStr := c.Query("month")
	yearStr := c.Query("year")
	if courseID == "" || monthStr == "" || yearStr == "" {
		fail(c, http.StatusBadRequest, "course_id, month and year are required")
		return
	}
	month, err := strconv.Atoi(monthStr)
	if err != nil {
		fail(c, http.StatusBadRequest, "month must be a number")
		return
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		fail(c, http.StatusBadRequest, "year must be a number")
		return
	}
	report, err := h.att.MonthlyReport(c.Request.Context(), courseID, month, year)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, report)
}

// ---------- Collaborators ----------

type subscribeRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// Subscribe adds an email to the newsletter list; duplicates are no-ops.
func (h *Handler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "valid email is required")
		return
	}
	if err := h.news.Subscribe(c.Request.Context(), req.Email); err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"message": "subscribed"})
}

type contactRequest struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email" binding:"required,email"`
	Message string `json:"message" binding:"required"`
}

// Contact queues a contact-form submission for email delivery.
func (h *Handler) Contact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "name, valid email and message are required")
		return
	}
	err := h.contact.PublishContact(c.Request.Context(), queue.ContactRequest{
		Name:    req.Name,
		Email:   req.Email,
		Message: req.Message,
	})
	if err != nil {
		log.Printf("contact publish failed: %v", err)
		fail(c, http.StatusInternalServerError, "could not accept message")
		return
	}
	ok(c, http.StatusOK, gin.H{"message": "message received"})
}
