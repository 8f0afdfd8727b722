package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"courseattend/internal/attendance"
	"courseattend/internal/auth"
	"courseattend/internal/queue"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "courseattend-test"
)

// fakeStore is a minimal attendance.Store over a map keyed by
// course|student|day, mirroring the unique constraint.
type fakeStore struct {
	seq     int
	records map[string]attendance.Record
	byID    map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]attendance.Record), byID: make(map[string]string)}
}

func (s *fakeStore) key(courseID, studentID string, date time.Time) string {
	return courseID + "|" + studentID + "|" + attendance.NormalizeDate(date).Format("2006-01-02")
}

func (s *fakeStore) Upsert(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	rec.Date = attendance.NormalizeDate(rec.Date)
	k := s.key(rec.CourseID, rec.StudentID, rec.Date)
	if existing, ok := s.records[k]; ok {
		existing.Status = rec.Status
		existing.Note = rec.Note
		existing.MarkedBy = rec.MarkedBy
		existing.UpdatedAt = rec.UpdatedAt
		s.records[k] = existing
		return existing, nil
	}
	s.seq++
	rec.ID = fmt.Sprintf("rec-%d", s.seq)
	rec.CreatedAt = rec.UpdatedAt
	s.records[k] = rec
	s.byID[rec.ID] = k
	return rec, nil
}

func (s *fakeStore) FindByCourseAndDate(ctx context.Context, courseID string, date time.Time) ([]attendance.Record, error) {
	var res []attendance.Record
	day := attendance.NormalizeDate(date)
	for _, rec := range s.records {
		if rec.CourseID == courseID && rec.Date.Equal(day) {
			res = append(res, rec)
		}
	}
	return res, nil
}

func (s *fakeStore) FindByStudent(ctx context.Context, studentID string) ([]attendance.StudentRecord, error) {
	var res []attendance.StudentRecord
	for _, rec := range s.records {
		if rec.StudentID == studentID {
			res = append(res, attendance.StudentRecord{Record: rec})
		}
	}
	return res, nil
}

func (s *fakeStore) UpdateNote(ctx context.Context, recordID, requester, note string) (attendance.Record, error) {
	k, ok := s.byID[recordID]
	if !ok {
		return attendance.Record{}, attendance.ErrNotFound
	}
	rec := s.records[k]
	if rec.StudentID != requester {
		return attendance.Record{}, attendance.ErrNotFound
	}
	rec.Note = note
	s.records[k] = rec
	return rec, nil
}

func (s *fakeStore) AggregateMonthly(ctx context.Context, courseID string, year, month int) ([]attendance.MonthlySummary, error) {
	return nil, nil
}

type fakePolicy struct{ allowMark bool }

func (p fakePolicy) MayMark(ctx context.Context, identity, courseID string) (bool, error) {
	return p.allowMark, nil
}
func (p fakePolicy) MayView(ctx context.Context, identity, courseID string) (bool, error) {
	return p.allowMark, nil
}

type fakeUsers struct{ users map[string]attendance.User }

func (f fakeUsers) UserByEmail(ctx context.Context, email string) (attendance.User, error) {
	u, ok := f.users[email]
	if !ok {
		return attendance.User{}, attendance.ErrNotFound
	}
	return u, nil
}

type fakeSubscriber struct{ emails []string }

func (f *fakeSubscriber) Subscribe(ctx context.Context, email string) error {
	f.emails = append(f.emails, email)
	return nil
}

type fakeContact struct{ reqs []queue.ContactRequest }

func (f *fakeContact) PublishContact(ctx context.Context, req queue.ContactRequest) error {
	f.reqs = append(f.reqs, req)
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, store *fakeStore) (*gin.Engine, *fakeSubscriber, *fakeContact) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	att := attendance.NewService(store, fakePolicy{allowMark: true}, nil, nil)
	users := fakeUsers{users: map[string]attendance.User{
		"t@example.com": {ID: "teacher-1", Name: "Teacher", Email: "t@example.com", Role: "teacher"},
	}}
	news := &fakeSubscriber{}
	contact := &fakeContact{}

	h := New(att, users, news, contact, TokenConfig{
		Issuer:     testIssuer,
		SigningKey: testKey,
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	})

	r := gin.New()
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/refresh", h.Refresh)
	r.POST("/v1/newsletter/subscribe", h.Subscribe)
	r.POST("/v1/contact", h.Contact)
	authed := r.Group("/v1", auth.RequireAuth(testKey, testIssuer))
	authed.GET("/attendance/me", h.MyAttendance)
	authed.PUT("/attendance/:id/note", h.UpdateNote)
	staff := authed.Group("", auth.RequireRole("teacher", "admin"))
	staff.POST("/attendance/mark", h.Mark)
	staff.GET("/attendance", h.ByDate)
	staff.GET("/admin/attendance/monthly", h.Monthly)
	return r, news, contact
}

func bearer(t *testing.T, subject, role string) string {
	t.Helper()
	pair, err := auth.Issue(subject, role, testIssuer, testKey, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("token issue failed: %v", err)
	}
	return "Bearer " + pair.AccessToken
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestMark(t *testing.T) {
	t.Run("requires auth", func(t *testing.T) {
		r, _, _ := newTestRouter(t, newFakeStore())
		w, _ := doJSON(t, r, http.MethodPost, "/v1/attendance/mark", "", `{}`)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", w.Code)
		}
	})

	t.Run("student role blocked", func(t *testing.T) {
		r, _, _ := newTestRouter(t, newFakeStore())
		w, _ := doJSON(t, r, http.MethodPost, "/v1/attendance/mark", bearer(t, "s1", "student"), `{}`)
		if w.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", w.Code)
		}
	})

	t.Run("marks and confirms the date", func(t *testing.T) {
		store := newFakeStore()
		r, _, _ := newTestRouter(t, store)
		body := `{"course_id":"c1","date":"2024-03-15","records":{"s1":"present","s2":{"status":"absent","note":"sick"}}}`
		w, env := doJSON(t, r, http.MethodPost, "/v1/attendance/mark", bearer(t, "teacher-1", "teacher"), body)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}
		if !env.Success {
			t.Errorf("expected success envelope: %s", w.Body.String())
		}
		var data struct {
			Message string `json:"message"`
			Marked  int    `json:"marked"`
			Failed  int    `json:"failed"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("bad data payload: %v", err)
		}
		if data.Marked != 2 || data.Failed != 0 {
			t.Errorf("expected 2/0, got %+v", data)
		}
		if !strings.Contains(data.Message, "March 15, 2024") {
			t.Errorf("confirmation missing readable date: %q", data.Message)
		}
		if len(store.records) != 2 {
			t.Errorf("expected 2 records, got %d", len(store.records))
		}
	})

	t.Run("empty records map rejected", func(t *testing.T) {
		r, _, _ := newTestRouter(t, newFakeStore())
		body := `{"course_id":"c1","date":"2024-03-15","records":{}}`
		w, env := doJSON(t, r, http.MethodPost, "/v1/attendance/mark", bearer(t, "teacher-1", "teacher"), body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
		if env.Success {
			t.Error("expected failure envelope")
		}
	})

	t.Run("malformed date rejected", func(t *testing.T) {
		r, _, _ := newTestRouter(t, newFakeStore())
		body := `{"course_id":"c1","date":"15/03/2024","records":{"s1":"present"}}`
		w, _ := doJSON(t, r, http.MethodPost, "/v1/attendance/mark", bearer(t, "teacher-1", "teacher"), body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})
}

func TestUpdateNote(t *testing.T) {
	seed := func(t *testing.T, store *fakeStore) attendance.Record {
		rec, err := store.Upsert(context.Background(), attendance.Record{
			CourseID: "c1", StudentID: "studentB",
			Date: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), Status: attendance.StatusPresent,
			MarkedBy: "teacher-1", UpdatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		return rec
	}

	t.Run("owner updates note", func(t *testing.T) {
		store := newFakeStore()
		rec := seed(t, store)
		r, _, _ := newTestRouter(t, store)
		w, env := doJSON(t, r, http.MethodPut, "/v1/attendance/"+rec.ID+"/note",
			bearer(t, "studentB", "student"), `{"note":"was at the dentist"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if !env.Success {
			t.Error("expected success envelope")
		}
	})

	t.Run("non-owner gets 404", func(t *testing.T) {
		store := newFakeStore()
		rec := seed(t, store)
		r, _, _ := newTestRouter(t, store)
		w, _ := doJSON(t, r, http.MethodPut, "/v1/attendance/"+rec.ID+"/note",
			bearer(t, "studentA", "student"), `{"note":"not mine"}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("oversized note rejected", func(t *testing.T) {
		store := newFakeStore()
		rec := seed(t, store)
		r, _, _ := newTestRouter(t, store)
		body := fmt.Sprintf(`{"note":%q}`, strings.Repeat("a", attendance.MaxNoteLen+1))
		w, _ := doJSON(t, r, http.MethodPut, "/v1/attendance/"+rec.ID+"/note",
			bearer(t, "studentB", "student"), body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})
}

func TestMonthly(t *testing.T) {
	t.Run("missing month rejected", func(t *testing.T) {
		r, _, _ := newTestRouter(t, newFakeStore())
		w, _ := doJSON(t, r, http.MethodGet, "/v1/admin/attendance/monthly?course_id=c1&year=2024",
			bearer(t, "admin-1", "admin"), "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("out of range month rejected", func(t *testing.T) {
		r, _, _ := newTestRouter(t, newFakeStore())
		w, _ := doJSON(t, r, http.MethodGet, "/v1/admin/attendance/monthly?course_id=c1&month=13&year=2024",
			bearer(t, "admin-1", "admin"), "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})
}

func TestLogin(t *testing.T) {
	t.Run("known user gets a token pair", func(t *testing.T) {
		r, _, _ := newTestRouter(t, newFakeStore())
		w, env := doJSON(t, r, http.MethodPost, "/v1/auth/login", "", `{"email":"t@example.com"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var data struct {
			AccessToken string `json:"access_token"`
			Role        string `json:"role"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("bad data payload: %v", err)
		}
		if data.AccessToken == "" || data.Role != "teacher" {
			t.Errorf("unexpected login payload: %+v", data)
		}
	})

	t.Run("unknown user gets 404", func(t *testing.T) {
		r, _, _ := newTestRouter(t, newFakeStore())
		w, _ := doJSON(t, r, http.MethodPost, "/v1/auth/login", "", `{"email":"nobody@example.com"}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("malformed email rejected", func(t *testing.T) {
		r, _, _ := newTestRouter(t, newFakeStore())
		w, _ := doJSON(t, r, http.MethodPost, "/v1/auth/login", "", `{"email":"not-an-email"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})
}

func TestRefresh(t *testing.T) {
	t.Run("refresh token redeems for a fresh pair", func(t *testing.T) {
		r, _, _ := newTestRouter(t, newFakeStore())
		_, loginEnv := doJSON(t, r, http.MethodPost, "/v1/auth/login", "", `{"email":"t@example.com"}`)
		var login struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.Unmarshal(loginEnv.Data, &login); err != nil {
			t.Fatalf("bad login payload: %v", err)
		}

		body := fmt.Sprintf(`{"refresh_token":%q}`, login.RefreshToken)
		w, env := doJSON(t, r, http.MethodPost, "/v1/auth/refresh", "", body)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var data struct {
			AccessToken string `json:"access_token"`
			Role        string `json:"role"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("bad data payload: %v", err)
		}
		if data.AccessToken == "" || data.Role != "teacher" {
			t.Errorf("unexpected refresh payload: %+v", data)
		}

		// The new access token must pass the auth middleware.
		w, _ = doJSON(t, r, http.MethodGet, "/v1/attendance/me", "Bearer "+data.AccessToken, "")
		if w.Code != http.StatusOK {
			t.Errorf("refreshed token rejected: %d", w.Code)
		}
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		r, _, _ := newTestRouter(t, newFakeStore())
		w, _ := doJSON(t, r, http.MethodPost, "/v1/auth/refresh", "", `{"refresh_token":"garbage"}`)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", w.Code)
		}
	})

	t.Run("missing token rejected", func(t *testing.T) {
		r, _, _ := newTestRouter(t, newFakeStore())
		w, _ := doJSON(t, r, http.MethodPost, "/v1/auth/refresh", "", `{}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})
}

func TestCollaborators(t *testing.T) {
	t.Run("newsletter subscribe", func(t *testing.T) {
		r, news, _ := newTestRouter(t, newFakeStore())
		w, _ := doJSON(t, r, http.MethodPost, "/v1/newsletter/subscribe", "", `{"email":"fan@example.com"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", w.Code)
		}
		if len(news.emails) != 1 || news.emails[0] != "fan@example.com" {
			t.Errorf("subscription not recorded: %v", news.emails)
		}
	})

	t.Run("newsletter rejects malformed email", func(t *testing.T) {
		r, news, _ := newTestRouter(t, newFakeStore())
		w, _ := doJSON(t, r, http.MethodPost, "/v1/newsletter/subscribe", "", `{"email":"nope"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
		if len(news.emails) != 0 {
			t.Errorf("bad email recorded: %v", news.emails)
		}
	})

	t.Run("contact form queued", func(t *testing.T) {
		r, _, contact := newTestRouter(t, newFakeStore())
		body := `{"name":"Ada","email":"ada@example.com","message":"hello there"}`
		w, _ := doJSON(t, r, http.MethodPost, "/v1/contact", "", body)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if len(contact.reqs) != 1 || contact.reqs[0].Email != "ada@example.com" {
			t.Errorf("contact not queued: %v", contact.reqs)
		}
	})
}
