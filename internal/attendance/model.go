package attendance

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the per-day attendance state of one student in one course.
type Status string

const (
	StatusPresent   Status = "present"
	StatusAbsent    Status = "absent"
	StatusNotMarked Status = "not-marked"
)

// MaxNoteLen bounds the free-text note on a record.
const MaxNoteLen = 500

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusNotMarked:
		return true
	}
	return false
}

// Record is one row per (course, student, day). The triple is immutable
// identity; status, note and marked_by mutate in place on later submissions.
type Record struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	StudentID string    `json:"student_id"`
	Date      time.Time `json:"date"`
	Status    Status    `json:"status"`
	Note      string    `json:"note"`
	MarkedBy  string    `json:"marked_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StudentRecord is a Record joined with course and teacher display metadata
// for the student-facing history view.
type StudentRecord struct {
	Record
	CourseTitle     string `json:"course_title"`
	CourseThumbnail string `json:"course_thumbnail,omitempty"`
	TeacherName     string `json:"teacher_name"`
	TeacherImage    string `json:"teacher_image,omitempty"`
}

// DayMark is the per-student slice of a record exposed by the by-date view.
type DayMark struct {
	Status Status `json:"status"`
	Note   string `json:"note"`
}

// MonthlyEntry is one day inside a student's monthly summary.
type MonthlyEntry struct {
	Date   time.Time `json:"date"`
	Status Status    `json:"status"`
	Note   string    `json:"note"`
}

// MonthlySummary groups one student's records for a month, joined with
// display name and email. Entries keep the store's scan order.
type MonthlySummary struct {
	StudentID string         `json:"student_id"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Records   []MonthlyEntry `json:"records"`
}

// User is the minimal slice of the users table the service reads.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	ImageURL string `json:"image_url,omitempty"`
}

// MarkEntry is one student's mark inside a bulk submission. The wire shape
// is polymorphic: either a bare status string ("present") or an object
// {"status": ..., "note": ...}. Both decode to this canonical form before
// anything downstream sees them.
type MarkEntry struct {
	Status Status `json:"status"`
	Note   string `json:"note"`
}

func (e *MarkEntry) UnmarshalJSON(b []byte) error {
	var bare string
	if err := json.Unmarshal(b, &bare); err == nil {
		e.Status = Status(bare)
		e.Note = ""
		return nil
	}
	type entry MarkEntry
	var obj entry
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("mark entry must be a status string or {status, note} object: %w", err)
	}
	*e = MarkEntry(obj)
	return nil
}

// normalize fills defaults and validates the entry.
func (e MarkEntry) normalize() (MarkEntry, error) {
	if e.Status == "" {
		e.Status = StatusNotMarked
	}
	if !e.Status.Valid() {
		return e, fmt.Errorf("unknown status %q", e.Status)
	}
	if len(e.Note) > MaxNoteLen {
		return e, fmt.Errorf("note exceeds %d characters", MaxNoteLen)
	}
	return e, nil
}

// NormalizeDate truncates t to the start of its calendar day in UTC. The
// result is the canonical date key; callers in other timezones must convert
// before submitting or marks near local midnight land on the wrong day.
func NormalizeDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthBounds returns the first and last instant of the given month in UTC.
func MonthBounds(year, month int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end
}
