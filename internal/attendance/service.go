package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

var (
	// ErrEmptyBatch rejects a bulk submission carrying no students.
	ErrEmptyBatch = errors.New("attendance batch is empty")
	// ErrForbidden signals a policy denial on the bulk mark path.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound covers both a missing record and a requester that does
	// not own it; the two are deliberately indistinguishable.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidMonth rejects a monthly query outside 1..12.
	ErrInvalidMonth = errors.New("month must be between 1 and 12")
	// ErrNoteTooLong rejects notes over MaxNoteLen.
	ErrNoteTooLong = fmt.Errorf("note exceeds %d characters", MaxNoteLen)
)

// Store is the persistence contract the service drives.
type Store interface {
	Upsert(ctx context.Context, rec Record) (Record, error)
	FindByCourseAndDate(ctx context.Context, courseID string, date time.Time) ([]Record, error)
	FindByStudent(ctx context.Context, studentID string) ([]StudentRecord, error)
	UpdateNote(ctx context.Context, recordID, requester, note string) (Record, error)
	AggregateMonthly(ctx context.Context, courseID string, year, month int) ([]MonthlySummary, error)
}

// Policy is the authorization predicate evaluated before any mutation.
type Policy interface {
	MayMark(ctx context.Context, identity, courseID string) (bool, error)
	MayView(ctx context.Context, identity, courseID string) (bool, error)
}

// Notifier is the outbound notification port. The service publishes through
// it and never constructs the transport itself.
type Notifier interface {
	AttendanceMarked(ctx context.Context, courseID string, date time.Time, marked, failed int) error
}

// ReportCache caches monthly summaries. Implementations may be nil-safe
// no-ops; the service tolerates a nil cache.
type ReportCache interface {
	GetMonthly(ctx context.Context, courseID string, year, month int) ([]MonthlySummary, bool)
	SetMonthly(ctx context.Context, courseID string, year, month int, report []MonthlySummary)
	InvalidateMonthly(ctx context.Context, courseID string, year, month int)
}

// BatchResult reports the outcome of one bulk submission. Items are atomic
// individually; a batch can land partially and says so.
type BatchResult struct {
	Date   time.Time `json:"date"`
	Marked int       `json:"marked"`
	Failed int       `json:"failed"`
	Errors []string  `json:"errors,omitempty"`
}

// Service coordinates bulk marking, note updates and monthly reporting.
type Service struct {
	store    Store
	policy   Policy
	notifier Notifier
	cache    ReportCache
	now      func() time.Time
}

// NewService creates a service. notifier and cache may be nil.
func NewService(store Store, policy Policy, notifier Notifier, cache ReportCache) *Service {
	return &Service{
		store:    store,
		policy:   policy,
		notifier: notifier,
		cache:    cache,
		now:      time.Now,
	}
}

// MarkBatch applies one teacher submission: one upsert per student against
// the normalized day key. Bulk marks always write status, note and marked_by
// together, so a bulk entry replaces any student-authored note for that day.
func (s *Service) MarkBatch(ctx context.Context, identity, courseID string, date time.Time, entries map[string]MarkEntry) (BatchResult, error) {
	if len(entries) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}

	ok, err := s.policy.MayMark(ctx, identity, courseID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("policy check: %w", err)
	}
	if !ok {
		return BatchResult{}, ErrForbidden
	}

	day := NormalizeDate(date)
	res := BatchResult{Date: day}
	for studentID, entry := range entries {
		entry, err := entry.normalize()
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", studentID, err))
			continue
		}
		_, err = s.store.Upsert(ctx, Record{
			CourseID:  courseID,
			StudentID: studentID,
			Date:      day,
			Status:    entry.Status,
			Note:      entry.Note,
			MarkedBy:  identity,
			UpdatedAt: s.now().UTC(),
		})
		if err != nil {
			log.Printf("upsert %s/%s/%s failed: %v", courseID, studentID, day.Format("2006-01-02"), err)
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: store error", studentID))
			continue
		}
		res.Marked++
	}

	if res.Marked > 0 {
		marksApplied.Add(float64(res.Marked))
		if s.cache != nil {
			s.cache.InvalidateMonthly(ctx, courseID, day.Year(), int(day.Month()))
		}
		if s.notifier != nil {
			if err := s.notifier.AttendanceMarked(ctx, courseID, day, res.Marked, res.Failed); err != nil {
				log.Printf("mark notification failed: %v", err)
			}
		}
	}
	if res.Failed > 0 {
		markFailures.Add(float64(res.Failed))
	}
	return res, nil
}

// ByDate returns the studentID → {status, note} map for one course day.
func (s *Service) ByDate(ctx context.Context, identity, courseID string, date time.Time) (map[string]DayMark, error) {
	ok, err := s.policy.MayView(ctx, identity, courseID)
	if err != nil {
		return nil, fmt.Errorf("policy check: %w", err)
	}
	if !ok {
		return nil, ErrForbidden
	}

	records, err := s.store.FindByCourseAndDate(ctx, courseID, NormalizeDate(date))
	if err != nil {
		return nil, err
	}
	marks := make(map[string]DayMark, len(records))
	for _, rec := range records {
		marks[rec.StudentID] = DayMark{Status: rec.Status, Note: rec.Note}
	}
	return marks, nil
}

// History returns the requesting student's own records, newest first.
func (s *Service) History(ctx context.Context, identity string) ([]StudentRecord, error) {
	return s.store.FindByStudent(ctx, identity)
}

// UpdateNote lets a student annotate their own record. Only the note field
// changes; ownership is enforced by the store and a mismatch surfaces as
// ErrNotFound. The note is part of the monthly report, so the record's
// month is dropped from the cache like the bulk path does.
func (s *Service) UpdateNote(ctx context.Context, identity, recordID, note string) (Record, error) {
	if len(note) > MaxNoteLen {
		return Record{}, ErrNoteTooLong
	}
	rec, err := s.store.UpdateNote(ctx, recordID, identity, note)
	if err != nil {
		return Record{}, err
	}
	if s.cache != nil {
		s.cache.InvalidateMonthly(ctx, rec.CourseID, rec.Date.Year(), int(rec.Date.Month()))
	}
	return rec, nil
}

// MonthlyReport returns per-student summaries for one course month, sorted
// by display name. Results are cached until the next mark for that month.
func (s *Service) MonthlyReport(ctx context.Context, courseID string, month, year int) ([]MonthlySummary, error) {
	if month < 1 || month > 12 {
		return nil, ErrInvalidMonth
	}
	if s.cache != nil {
		if report, ok := s.cache.GetMonthly(ctx, courseID, year, month); ok {
			return report, nil
		}
	}
	report, err := s.store.AggregateMonthly(ctx, courseID, year, month)
	if err != nil {
		return nil, err
	}
	monthlyReports.Inc()
	if s.cache != nil {
		s.cache.SetMonthly(ctx, courseID, year, month, report)
	}
	return report, nil
}
