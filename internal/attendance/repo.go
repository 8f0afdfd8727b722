package attendance

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert creates the record for (course, student, date) or updates the
// mutable fields if it already exists. The unique constraint on the triple
// makes concurrent creates for the same key converge on one row; the loser
// of the race merges instead of erroring.
func (r *Repository) Upsert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	rec.Date = NormalizeDate(rec.Date)

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, course_id, student_id, marked_date, status, note, marked_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (course_id, student_id, marked_date) DO UPDATE SET
			status     = EXCLUDED.status,
			note       = EXCLUDED.note,
			marked_by  = EXCLUDED.marked_by,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`, rec.ID, rec.CourseID, rec.StudentID, rec.Date, rec.Status, rec.Note, rec.MarkedBy, rec.UpdatedAt)
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// FindByCourseAndDate returns all records for one course on one day.
func (r *Repository) FindByCourseAndDate(ctx context.Context, courseID string, date time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, student_id, marked_date, status, note, marked_by, created_at, updated_at
		FROM attendance_records
		WHERE course_id = $1 AND marked_date = $2
	`, courseID, NormalizeDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.CourseID, &rec.StudentID, &rec.Date, &rec.Status, &rec.Note, &rec.MarkedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// FindByStudent returns a student's full history, newest day first, joined
// with course and teacher display metadata.
func (r *Repository) FindByStudent(ctx context.Context, studentID string) ([]StudentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.course_id, r.student_id, r.marked_date, r.status, r.note, r.marked_by,
		       r.created_at, r.updated_at,
		       c.title, c.thumbnail_url, t.name, t.image_url
		FROM attendance_records r
		JOIN courses c ON c.id = r.course_id
		JOIN users t   ON t.id = c.teacher_id
		WHERE r.student_id = $1
		ORDER BY r.marked_date DESC
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []StudentRecord
	for rows.Next() {
		var rec StudentRecord
		if err := rows.Scan(&rec.ID, &rec.CourseID, &rec.StudentID, &rec.Date, &rec.Status, &rec.Note, &rec.MarkedBy,
			&rec.CreatedAt, &rec.UpdatedAt,
			&rec.CourseTitle, &rec.CourseThumbnail, &rec.TeacherName, &rec.TeacherImage); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// UpdateNote sets the note on a record, but only when requester is the
// record's student. A requester mismatch scans zero rows and reports
// ErrNotFound, indistinguishable from a missing record on purpose.
func (r *Repository) UpdateNote(ctx context.Context, recordID, requester, note string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET note = $3, updated_at = NOW()
		WHERE id = $1 AND student_id = $2
		RETURNING id, course_id, student_id, marked_date, status, note, marked_by, created_at, updated_at
	`, recordID, requester, note)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.CourseID, &rec.StudentID, &rec.Date, &rec.Status, &rec.Note, &rec.MarkedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// AggregateMonthly reshapes a month of date-centric rows into per-student
// summaries. Each student's entries keep the scan order (date ascending);
// the summaries themselves are sorted by display name.
func (r *Repository) AggregateMonthly(ctx context.Context, courseID string, year, month int) ([]MonthlySummary, error) {
	start, end := MonthBounds(year, month)
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.student_id, u.name, u.email, r.marked_date, r.status, r.note
		FROM attendance_records r
		JOIN users u ON u.id = r.student_id
		WHERE r.course_id = $1 AND r.marked_date BETWEEN $2 AND $3
		ORDER BY r.marked_date
	`, courseID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scanned []monthlyRow
	for rows.Next() {
		var mr monthlyRow
		if err := rows.Scan(&mr.studentID, &mr.name, &mr.email, &mr.entry.Date, &mr.entry.Status, &mr.entry.Note); err != nil {
			return nil, err
		}
		scanned = append(scanned, mr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groupMonthly(scanned), nil
}

type monthlyRow struct {
	studentID string
	name      string
	email     string
	entry     MonthlyEntry
}

// groupMonthly folds date-centric rows into one summary per student. Each
// student's entries keep the incoming row order; summaries are sorted by
// display name ascending.
func groupMonthly(rows []monthlyRow) []MonthlySummary {
	byStudent := make(map[string]*MonthlySummary)
	var order []string
	for _, mr := range rows {
		sum, ok := byStudent[mr.studentID]
		if !ok {
			sum = &MonthlySummary{StudentID: mr.studentID, Name: mr.name, Email: mr.email}
			byStudent[mr.studentID] = sum
			order = append(order, mr.studentID)
		}
		sum.Records = append(sum.Records, mr.entry)
	}

	res := make([]MonthlySummary, 0, len(order))
	for _, id := range order {
		res = append(res, *byStudent[id])
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// UserByEmail looks up a user for token issuance.
func (r *Repository) UserByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, COALESCE(image_url, '')
		FROM users WHERE email = $1
	`, email)
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.ImageURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}
