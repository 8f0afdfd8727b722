package policy

import (
	"context"
	"database/sql"
	"errors"
)

// CoursePolicy answers the two authorization questions the attendance
// service asks before mutating or exposing course data: admins may do
// anything, the course's teacher may mark and view their own course.
type CoursePolicy struct {
	db *sql.DB
}

// New creates a policy backed by the users and courses tables.
func New(db *sql.DB) *CoursePolicy {
	return &CoursePolicy{db: db}
}

// MayMark reports whether identity may submit bulk marks for courseID.
func (p *CoursePolicy) MayMark(ctx context.Context, identity, courseID string) (bool, error) {
	return p.teacherOrAdmin(ctx, identity, courseID)
}

// MayView reports whether identity may read the full roster view of
// courseID. Same rule as marking; students read their own history through
// a separate path that needs no course-level grant.
func (p *CoursePolicy) MayView(ctx context.Context, identity, courseID string) (bool, error) {
	return p.teacherOrAdmin(ctx, identity, courseID)
}

func (p *CoursePolicy) teacherOrAdmin(ctx context.Context, identity, courseID string) (bool, error) {
	var role string
	if err := p.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = $1`, identity).Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if role == "admin" {
		return true, nil
	}
	if role != "teacher" {
		return false, nil
	}

	var teacherID string
	if err := p.db.QueryRowContext(ctx, `SELECT teacher_id FROM courses WHERE id = $1`, courseID).Scan(&teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return teacherID == identity, nil
}
