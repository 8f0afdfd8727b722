package newsletter

import (
	"context"
	"database/sql"
)

// Repository manages the newsletter subscriber list.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Subscribe adds an email to the list. Re-subscribing is a no-op.
func (r *Repository) Subscribe(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO newsletter_subscribers (email)
		VALUES ($1)
		ON CONFLICT (email) DO NOTHING
	`, email)
	return err
}
