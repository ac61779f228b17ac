package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeajq/jobtracker/domain"
)

var ErrAlreadyApplied = errors.New("already applied")

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Postings stores employer job postings and their applicants in SQLite.
type Postings struct {
	DB *sql.DB
}

func NewPostings(db *sql.DB) *Postings { return &Postings{DB: db} }

func (p *Postings) Migrate(ctx context.Context) error {
	_, err := p.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS postings (
	id TEXT PRIMARY KEY,
	created_by TEXT NOT NULL,
	title TEXT NOT NULL,
	company TEXT,
	type TEXT,
	rate TEXT,
	deadline TEXT,
	location TEXT,
	description TEXT,
	email TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS postings_created_by ON postings(created_by);

CREATE TABLE IF NOT EXISTS applicants (
	id TEXT PRIMARY KEY,
	posting_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	first_name TEXT,
	last_name TEXT,
	email TEXT,
	applied_at TEXT NOT NULL,
	UNIQUE(posting_id, user_id),
	FOREIGN KEY(posting_id) REFERENCES postings(id) ON DELETE CASCADE
);
`)
	return err
}

const postingColumns = `id, created_by, title, company, type, rate, deadline, location, description, email, created_at`

// Create stores a new posting and returns it with its id and creation time.
func (p *Postings) Create(ctx context.Context, post domain.Posting) (domain.Posting, error) {
	post.ID = uuid.NewString()
	post.CreatedAt = time.Now().UTC()
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO postings (`+postingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID,
		post.CreatedBy,
		post.Title,
		post.Company,
		post.Type,
		post.Rate,
		post.Deadline,
		post.Location,
		post.Description,
		post.Email,
		post.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return domain.Posting{}, err
	}
	return post, nil
}

// Get returns one posting or ErrNotFound.
func (p *Postings) Get(ctx context.Context, id string) (domain.Posting, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+postingColumns+` FROM postings WHERE id = ?`, id)
	post, err := scanPosting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Posting{}, ErrNotFound
	}
	return post, err
}

// ListByCreator returns the postings of one employer, newest first.
func (p *Postings) ListByCreator(ctx context.Context, createdBy string) ([]domain.Posting, error) {
	return p.query(ctx, `SELECT `+postingColumns+` FROM postings WHERE created_by = ? ORDER BY created_at DESC`, createdBy)
}

// Search matches q against title, company, type and description and loc
// against location. Empty terms match everything.
func (p *Postings) Search(ctx context.Context, q, loc string) ([]domain.Posting, error) {
	q = containsPattern(q)
	loc = containsPattern(loc)
	return p.query(ctx, `
		SELECT `+postingColumns+` FROM postings
		WHERE (lower(title) LIKE ? ESCAPE '\' OR lower(company) LIKE ? ESCAPE '\'
			OR lower(type) LIKE ? ESCAPE '\' OR lower(description) LIKE ? ESCAPE '\')
		AND lower(location) LIKE ? ESCAPE '\'
		ORDER BY created_at DESC`,
		q, q, q, q, loc,
	)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a LIKE pattern matching term literally anywhere.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(term))) + "%"
}

func (p *Postings) query(ctx context.Context, stmt string, args ...any) ([]domain.Posting, error) {
	rows, err := p.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Posting{}
	for rows.Next() {
		post, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, post)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosting(s scanner) (domain.Posting, error) {
	var post domain.Posting
	var company, typ, rate, deadline, location, description, email sql.NullString
	var createdAt string
	if err := s.Scan(&post.ID, &post.CreatedBy, &post.Title, &company, &typ, &rate, &deadline, &location, &description, &email, &createdAt); err != nil {
		return domain.Posting{}, err
	}
	post.Company = company.String
	post.Type = typ.String
	post.Rate = rate.String
	post.Deadline = deadline.String
	post.Location = location.String
	post.Description = description.String
	post.Email = email.String
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return domain.Posting{}, err
	}
	post.CreatedAt = t
	return post, nil
}

// Apply records a.UserID as an applicant of a.PostingID. Applying twice
// yields ErrAlreadyApplied; an unknown posting yields ErrNotFound.
func (p *Postings) Apply(ctx context.Context, a domain.Applicant) (domain.Applicant, error) {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Applicant{}, err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var existing string
	switch err := tx.QueryRowContext(ctx, `SELECT id FROM postings WHERE id = ?`, a.PostingID).Scan(&existing); err {
	case sql.ErrNoRows:
		return domain.Applicant{}, ErrNotFound
	case nil:
	default:
		return domain.Applicant{}, err
	}

	switch err := tx.QueryRowContext(ctx, `SELECT id FROM applicants WHERE posting_id = ? AND user_id = ?`, a.PostingID, a.UserID).Scan(&existing); err {
	case sql.ErrNoRows:
	case nil:
		return domain.Applicant{}, ErrAlreadyApplied
	default:
		return domain.Applicant{}, err
	}

	a.ID = uuid.NewString()
	a.AppliedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO applicants (id, posting_id, user_id, first_name, last_name, email, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PostingID, a.UserID, a.FirstName, a.LastName, a.Email, a.AppliedAt.Format(timeLayout),
	); err != nil {
		return domain.Applicant{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Applicant{}, err
	}
	committed = true
	return a, nil
}

// Applicants lists the applications to a posting, oldest first.
func (p *Postings) Applicants(ctx context.Context, postingID string) ([]domain.Applicant, error) {
	rows, err := p.DB.QueryContext(ctx, `
		SELECT id, posting_id, user_id, first_name, last_name, email, applied_at
		FROM applicants WHERE posting_id = ? ORDER BY applied_at ASC`, postingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Applicant{}
	for rows.Next() {
		var a domain.Applicant
		var first, last, email sql.NullString
		var appliedAt string
		if err := rows.Scan(&a.ID, &a.PostingID, &a.UserID, &first, &last, &email, &appliedAt); err != nil {
			return nil, err
		}
		a.FirstName, a.LastName, a.Email = first.String, last.String, email.String
		if a.AppliedAt, err = time.Parse(timeLayout, appliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
