package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/jeajq/jobtracker/domain"
)

func newTestPostings(t *testing.T) *Postings {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	p := NewPostings(db)
	if err := p.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return p
}

func TestPostingsCreateAndList(t *testing.T) {
	p := newTestPostings(t)
	ctx := context.Background()

	first, err := p.Create(ctx, domain.Posting{CreatedBy: "emp-1", Title: "Go Developer", Company: "Acme", Type: "Full-time", Location: "Berlin"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("expected id and time, got %+v", first)
	}
	if _, err := p.Create(ctx, domain.Posting{CreatedBy: "emp-1", Title: "Designer", Company: "Acme", Location: "Remote"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := p.Create(ctx, domain.Posting{CreatedBy: "emp-2", Title: "Analyst", Company: "Globex", Location: "Berlin"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	mine, err := p.ListByCreator(ctx, "emp-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 postings, got %d", len(mine))
	}
	if mine[0].Title != "Designer" {
		t.Fatalf("expected newest first, got %s", mine[0].Title)
	}

	got, err := p.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != first.Title || got.Type != "Full-time" || !got.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("unexpected posting %+v", got)
	}
	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostingsSearch(t *testing.T) {
	p := newTestPostings(t)
	ctx := context.Background()
	for _, post := range []domain.Posting{
		{CreatedBy: "e", Title: "Go Developer", Company: "Acme", Location: "Berlin"},
		{CreatedBy: "e", Title: "Designer", Company: "Acme", Description: "design systems in go", Location: "Remote"},
		{CreatedBy: "e", Title: "Analyst", Company: "Globex", Location: "Berlin"},
	} {
		if _, err := p.Create(ctx, post); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	cases := []struct {
		name string
		q    string
		loc  string
		want int
	}{
		{name: "empty matches all", want: 3},
		{name: "title or description", q: "GO", want: 2},
		{name: "company", q: "globex", want: 1},
		{name: "location only", loc: "berlin", want: 2},
		{name: "query and location", q: "go", loc: "remote", want: 1},
		{name: "no match", q: "rust", want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.Search(ctx, tc.q, tc.loc)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("expected %d results, got %d", tc.want, len(got))
			}
		})
	}
}

func TestPostingsSearchMatchesWildcardsLiterally(t *testing.T) {
	p := newTestPostings(t)
	ctx := context.Background()

	for _, title := range []string{"100% Remote Engineer", "Remote Engineer", "Data_Analyst", "DataXAnalyst"} {
		if _, err := p.Create(ctx, domain.Posting{CreatedBy: "emp-1", Title: title, Company: "Acme"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	cases := map[string]string{
		"100%":  "100% Remote Engineer",
		"data_": "Data_Analyst",
	}
	for q, want := range cases {
		got, err := p.Search(ctx, q, "")
		if err != nil {
			t.Fatalf("search %q: %v", q, err)
		}
		if len(got) != 1 || got[0].Title != want {
			t.Fatalf("search %q: expected only %q, got %+v", q, want, got)
		}
	}
	if got, err := p.Search(ctx, "%", ""); err != nil || len(got) != 1 {
		t.Fatalf("expected a bare %% to match literally, got %+v (%v)", got, err)
	}
}

func TestPostingsApply(t *testing.T) {
	p := newTestPostings(t)
	ctx := context.Background()
	post, err := p.Create(ctx, domain.Posting{CreatedBy: "emp-1", Title: "SRE"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	a, err := p.Apply(ctx, domain.Applicant{PostingID: post.ID, UserID: "u1", FirstName: "Sam", LastName: "Lee", Email: "sam@example.com"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if a.ID == "" || a.AppliedAt.IsZero() {
		t.Fatalf("unexpected applicant %+v", a)
	}
	if _, err := p.Apply(ctx, domain.Applicant{PostingID: post.ID, UserID: "u1"}); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied, got %v", err)
	}
	if _, err := p.Apply(ctx, domain.Applicant{PostingID: "missing", UserID: "u1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := p.Apply(ctx, domain.Applicant{PostingID: post.ID, UserID: "u2", FirstName: "Kai"}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	list, err := p.Applicants(ctx, post.ID)
	if err != nil {
		t.Fatalf("applicants: %v", err)
	}
	if len(list) != 2 || list[0].UserID != "u1" || list[0].Email != "sam@example.com" {
		t.Fatalf("unexpected applicants %+v", list)
	}
}
