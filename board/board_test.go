package board

import (
	"reflect"
	"testing"

	"github.com/jeajq/jobtracker/domain"
)

func TestReplaceGroupsAndSorts(t *testing.T) {
	b := NewBoard()
	skipped := b.Replace([]domain.Job{
		{ID: "c", Status: domain.StatusApplied, Position: 2},
		{ID: "a", Status: domain.StatusApplied, Position: 0},
		{ID: "x", Status: domain.StatusOffer, Position: 0},
		{ID: "b", Status: domain.StatusApplied, Position: 1},
		{ID: "z", Status: "withdrawn", Position: 0},
	})
	if skipped != 1 {
		t.Fatalf("expected 1 skipped record, got %d", skipped)
	}
	if got := ids(b.Column(domain.StatusApplied)); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected applied column %v", got)
	}
	if got := ids(b.Column(domain.StatusOffer)); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("unexpected offer column %v", got)
	}
	if b.Len(domain.StatusRejected) != 0 {
		t.Fatal("expected rejected column to be empty")
	}
}

func TestReplaceBreaksTiesByID(t *testing.T) {
	b := NewBoard()
	b.Replace([]domain.Job{
		{ID: "b", Status: domain.StatusInterview, Position: 0},
		{ID: "a", Status: domain.StatusInterview, Position: 0},
	})
	if got := ids(b.Column(domain.StatusInterview)); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("expected tie broken by id, got %v", got)
	}
}

func TestColumnReturnsCopy(t *testing.T) {
	b := NewBoard()
	b.Replace([]domain.Job{{ID: "a", Title: "Go Dev", Status: domain.StatusApplied}})
	col := b.Column(domain.StatusApplied)
	col[0].Title = "changed"
	if b.Column(domain.StatusApplied)[0].Title != "Go Dev" {
		t.Fatal("mutating a returned column changed the board")
	}
	cols := b.Columns()
	cols[domain.StatusApplied][0].Title = "changed"
	if b.Column(domain.StatusApplied)[0].Title != "Go Dev" {
		t.Fatal("mutating Columns result changed the board")
	}
}

func TestFilterIsPure(t *testing.T) {
	b := NewBoard()
	b.Replace([]domain.Job{
		{ID: "a", Title: "Backend Engineer", Company: "Acme", Status: domain.StatusApplied, Position: 0},
		{ID: "b", Title: "Designer", Company: "Globex", Status: domain.StatusApplied, Position: 1},
		{ID: "c", Title: "SRE", Company: "Initech", Role: "Full-time", Status: domain.StatusOffer, Position: 0},
		{ID: "d", Title: "Analyst", Description: "backend reporting", Status: domain.StatusRejected, Position: 0},
	})
	before := b.Columns()

	first := b.Filter("  BACKEND ")
	second := b.Filter("  BACKEND ")
	if !reflect.DeepEqual(first, second) {
		t.Fatal("repeated filter produced different views")
	}
	if !reflect.DeepEqual(before, b.Columns()) {
		t.Fatal("filter mutated the board")
	}

	got := map[domain.Status][]string{}
	for _, c := range first.Columns {
		got[c.Status] = ids(c.Cards)
	}
	if !reflect.DeepEqual(got[domain.StatusApplied], []string{"a"}) {
		t.Fatalf("unexpected applied matches %v", got[domain.StatusApplied])
	}
	if !reflect.DeepEqual(got[domain.StatusRejected], []string{"d"}) {
		t.Fatalf("expected description match, got %v", got[domain.StatusRejected])
	}
	if first.Columns[0].Count != 2 {
		t.Fatalf("expected total count 2 for applied, got %d", first.Columns[0].Count)
	}
	if first.Query != "BACKEND" {
		t.Fatalf("expected trimmed query, got %q", first.Query)
	}
}

func TestFilterEmptyQueryReturnsAll(t *testing.T) {
	b := NewBoard()
	b.Replace([]domain.Job{
		{ID: "a", Status: domain.StatusApplied},
		{ID: "b", Status: domain.StatusOffer},
	})
	v := b.Filter("   ")
	total := 0
	for _, c := range v.Columns {
		total += len(c.Cards)
	}
	if total != 2 {
		t.Fatalf("expected all cards, got %d", total)
	}
	if len(v.Columns) != len(domain.Columns) {
		t.Fatalf("expected %d columns, got %d", len(domain.Columns), len(v.Columns))
	}
}

func TestCustomColumns(t *testing.T) {
	b := NewBoard("todo", "done")
	if b.Has(domain.StatusApplied) {
		t.Fatal("default column present on custom board")
	}
	if !reflect.DeepEqual(b.Statuses(), []domain.Status{"todo", "done"}) {
		t.Fatalf("unexpected statuses %v", b.Statuses())
	}
}

func TestNewClockIsStrictlyIncreasing(t *testing.T) {
	clock := NewClock()
	prev := clock()
	for i := 0; i < 1000; i++ {
		next := clock()
		if next <= prev {
			t.Fatalf("clock went backwards: %d after %d", next, prev)
		}
		prev = next
	}
}

func ids(col []domain.Job) []string {
	out := make([]string, 0, len(col))
	for _, j := range col {
		out = append(out, j.ID)
	}
	return out
}
