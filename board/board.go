package board

import (
	"sort"
	"strings"

	"github.com/jeajq/jobtracker/domain"
)

// Board groups an owner's jobs into ordered status columns. A job belongs to
// exactly one column. Board is not safe for concurrent use; the Reconciler
// owning it serialises access.
type Board struct {
	order   []domain.Status
	columns map[domain.Status][]domain.Job
}

// ColumnView is one column of a rendered board.
type ColumnView struct {
	Status domain.Status `json:"status"`
	Count  int           `json:"count"`
	Cards  []domain.Job  `json:"cards"`
}

// View is a read-only rendering of the board, optionally narrowed by a query.
type View struct {
	Query   string       `json:"query,omitempty"`
	Version int64        `json:"version"`
	Columns []ColumnView `json:"columns"`
}

// NewBoard creates an empty board with the given columns, or the default
// five statuses when none are given.
func NewBoard(columns ...domain.Status) *Board {
	if len(columns) == 0 {
		columns = domain.Columns
	}
	b := &Board{
		order:   append([]domain.Status(nil), columns...),
		columns: make(map[domain.Status][]domain.Job, len(columns)),
	}
	for _, c := range b.order {
		b.columns[c] = []domain.Job{}
	}
	return b
}

// Has reports whether status is one of the board's columns.
func (b *Board) Has(status domain.Status) bool {
	_, ok := b.columns[status]
	return ok
}

// Statuses returns the column identifiers in display order.
func (b *Board) Statuses() []domain.Status {
	return append([]domain.Status(nil), b.order...)
}

// Len returns the number of cards in a column.
func (b *Board) Len(status domain.Status) int {
	return len(b.columns[status])
}

// Column returns a copy of a column's cards in display order.
func (b *Board) Column(status domain.Status) []domain.Job {
	col, ok := b.columns[status]
	if !ok {
		return nil
	}
	return append([]domain.Job(nil), col...)
}

// Columns returns a copy of every column keyed by status.
func (b *Board) Columns() map[domain.Status][]domain.Job {
	out := make(map[domain.Status][]domain.Job, len(b.columns))
	for s, col := range b.columns {
		out[s] = append([]domain.Job(nil), col...)
	}
	return out
}

// Replace rebuilds every column from jobs, grouping by status and sorting by
// position. Jobs whose status is not a column are dropped; the number of
// dropped jobs is returned.
func (b *Board) Replace(jobs []domain.Job) int {
	next := make(map[domain.Status][]domain.Job, len(b.order))
	for _, c := range b.order {
		next[c] = []domain.Job{}
	}
	skipped := 0
	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		col, ok := next[j.Status]
		if !ok {
			skipped++
			continue
		}
		if _, dup := seen[j.ID]; dup {
			skipped++
			continue
		}
		seen[j.ID] = struct{}{}
		next[j.Status] = append(col, j)
	}
	for _, col := range next {
		sort.SliceStable(col, func(i, k int) bool {
			if col[i].Position != col[k].Position {
				return col[i].Position < col[k].Position
			}
			return col[i].ID < col[k].ID
		})
	}
	b.columns = next
	return skipped
}

// locate finds the column and index holding id.
func (b *Board) locate(id string) (domain.Status, int, bool) {
	for _, s := range b.order {
		for i, j := range b.columns[s] {
			if j.ID == id {
				return s, i, true
			}
		}
	}
	return "", 0, false
}

// Filter renders the board keeping only cards whose title, company, role or
// description contains query, ignoring case. The board itself is untouched.
func (b *Board) Filter(query string) View {
	q := strings.ToLower(strings.TrimSpace(query))
	v := View{Query: strings.TrimSpace(query), Columns: make([]ColumnView, 0, len(b.order))}
	for _, s := range b.order {
		col := b.columns[s]
		cards := make([]domain.Job, 0, len(col))
		for _, j := range col {
			if q == "" || matches(j, q) {
				cards = append(cards, j)
			}
		}
		v.Columns = append(v.Columns, ColumnView{Status: s, Count: len(col), Cards: cards})
	}
	return v
}

func matches(j domain.Job, q string) bool {
	for _, field := range [...]string{j.Title, j.Company, j.Role, j.Description} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
