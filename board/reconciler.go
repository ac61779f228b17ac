package board

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jeajq/jobtracker/domain"
)

// End as a target index means "after the last card of the column".
const End = -1

var (
	ErrUnknownColumn = errors.New("unknown column")
	ErrJobNotFound   = errors.New("job not found")
)

// Outcome reports what a move did.
type Outcome string

const (
	OutcomeMoved     Outcome = "moved"
	OutcomeNoop      Outcome = "noop"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeInvalid   Outcome = "invalid"
)

// Slot addresses a position in a column.
type Slot struct {
	Status domain.Status `json:"status"`
	Index  int           `json:"index"`
}

// DragIntent is the card picked up by the last drag start.
type DragIntent struct {
	Status domain.Status
	Index  int
}

// Store is the persistence the reconciler writes through and listens to.
type Store interface {
	Subscribe(ctx context.Context, ownerID string, fn func(domain.Snapshot)) (func(), error)
	BatchWrite(ctx context.Context, ownerID string, version int64, writes []domain.FieldWrite) error
	UpdateOne(ctx context.Context, ownerID, id string, version int64, w domain.FieldWrite) error
	DeleteOne(ctx context.Context, collection domain.Collection, ownerID, id string, version int64) error
}

// Stats counts snapshot handling for one reconciler.
type Stats struct {
	Applied    int   `json:"applied"`
	Suppressed int   `json:"suppressed"`
	Pending    int   `json:"pending"`
	Watermark  int64 `json:"watermark"`
}

const defaultWriteTimeout = 10 * time.Second

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithColumns overrides the default status columns.
func WithColumns(columns ...domain.Status) Option {
	return func(r *Reconciler) { r.board = NewBoard(columns...) }
}

// WithDispatcher sets how background writes are run. The default starts a
// goroutine per write.
func WithDispatcher(dispatch func(func())) Option {
	return func(r *Reconciler) {
		if dispatch != nil {
			r.dispatch = dispatch
		}
	}
}

// WithClock replaces the version clock.
func WithClock(clock Clock) Option {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithWriteTimeout bounds each background write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// OnChange registers the re-render callback. It is invoked with the
// reconciler's lock held, so it must not block or call back into the
// reconciler.
func OnChange(fn func(View)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

// Reconciler owns one owner's board. It applies drag-and-drop moves
// optimistically, persists them in the background and merges live snapshots,
// dropping those that are not newer than its own writes.
type Reconciler struct {
	mu           sync.Mutex
	owner        string
	board        *Board
	store        Store
	logger       *log.Logger
	clock        Clock
	dispatch     func(func())
	writeTimeout time.Duration
	onChange     func(View)

	intent      *DragIntent
	query       string
	watermark   int64
	applied     int64
	acked       int64
	pending     map[int64]struct{}
	stats       Stats
	unsubscribe func()
}

// NewReconciler creates a reconciler for ownerID backed by store.
func NewReconciler(ownerID string, store Store, logger *log.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &Reconciler{
		owner:        ownerID,
		board:        NewBoard(),
		store:        store,
		logger:       logger,
		clock:        NewClock(),
		dispatch:     func(fn func()) { go fn() },
		writeTimeout: defaultWriteTimeout,
		watermark:    -1,
		applied:      -1,
		acked:        -1,
		pending:      make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to the owner's live snapshots.
func (r *Reconciler) Start(ctx context.Context) error {
	unsub, err := r.store.Subscribe(ctx, r.owner, func(s domain.Snapshot) { r.ApplySnapshot(s) })
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.unsubscribe = unsub
	r.mu.Unlock()
	return nil
}

// Close stops the live subscription. Writes already dispatched still run.
func (r *Reconciler) Close() {
	r.mu.Lock()
	unsub := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// ApplySnapshot replaces the board with snap unless snap is not newer than
// the last local write or the last applied snapshot. It reports whether the
// snapshot was applied.
func (r *Reconciler) ApplySnapshot(snap domain.Snapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	floor := r.watermark
	if r.applied > floor {
		floor = r.applied
	}
	if snap.Version <= floor {
		r.stats.Suppressed++
		r.logger.WithFields(log.Fields{
			"owner":     r.owner,
			"version":   snap.Version,
			"watermark": floor,
		}).Debug("board.snapshot.suppressed")
		return false
	}
	if skipped := r.board.Replace(snap.Jobs); skipped > 0 {
		r.logger.WithFields(log.Fields{"owner": r.owner, "skipped": skipped}).Warn("snapshot records with unknown status")
	}
	r.applied = snap.Version
	r.stats.Applied++
	r.emitLocked()
	return true
}

// DragStart records the card being dragged.
func (r *Reconciler) DragStart(status domain.Status, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.board.Has(status) {
		return ErrUnknownColumn
	}
	r.intent = &DragIntent{Status: status, Index: index}
	return nil
}

// DropBefore drops the dragged card before the card at index of status.
func (r *Reconciler) DropBefore(ctx context.Context, status domain.Status, index int) (Outcome, error) {
	from, ok := r.takeIntent()
	if !ok {
		return OutcomeNoop, nil
	}
	return r.MoveCard(ctx, from, Slot{Status: status, Index: index})
}

// DropEnd drops the dragged card after the last card of status.
func (r *Reconciler) DropEnd(ctx context.Context, status domain.Status) (Outcome, error) {
	return r.DropBefore(ctx, status, End)
}

func (r *Reconciler) takeIntent() (Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in := r.intent
	r.intent = nil
	if in == nil {
		return Slot{}, false
	}
	return Slot{Status: in.Status, Index: in.Index}, true
}

// MoveCard moves the card at from to the target slot, renumbers both columns
// and persists every affected record in one batch. The local board and the
// re-render callback are updated before the write is dispatched.
func (r *Reconciler) MoveCard(ctx context.Context, from, to Slot) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.board.Has(from.Status) || !r.board.Has(to.Status) {
		return "", ErrUnknownColumn
	}
	src := r.board.columns[from.Status]
	if from.Index < 0 || from.Index >= len(src) {
		return OutcomeInvalid, nil
	}
	dst := r.board.columns[to.Status]
	target := to.Index
	if target < 0 && target != End {
		return OutcomeInvalid, nil
	}
	if target == End || target > len(dst) {
		target = len(dst)
	}

	same := from.Status == to.Status
	if same && (target == from.Index || target == from.Index+1) {
		return OutcomeNoop, nil
	}

	moved := src[from.Index]
	if !same {
		for _, j := range dst {
			if j.ID == moved.ID {
				return OutcomeDuplicate, nil
			}
		}
	}

	version := r.nextVersionLocked()
	moved.Status = to.Status
	moved.Version = version

	remaining := make([]domain.Job, 0, len(src))
	remaining = append(remaining, src[:from.Index]...)
	remaining = append(remaining, src[from.Index+1:]...)

	var writes []domain.FieldWrite
	if same {
		if from.Index < target {
			target--
		}
		col := insertAt(remaining, target, moved)
		writes = renumber(col, version, writes)
		r.board.columns[from.Status] = col
	} else {
		col := insertAt(append([]domain.Job(nil), dst...), target, moved)
		writes = renumber(remaining, version, writes)
		writes = renumber(col, version, writes)
		r.board.columns[from.Status] = remaining
		r.board.columns[to.Status] = col
	}
	for i := range writes {
		if writes[i].ID == moved.ID {
			st := to.Status
			writes[i].Status = &st
		}
	}

	r.emitLocked()
	r.logger.WithFields(log.Fields{
		"owner":   r.owner,
		"job":     moved.ID,
		"from":    from.Status,
		"to":      to.Status,
		"index":   target,
		"version": version,
		"writes":  len(writes),
	}).Debug("board.card.moved")

	wctx := context.WithoutCancel(ctx)
	r.dispatch(func() {
		ctx, cancel := context.WithTimeout(wctx, r.writeTimeout)
		defer cancel()
		err := r.store.BatchWrite(ctx, r.owner, version, writes)
		r.settle(version, "batch", err)
	})
	return OutcomeMoved, nil
}

// AddNote sets the note of a card.
func (r *Reconciler) AddNote(ctx context.Context, id, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, idx, ok := r.board.locate(id)
	if !ok {
		return ErrJobNotFound
	}
	note := strings.TrimSpace(text)
	version := r.nextVersionLocked()

	col := append([]domain.Job(nil), r.board.columns[status]...)
	col[idx].Note = note
	col[idx].Version = version
	r.board.columns[status] = col
	r.emitLocked()

	w := domain.FieldWrite{ID: id, Note: &note}
	wctx := context.WithoutCancel(ctx)
	r.dispatch(func() {
		ctx, cancel := context.WithTimeout(wctx, r.writeTimeout)
		defer cancel()
		r.settle(version, "note", r.store.UpdateOne(ctx, r.owner, id, version, w))
	})
	return nil
}

// DeleteCard removes a card and the saved job it was created from, if any.
// Positions of the remaining cards are left as they are.
func (r *Reconciler) DeleteCard(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, idx, ok := r.board.locate(id)
	if !ok {
		return ErrJobNotFound
	}
	old := r.board.columns[status]
	job := old[idx]
	col := make([]domain.Job, 0, len(old)-1)
	col = append(col, old[:idx]...)
	col = append(col, old[idx+1:]...)
	r.board.columns[status] = col

	version := r.nextVersionLocked()
	r.emitLocked()

	wctx := context.WithoutCancel(ctx)
	r.dispatch(func() {
		ctx, cancel := context.WithTimeout(wctx, r.writeTimeout)
		defer cancel()
		err := r.store.DeleteOne(ctx, domain.CollectionJobs, r.owner, job.ID, version)
		if err == nil && job.LinkedSavedID != "" {
			err = r.store.DeleteOne(ctx, domain.CollectionSavedJobs, r.owner, job.LinkedSavedID, version)
		}
		r.settle(version, "delete", err)
	})
	return nil
}

// SetQuery stores the search text and returns the filtered view.
func (r *Reconciler) SetQuery(query string) View {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.query = query
	v := r.viewLocked()
	r.emitView(v)
	return v
}

// View renders the board with the current query.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// Column returns a copy of one column.
func (r *Reconciler) Column(status domain.Status) []domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.board.Column(status)
}

// Stats returns snapshot and write counters.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Pending = len(r.pending)
	s.Watermark = r.watermark
	return s
}

// nextVersionLocked stamps a new local write. Stamps stay ahead of every
// version already seen so other sessions treat the write as newer.
func (r *Reconciler) nextVersionLocked() int64 {
	v := r.clock()
	if v <= r.applied {
		v = r.applied + 1
	}
	if v <= r.watermark {
		v = r.watermark + 1
	}
	r.watermark = v
	r.pending[v] = struct{}{}
	return v
}

func (r *Reconciler) settle(version int64, kind string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, version)
	if err == nil {
		if version > r.acked {
			r.acked = version
		}
		return
	}
	floor := r.acked
	for v := range r.pending {
		if v > floor {
			floor = v
		}
	}
	if floor < r.watermark {
		r.watermark = floor
	}
	r.logger.WithError(err).WithFields(log.Fields{
		"owner":     r.owner,
		"kind":      kind,
		"version":   version,
		"watermark": r.watermark,
	}).Error("board.write.failed")
}

func (r *Reconciler) viewLocked() View {
	v := r.board.Filter(r.query)
	v.Version = r.watermark
	if r.applied > v.Version {
		v.Version = r.applied
	}
	return v
}

func (r *Reconciler) emitLocked() {
	if r.onChange == nil {
		return
	}
	r.emitView(r.viewLocked())
}

func (r *Reconciler) emitView(v View) {
	if r.onChange != nil {
		r.onChange(v)
	}
}

func insertAt(col []domain.Job, i int, j domain.Job) []domain.Job {
	col = append(col, domain.Job{})
	copy(col[i+1:], col[i:])
	col[i] = j
	return col
}

func renumber(col []domain.Job, version int64, writes []domain.FieldWrite) []domain.FieldWrite {
	for i := range col {
		col[i].Position = i
		col[i].Version = version
		pos := i
		writes = append(writes, domain.FieldWrite{ID: col[i].ID, Position: &pos})
	}
	return writes
}
