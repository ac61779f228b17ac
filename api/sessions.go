package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/jeajq/jobtracker/board"
)

var (
	errSessionNotFound  = errors.New("session not found")
	errSessionForbidden = errors.New("session belongs to another user")
)

// Session is one open board stream. Views pushed by its reconciler are kept
// in a one-slot channel; a newer view replaces an unread one.
type Session struct {
	ID         string
	OwnerID    string
	Reconciler *board.Reconciler

	views chan board.View
}

// Views delivers the latest rendered board.
func (s *Session) Views() <-chan board.View { return s.views }

func (s *Session) push(v board.View) {
	for {
		select {
		case s.views <- v:
			return
		default:
		}
		select {
		case <-s.views:
		default:
		}
	}
}

// Sessions is the registry of open board sessions.
type Sessions struct {
	store        board.Store
	dispatch     func(func())
	writeTimeout time.Duration
	logger       *log.Logger

	mu   sync.Mutex
	byID map[string]*Session
}

// NewSessions creates a registry whose reconcilers persist through store and
// run their writes with dispatch.
func NewSessions(store board.Store, dispatch func(func()), writeTimeout time.Duration, logger *log.Logger) *Sessions {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Sessions{
		store:        store,
		dispatch:     dispatch,
		writeTimeout: writeTimeout,
		logger:       logger,
		byID:         make(map[string]*Session),
	}
}

// Open starts a reconciler for ownerID. The current board is already queued
// on the session's view channel when Open returns.
func (s *Sessions) Open(ctx context.Context, ownerID string) (*Session, error) {
	sess := &Session{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		views:   make(chan board.View, 1),
	}
	sess.Reconciler = board.NewReconciler(ownerID, s.store, s.logger,
		board.WithDispatcher(s.dispatch),
		board.WithWriteTimeout(s.writeTimeout),
		board.OnChange(sess.push),
	)
	if err := sess.Reconciler.Start(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.byID[sess.ID] = sess
	s.mu.Unlock()
	s.logger.WithFields(log.Fields{"session": sess.ID, "owner": ownerID}).Debug("board.session.opened")
	return sess, nil
}

// Get returns the session id if it belongs to ownerID.
func (s *Sessions) Get(id, ownerID string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return nil, errSessionNotFound
	}
	if sess.OwnerID != ownerID {
		return nil, errSessionForbidden
	}
	return sess, nil
}

// Close removes the session and stops its live subscription.
func (s *Sessions) Close(id string) {
	s.mu.Lock()
	sess, ok := s.byID[id]
	delete(s.byID, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.Reconciler.Close()
	s.logger.WithFields(log.Fields{"session": id, "owner": sess.OwnerID}).Debug("board.session.closed")
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Collector exports the open session count.
func (s *Sessions) Collector() prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "board_sessions_open",
		Help: "Number of open board streams.",
	}, func() float64 { return float64(s.Len()) })
}
