package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/jeajq/jobtracker/board"
	"github.com/jeajq/jobtracker/domain"
	"github.com/jeajq/jobtracker/storage"
)

const (
	maxBodySize          = 64 << 10
	idempotencyKeyHeader = "Idempotency-Key"
)

// Dependencies are the collaborators the HTTP surface needs.
type Dependencies struct {
	Board    BoardStore
	Postings PostingStore
	Profiles ProfileStore
	Auth     Authenticator
	Moves    MoveGuard
	Sessions *Sessions
	// Registry receives request metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry
	Logger   *log.Logger
}

type handler struct {
	board     BoardStore
	postings  PostingStore
	profiles  ProfileStore
	auth      Authenticator
	moves     MoveGuard
	sessions  *Sessions
	logger    *log.Logger
	keepAlive time.Duration
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Dependencies) {
	if deps.Logger == nil {
		deps.Logger = log.StandardLogger()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	registry.MustRegister(deps.Sessions.Collector())

	h := &handler{
		board:     deps.Board,
		postings:  deps.Postings,
		profiles:  deps.Profiles,
		auth:      deps.Auth,
		moves:     deps.Moves,
		sessions:  deps.Sessions,
		logger:    deps.Logger,
		keepAlive: streamKeepAlive,
	}

	e.JSONSerializer = sonicSerializer{}
	e.Use(middleware.Decompress())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "jobtracker",
		Registerer: registry,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/api/board/stream"
		},
	}))

	e.GET("/healthz", healthz)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: registry}))

	g := e.Group("/api")
	g.GET("/board/stream", h.streamBoard)
	g.POST("/board/sessions/:sid/drag", h.dragStart)
	g.POST("/board/sessions/:sid/drop", h.drop)
	g.POST("/board/sessions/:sid/move", h.move)
	g.PUT("/board/sessions/:sid/search", h.search)
	g.PUT("/board/sessions/:sid/cards/:id/note", h.note)
	g.DELETE("/board/sessions/:sid/cards/:id", h.deleteCard)

	g.POST("/jobs", h.addJob)
	g.GET("/saved", h.listSaved)
	g.POST("/saved", h.saveJob)
	g.DELETE("/saved/:id", h.deleteSaved)

	g.GET("/profile", h.getProfile)
	g.PUT("/profile", h.putProfile)

	g.POST("/postings", h.createPosting)
	g.GET("/postings", h.listPostings)
	g.POST("/postings/:id/apply", h.apply)
	g.GET("/postings/:id/applicants", h.applicants)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type slotRequest struct {
	Status string `json:"status"`
	Index  *int   `json:"index"`
}

// status maps unknown names to "", which no board column matches.
func (s slotRequest) status() domain.Status {
	st, _ := domain.ParseStatus(s.Status)
	return st
}

// slot resolves the request to a board slot; a missing index means End.
func (s slotRequest) slot() board.Slot {
	idx := board.End
	if s.Index != nil {
		idx = *s.Index
	}
	return board.Slot{Status: s.status(), Index: idx}
}

type moveRequest struct {
	From slotRequest `json:"from"`
	To   slotRequest `json:"to"`
}

type moveResponse struct {
	Outcome  board.Outcome `json:"outcome"`
	Replayed bool          `json:"replayed,omitempty"`
	View     board.View    `json:"view"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type noteRequest struct {
	Text string `json:"text"`
}

type jobRequest struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Role        string `json:"role"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Location    string `json:"location"`
	DateApplied string `json:"dateApplied"`
	DatePosted  string `json:"datePosted"`
	Note        string `json:"note"`
}

type savedJobRequest struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	URL         string `json:"url"`
	Role        string `json:"role"`
	Description string `json:"description"`
	DatePosted  string `json:"datePosted"`
}

type postingRequest struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Type        string `json:"type"`
	Rate        string `json:"rate"`
	Deadline    string `json:"deadline"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Email       string `json:"email"`
}

type applyRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type applyResponse struct {
	Applicant domain.Applicant `json:"applicant"`
	Job       domain.Job       `json:"job"`
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *handler) principal(c echo.Context) (Principal, error) {
	return h.auth.PrincipalFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

// session authenticates the caller and resolves the :sid parameter. A
// non-zero status means the lookup failed and err describes why.
func (h *handler) session(c echo.Context) (*Session, Principal, int, error) {
	p, err := h.principal(c)
	if err != nil {
		return nil, p, http.StatusUnauthorized, err
	}
	sess, err := h.sessions.Get(c.Param("sid"), p.ID)
	switch {
	case errors.Is(err, errSessionNotFound):
		return nil, p, http.StatusNotFound, err
	case errors.Is(err, errSessionForbidden):
		return nil, p, http.StatusForbidden, err
	}
	return sess, p, 0, nil
}

func (h *handler) dragStart(c echo.Context) error {
	sess, _, status, err := h.session(c)
	if err != nil {
		return c.String(status, err.Error())
	}
	var req slotRequest
	if err := decodeBody(c, &req); err != nil || req.Index == nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := sess.Reconciler.DragStart(req.status(), *req.Index); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) drop(c echo.Context) error {
	ctx := c.Request().Context()
	metrics, spanCtx := newBoardRequestMetrics(ctx, h.logger, c.Path())
	ctx = spanCtx
	var logErr error
	defer func() {
		metrics.Log(c.Response().Status, logErr)
	}()

	authStart := time.Now()
	sess, _, status, lookupErr := h.session(c)
	metrics.ObserveAuth(time.Since(authStart))
	if lookupErr != nil {
		metrics.SetErrorStage("session")
		return c.String(status, lookupErr.Error())
	}
	var req slotRequest
	if err := decodeBody(c, &req); err != nil {
		metrics.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}

	applyStart := time.Now()
	var outcome board.Outcome
	var dropErr error
	if req.Index == nil {
		outcome, dropErr = sess.Reconciler.DropEnd(ctx, req.status())
	} else {
		outcome, dropErr = sess.Reconciler.DropBefore(ctx, req.status(), *req.Index)
	}
	metrics.ObserveApply(time.Since(applyStart))
	if dropErr != nil {
		metrics.SetErrorStage("apply")
		if errors.Is(dropErr, board.ErrUnknownColumn) {
			return c.String(http.StatusBadRequest, dropErr.Error())
		}
		logErr = dropErr
		h.logger.WithError(dropErr).WithField("session", sess.ID).Error("drop")
		return c.String(http.StatusInternalServerError, "drop failed")
	}
	metrics.SetOutcome(outcome)
	return c.JSON(http.StatusOK, moveResponse{Outcome: outcome, View: sess.Reconciler.View()})
}

func (h *handler) move(c echo.Context) error {
	ctx := c.Request().Context()
	metrics, spanCtx := newBoardRequestMetrics(ctx, h.logger, c.Path())
	ctx = spanCtx
	var logErr error
	defer func() {
		metrics.Log(c.Response().Status, logErr)
	}()

	authStart := time.Now()
	sess, p, status, lookupErr := h.session(c)
	metrics.ObserveAuth(time.Since(authStart))
	if lookupErr != nil {
		metrics.SetErrorStage("session")
		return c.String(status, lookupErr.Error())
	}
	var req moveRequest
	if err := decodeBody(c, &req); err != nil || req.From.Index == nil {
		metrics.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}

	key := strings.TrimSpace(c.Request().Header.Get(idempotencyKeyHeader))
	added := false
	if key != "" && h.moves != nil {
		ok, err := h.moves.Claim(ctx, p.ID, key)
		if errors.Is(err, errBadMoveKey) {
			metrics.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, err.Error())
		}
		if err != nil {
			metrics.SetErrorStage("dedupe")
			logErr = err
			h.logger.WithError(err).WithField("owner", p.ID).Error("idempotency check")
			return c.String(http.StatusInternalServerError, "idempotency check failed")
		}
		if !ok {
			metrics.SetReplayed(true)
			metrics.SetOutcome(board.OutcomeNoop)
			return c.JSON(http.StatusOK, moveResponse{Outcome: board.OutcomeNoop, Replayed: true, View: sess.Reconciler.View()})
		}
		added = true
	}

	applyStart := time.Now()
	outcome, err := sess.Reconciler.MoveCard(ctx, req.From.slot(), req.To.slot())
	metrics.ObserveApply(time.Since(applyStart))
	if err != nil {
		metrics.SetErrorStage("apply")
		if added {
			if rerr := h.moves.Release(ctx, p.ID, key); rerr != nil {
				h.logger.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, key, p.ID)
			}
		}
		if errors.Is(err, board.ErrUnknownColumn) {
			return c.String(http.StatusBadRequest, err.Error())
		}
		logErr = err
		return c.String(http.StatusInternalServerError, "move failed")
	}
	metrics.SetOutcome(outcome)
	return c.JSON(http.StatusOK, moveResponse{Outcome: outcome, View: sess.Reconciler.View()})
}

func (h *handler) search(c echo.Context) error {
	sess, _, status, err := h.session(c)
	if err != nil {
		return c.String(status, err.Error())
	}
	var req searchRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	return c.JSON(http.StatusOK, sess.Reconciler.SetQuery(req.Query))
}

func (h *handler) note(c echo.Context) error {
	sess, _, status, err := h.session(c)
	if err != nil {
		return c.String(status, err.Error())
	}
	var req noteRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := sess.Reconciler.AddNote(c.Request().Context(), c.Param("id"), req.Text); err != nil {
		if errors.Is(err, board.ErrJobNotFound) {
			return c.String(http.StatusNotFound, err.Error())
		}
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) deleteCard(c echo.Context) error {
	sess, _, status, err := h.session(c)
	if err != nil {
		return c.String(status, err.Error())
	}
	if err := sess.Reconciler.DeleteCard(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, board.ErrJobNotFound) {
			return c.String(http.StatusNotFound, err.Error())
		}
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) addJob(c echo.Context) error {
	p, err := h.principal(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req jobRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Company) == "" {
		return c.String(http.StatusBadRequest, "title and company are required")
	}
	job, err := h.board.AddJob(c.Request().Context(), domain.Job{
		OwnerID:     p.ID,
		Title:       strings.TrimSpace(req.Title),
		Company:     strings.TrimSpace(req.Company),
		Role:        req.Role,
		Description: req.Description,
		URL:         req.URL,
		Location:    req.Location,
		DateApplied: req.DateApplied,
		DatePosted:  req.DatePosted,
		Note:        strings.TrimSpace(req.Note),
	})
	if err != nil {
		h.logger.WithError(err).WithField("owner", p.ID).Error("add job")
		return c.String(http.StatusInternalServerError, "failed to add job")
	}
	return c.JSON(http.StatusCreated, job)
}

func (h *handler) listSaved(c echo.Context) error {
	p, err := h.principal(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	saved, err := h.board.SavedJobs(c.Request().Context(), p.ID)
	if err != nil {
		h.logger.WithError(err).WithField("owner", p.ID).Error("list saved jobs")
		return c.String(http.StatusInternalServerError, "failed to list saved jobs")
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *handler) saveJob(c echo.Context) error {
	p, err := h.principal(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req savedJobRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Title) == "" {
		return c.String(http.StatusBadRequest, "title is required")
	}
	saved, err := h.board.SaveJob(c.Request().Context(), domain.SavedJob{
		OwnerID:     p.ID,
		Title:       strings.TrimSpace(req.Title),
		Company:     strings.TrimSpace(req.Company),
		Location:    req.Location,
		URL:         strings.TrimSpace(req.URL),
		Role:        req.Role,
		Description: req.Description,
		DatePosted:  req.DatePosted,
	})
	if err != nil {
		h.logger.WithError(err).WithField("owner", p.ID).Error("save job")
		return c.String(http.StatusInternalServerError, "failed to save job")
	}
	return c.JSON(http.StatusCreated, saved)
}

func (h *handler) deleteSaved(c echo.Context) error {
	p, err := h.principal(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	if err := h.board.DeleteSavedJob(c.Request().Context(), p.ID, c.Param("id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.String(http.StatusNotFound, err.Error())
		}
		h.logger.WithError(err).WithField("owner", p.ID).Error("delete saved job")
		return c.String(http.StatusInternalServerError, "failed to delete saved job")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) createPosting(c echo.Context) error {
	p, err := h.principal(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	if !p.IsEmployer() {
		return c.String(http.StatusForbidden, "employer account required")
	}
	var req postingRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Company) == "" {
		return c.String(http.StatusBadRequest, "title and company are required")
	}
	post, err := h.postings.Create(c.Request().Context(), domain.Posting{
		CreatedBy:   p.ID,
		Title:       strings.TrimSpace(req.Title),
		Company:     strings.TrimSpace(req.Company),
		Type:        req.Type,
		Rate:        req.Rate,
		Deadline:    req.Deadline,
		Location:    req.Location,
		Description: req.Description,
		Email:       req.Email,
	})
	if err != nil {
		h.logger.WithError(err).WithField("owner", p.ID).Error("create posting")
		return c.String(http.StatusInternalServerError, "failed to create posting")
	}
	return c.JSON(http.StatusCreated, post)
}

func (h *handler) listPostings(c echo.Context) error {
	p, err := h.principal(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	ctx := c.Request().Context()
	var posts []domain.Posting
	if c.QueryParam("mine") == "true" {
		posts, err = h.postings.ListByCreator(ctx, p.ID)
	} else {
		posts, err = h.postings.Search(ctx, c.QueryParam("q"), c.QueryParam("loc"))
	}
	if err != nil {
		h.logger.WithError(err).Error("list postings")
		return c.String(http.StatusInternalServerError, "failed to list postings")
	}
	if posts == nil {
		posts = []domain.Posting{}
	}
	return c.JSON(http.StatusOK, posts)
}

func (h *handler) apply(c echo.Context) error {
	p, err := h.principal(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req applyRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	ctx := c.Request().Context()
	post, err := h.postings.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.String(http.StatusNotFound, "posting not found")
		}
		h.logger.WithError(err).Error("get posting")
		return c.String(http.StatusInternalServerError, "failed to load posting")
	}

	applicant, err := h.postings.Apply(ctx, h.applicantFor(ctx, p, post.ID, req))
	// A repeat apply still tracks the card, so a request whose board update
	// failed can be retried.
	alreadyApplied := errors.Is(err, storage.ErrAlreadyApplied)
	switch {
	case alreadyApplied:
	case errors.Is(err, storage.ErrNotFound):
		return c.String(http.StatusNotFound, "posting not found")
	case err != nil:
		h.logger.WithError(err).WithField("posting", post.ID).Error("apply")
		return c.String(http.StatusInternalServerError, "failed to apply")
	}

	job, err := h.board.TrackApplication(ctx, domain.SavedJob{
		OwnerID:     p.ID,
		Title:       post.Title,
		Company:     post.Company,
		Location:    post.Location,
		URL:         "/postings/" + post.ID,
		Role:        post.Type,
		Description: post.Description,
		DatePosted:  post.CreatedAt.UTC().Format("2006-01-02"),
	})
	if err != nil {
		h.logger.WithError(err).WithFields(log.Fields{"posting": post.ID, "owner": p.ID}).Error("track application")
		return c.String(http.StatusInternalServerError, "application recorded but board update failed")
	}
	if alreadyApplied {
		return c.String(http.StatusConflict, storage.ErrAlreadyApplied.Error())
	}
	return c.JSON(http.StatusCreated, applyResponse{Applicant: applicant, Job: job})
}

func (h *handler) applicants(c echo.Context) error {
	p, err := h.principal(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	ctx := c.Request().Context()
	post, err := h.postings.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.String(http.StatusNotFound, "posting not found")
		}
		h.logger.WithError(err).Error("get posting")
		return c.String(http.StatusInternalServerError, "failed to load posting")
	}
	if post.CreatedBy != p.ID {
		return c.String(http.StatusForbidden, "not the posting owner")
	}
	list, err := h.postings.Applicants(ctx, post.ID)
	if err != nil {
		h.logger.WithError(err).WithField("posting", post.ID).Error("list applicants")
		return c.String(http.StatusInternalServerError, "failed to list applicants")
	}
	if list == nil {
		list = []domain.Applicant{}
	}
	return c.JSON(http.StatusOK, list)
}
