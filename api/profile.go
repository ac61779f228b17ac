package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/jeajq/jobtracker/domain"
	"github.com/jeajq/jobtracker/storage"
)

type profileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// loadProfile returns the caller's profile, or an empty one when none was
// saved yet.
func (h *handler) loadProfile(ctx context.Context, p Principal) (domain.Profile, error) {
	prof, err := h.profiles.Profile(ctx, p.Role, p.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Profile{UserID: p.ID, Role: p.Role}, nil
	}
	return prof, err
}

func (h *handler) getProfile(c echo.Context) error {
	p, err := h.principal(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	prof, err := h.loadProfile(c.Request().Context(), p)
	if err != nil {
		h.logger.WithError(err).WithField("owner", p.ID).Error("load profile")
		return c.String(http.StatusInternalServerError, "failed to load profile")
	}
	return c.JSON(http.StatusOK, prof)
}

func (h *handler) putProfile(c echo.Context) error {
	p, err := h.principal(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req profileRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	prof := domain.Profile{
		UserID:    p.ID,
		Role:      p.Role,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.TrimSpace(req.Email),
		Phone:     strings.TrimSpace(req.Phone),
	}
	if prof.Email != "" && !strings.Contains(prof.Email, "@") {
		return c.String(http.StatusBadRequest, "invalid email")
	}
	if err := h.profiles.SaveProfile(c.Request().Context(), prof); err != nil {
		h.logger.WithError(err).WithField("owner", p.ID).Error("save profile")
		return c.String(http.StatusInternalServerError, "failed to save profile")
	}
	return c.JSON(http.StatusOK, prof)
}

// applicantFor builds the application of p, filling omitted contact fields
// from the saved profile.
func (h *handler) applicantFor(ctx context.Context, p Principal, postingID string, req applyRequest) domain.Applicant {
	a := domain.Applicant{
		PostingID: postingID,
		UserID:    p.ID,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.TrimSpace(req.Email),
	}
	if h.profiles == nil || (a.FirstName != "" && a.LastName != "" && a.Email != "") {
		return a
	}
	prof, err := h.loadProfile(ctx, p)
	if err != nil {
		h.logger.WithError(err).WithFields(log.Fields{"owner": p.ID, "posting": postingID}).Warn("profile unavailable for application")
		return a
	}
	if a.FirstName == "" {
		a.FirstName = prof.FirstName
	}
	if a.LastName == "" {
		a.LastName = prof.LastName
	}
	if a.Email == "" {
		a.Email = prof.Email
	}
	return a
}
