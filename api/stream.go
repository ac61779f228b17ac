package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const streamKeepAlive = 25 * time.Second

type sessionEvent struct {
	SessionID string `json:"sessionId"`
}

// streamBoard opens a board session and streams its views as server-sent
// events until the client goes away.
func (h *handler) streamBoard(c echo.Context) error {
	token := c.QueryParam("token")
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" && token != "" {
		authHeader = "Bearer " + token
	}
	p, err := h.auth.PrincipalFromAuthHeader(authHeader)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	ctx := c.Request().Context()
	sess, err := h.sessions.Open(ctx, p.ID)
	if err != nil {
		h.logger.WithError(err).WithField("owner", p.ID).Error("open board session")
		return c.String(http.StatusInternalServerError, "failed to load board")
	}
	defer h.sessions.Close(sess.ID)

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	if err := writeEvent(c.Response(), "session", sessionEvent{SessionID: sess.ID}); err != nil {
		h.logger.WithError(err).WithField("session", sess.ID).Error("write session event")
		return nil
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-sess.Views():
			if err := writeEvent(c.Response(), "board", v); err != nil {
				h.logger.WithError(err).WithField("session", sess.ID).Debug("board stream write")
				return nil
			}
		case <-ticker.C:
			if _, err := c.Response().Write([]byte(": keep-alive\n\n")); err != nil {
				return nil
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, name string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(name)+len(data)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, name...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err = w.Write(buf)
	return err
}
