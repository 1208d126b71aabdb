package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"study-mate/domain"
	"study-mate/validation"
)

func (h *Handler) getSettings(c echo.Context, userID string, m *requestMetrics) error {
	start := time.Now()
	settings, err := h.store.FetchSettings(c.Request().Context(), userID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err)
	}
	return h.respond(c, m, http.StatusOK, settings)
}

func (h *Handler) putSettings(c echo.Context, userID string, m *requestMetrics) error {
	ctx := c.Request().Context()
	var in domain.Settings
	if err := decodeBody(c, &in); err != nil {
		return writeError(c, m, err)
	}
	if err := validation.Struct(in); err != nil {
		return writeError(c, m, err)
	}

	start := time.Now()
	saved, err := h.store.SaveSettings(ctx, userID, in)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err)
	}
	h.publish(ctx, userID, domain.EntitySettings, userID)
	return h.respond(c, m, http.StatusOK, saved)
}
