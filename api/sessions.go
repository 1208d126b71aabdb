package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"study-mate/domain"
	"study-mate/validation"
)

const (
	defaultSessionLimit = 10
	maxSessionLimit     = 100
)

// postSession puts a session record on the session queue. The record is
// applied by session-recorder, so the response is 202, sent only once the
// queue write has succeeded.
func (h *Handler) postSession(c echo.Context, userID string, m *requestMetrics) error {
	ctx := c.Request().Context()
	var rec domain.SessionRecord
	if err := decodeBody(c, &rec); err != nil {
		return writeError(c, m, err)
	}
	rec.Type = domain.SessionType(strings.TrimSpace(string(rec.Type)))
	if rec.Type == "" {
		rec.Type = domain.SessionStudy
	}
	if err := validation.Struct(rec); err != nil {
		return writeError(c, m, err)
	}

	key := idempotencyKey(c)
	if key == "" {
		key = uuid.NewString()
	}
	fresh, err := h.claim(ctx, userID, "session", key)
	if err != nil {
		return writeError(c, m, err)
	}
	if !fresh {
		m.SetDuplicate()
		return h.respond(c, m, http.StatusAccepted, sessionAccepted{ID: key})
	}

	dedupKey := ""
	if h.deduper != nil {
		dedupKey = "session:" + key
	}
	job := newSessionJob(domain.SessionCommand{
		ID:             key,
		IdempotencyKey: key,
		UserID:         userID,
		Record:         rec,
		Timestamp:      nextTimestamp(),
	}, dedupKey)

	start := time.Now()
	if h.sessions.tryEnqueue(job) {
		err = h.sessions.wait(ctx, job)
	} else {
		h.log.Warn("enqueue buffer saturated; processing inline")
		err = h.sessions.send(job)
	}
	m.ObserveStore(time.Since(start))
	if err != nil {
		m.SetErrorStage("enqueue")
		c.Logger().Errorf("enqueue failed: %v", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "failed to enqueue session"})
	}
	return h.respond(c, m, http.StatusAccepted, sessionAccepted{ID: key})
}

func (h *Handler) getSessions(c echo.Context, userID string, m *requestMetrics) error {
	limit := defaultSessionLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			m.SetErrorStage("invalid_limit")
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid limit"})
		}
		limit = min(n, maxSessionLimit)
	}

	start := time.Now()
	sessions, err := h.store.ListSessions(c.Request().Context(), userID, limit)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err)
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	m.SetItems(len(sessions))
	return h.respond(c, m, http.StatusOK, sessions)
}

func (h *Handler) getStats(c echo.Context, userID string, m *requestMetrics) error {
	start := time.Now()
	stats, err := h.store.FetchStats(c.Request().Context(), userID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err)
	}
	return h.respond(c, m, http.StatusOK, stats)
}
