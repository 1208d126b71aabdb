// Package api exposes the board, session and settings endpoints of study-api.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"study-mate/config"
	"study-mate/domain"
)

const maxBodySize = 64 << 10

// Handler serves the API routes for one store.
type Handler struct {
	store    Store
	auth     Authenticator
	deduper  Deduper
	pub      Publisher
	log      *log.Logger
	sessions *sessionSender
	now      func() time.Time
}

// NewHandler creates the handler and starts the session write workers.
// deduper and pub may be nil.
func NewHandler(store Store, auth Authenticator, deduper Deduper, pub Publisher, cfg config.EnqueueConfig, logger *log.Logger) *Handler {
	if store == nil || auth == nil {
		panic("api.NewHandler: store and auth are required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Handler{
		store:    store,
		auth:     auth,
		deduper:  deduper,
		pub:      pub,
		log:      logger,
		sessions: newSessionSender(store, deduper, cfg, logger),
		now:      time.Now,
	}
}

// Close drains the session write workers.
func (h *Handler) Close() { h.sessions.Close() }

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.GET("/api/board", h.instrument("/api/board", h.getBoard))
	e.POST("/api/tasks", h.instrument("/api/tasks", h.createTask))
	e.PATCH("/api/tasks/:id", h.instrument("/api/tasks/:id", h.patchTask))
	e.DELETE("/api/tasks/:id", h.instrument("/api/tasks/:id", h.deleteTask))
	e.POST("/api/tasks/:id/move", h.instrument("/api/tasks/:id/move", h.moveTask))
	e.POST("/api/sessions", h.instrument("/api/sessions", h.postSession))
	e.GET("/api/sessions", h.instrument("/api/sessions", h.getSessions))
	e.GET("/api/stats", h.instrument("/api/stats", h.getStats))
	e.GET("/api/settings", h.instrument("/api/settings", h.getSettings))
	e.PUT("/api/settings", h.instrument("/api/settings", h.putSettings))
	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type routeHandler func(c echo.Context, userID string, m *requestMetrics) error

// instrument runs fn inside a request span after authenticating the caller.
func (h *Handler) instrument(route string, fn routeHandler) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx := newRequestMetrics(c.Request().Context(), h.log, route)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			m.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := h.auth.UserIDFromRequest(c.Request())
		m.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			return writeError(c, m, fmt.Errorf("%w: %v", errUnauthorized, authErr))
		}
		return fn(c, userID, m)
	}
}

func decodeBody(c echo.Context, out any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

func (h *Handler) respond(c echo.Context, m *requestMetrics, status int, body any) error {
	start := time.Now()
	err := c.JSON(status, body)
	m.ObserveEncode(time.Since(start))
	if err != nil {
		m.SetErrorStage("encode_response")
	}
	return err
}

// claim records the request's idempotency key under scope. It reports false
// when the key was already seen. Requests without a key are always new.
func (h *Handler) claim(ctx context.Context, userID, scope, key string) (bool, error) {
	if h.deduper == nil || key == "" {
		return true, nil
	}
	return h.deduper.Add(ctx, userID, scope+":"+key)
}

func (h *Handler) release(userID, scope, key string) {
	if h.deduper == nil || key == "" {
		return
	}
	if err := h.deduper.Remove(context.Background(), userID, scope+":"+key); err != nil {
		h.log.WithError(err).WithFields(log.Fields{"user": userID, "key": key}).Error("dedupe rollback failed")
	}
}

func idempotencyKey(c echo.Context) string {
	return strings.TrimSpace(c.Request().Header.Get(IdempotencyHeader))
}

// publish announces a committed change. Failures only delay subscribers
// until their next update, so they are logged and not returned.
func (h *Handler) publish(ctx context.Context, userID, entityType, entityID string) {
	if h.pub == nil {
		return
	}
	u := domain.Update{UserID: userID, EntityType: entityType, EntityID: entityID, Timestamp: h.now().UnixMilli()}
	if err := h.pub.Publish(ctx, u); err != nil {
		h.log.WithError(err).WithFields(log.Fields{"user": userID, "entity": entityType}).Warn("publish update failed")
	}
}
