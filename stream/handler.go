package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"study-mate/domain"
)

// Event names written on the stream.
const (
	EventBoard = "board"
	EventStats = "stats"
)

const defaultKeepAlive = 25 * time.Second

// Store loads the payloads sent to subscribers.
type Store interface {
	FetchBoard(ctx context.Context, userID string) (domain.Columns, error)
	FetchStats(ctx context.Context, userID string) (domain.Stats, error)
}

// Authenticator resolves the user from the Authorization header or the token
// query parameter.
type Authenticator interface {
	UserIDFromRequest(r *http.Request) (string, error)
}

// Handler serves the SSE endpoint.
type Handler struct {
	store     Store
	auth      Authenticator
	broker    *Broker
	log       *log.Logger
	keepAlive time.Duration
}

func NewHandler(store Store, auth Authenticator, broker *Broker, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Handler{store: store, auth: auth, broker: broker, log: logger, keepAlive: defaultKeepAlive}
}

// Register wires the stream endpoint on the given Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.GET("/stream", h.stream)
}

func (h *Handler) stream(c echo.Context) error {
	userID, err := h.auth.UserIDFromRequest(c.Request())
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	sub := h.broker.subscribe(userID)
	defer h.broker.unsubscribe(sub)
	logger := h.log.WithField("user", userID)
	logger.Debug("stream connected")

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	kinds := kindBoard | kindStats
	for {
		if err := h.send(ctx, c, userID, kinds); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.WithError(err).Warn("stream write failed")
			return nil
		}
		flusher.Flush()

		kinds = 0
		for kinds == 0 {
			select {
			case <-ctx.Done():
				logger.Debug("stream disconnected")
				return nil
			case <-keepAlive.C:
				if _, err := resp.Write([]byte(": keep-alive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-sub.wake:
				kinds = sub.take()
			}
		}
	}
}

// send writes the requested payloads. A failed read is logged and skipped so
// the connection survives transient storage errors.
func (h *Handler) send(ctx context.Context, c echo.Context, userID string, kinds uint32) error {
	if kinds&kindBoard != 0 {
		board, err := h.store.FetchBoard(ctx, userID)
		if err != nil {
			h.log.WithError(err).WithField("user", userID).Error("fetch board")
		} else if err := writeEvent(c.Response(), EventBoard, domain.NewBoardPayload(board)); err != nil {
			return err
		}
	}
	if kinds&kindStats != 0 {
		stats, err := h.store.FetchStats(ctx, userID)
		if err != nil {
			h.log.WithError(err).WithField("user", userID).Error("fetch stats")
		} else if err := writeEvent(c.Response(), EventStats, stats); err != nil {
			return err
		}
	}
	return nil
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := sonic.Marshal(v)
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
