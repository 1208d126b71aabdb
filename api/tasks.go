package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"study-mate/domain"
	"study-mate/validation"
)

func (h *Handler) getBoard(c echo.Context, userID string, m *requestMetrics) error {
	start := time.Now()
	board, err := h.store.FetchBoard(c.Request().Context(), userID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err)
	}
	payload := domain.NewBoardPayload(board)
	m.SetItems(payload.Totals.All)
	return h.respond(c, m, http.StatusOK, payload)
}

func (h *Handler) createTask(c echo.Context, userID string, m *requestMetrics) error {
	ctx := c.Request().Context()
	var in domain.TaskInput
	if err := decodeBody(c, &in); err != nil {
		return writeError(c, m, err)
	}
	in.Normalize()
	if err := validation.Struct(in); err != nil {
		return writeError(c, m, err)
	}

	key := idempotencyKey(c)
	fresh, err := h.claim(ctx, userID, "task", key)
	if err != nil {
		return writeError(c, m, err)
	}
	if !fresh {
		m.SetDuplicate()
		return writeError(c, m, errDuplicate)
	}

	start := time.Now()
	task, err := h.store.CreateTask(ctx, userID, in)
	m.ObserveStore(time.Since(start))
	if err != nil {
		h.release(userID, "task", key)
		return writeError(c, m, err)
	}
	h.publish(ctx, userID, domain.EntityBoard, task.ID)
	return h.respond(c, m, http.StatusCreated, task)
}

func (h *Handler) patchTask(c echo.Context, userID string, m *requestMetrics) error {
	ctx := c.Request().Context()
	var patch domain.TaskPatch
	if err := decodeBody(c, &patch); err != nil {
		return writeError(c, m, err)
	}
	patch.Normalize()
	if patch.Empty() {
		return writeError(c, m, errEmptyPatch)
	}
	if err := validation.Struct(patch); err != nil {
		return writeError(c, m, err)
	}

	start := time.Now()
	task, err := h.store.UpdateTask(ctx, userID, c.Param("id"), patch)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err)
	}
	h.publish(ctx, userID, domain.EntityBoard, task.ID)
	return h.respond(c, m, http.StatusOK, task)
}

// moveTask applies a move transactionally and returns the resulting board.
// A repeated idempotency key returns the current board without moving again.
func (h *Handler) moveTask(c echo.Context, userID string, m *requestMetrics) error {
	ctx := c.Request().Context()
	var req domain.MoveRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, m, err)
	}
	if err := validation.Struct(req); err != nil {
		return writeError(c, m, err)
	}
	taskID := c.Param("id")

	key := idempotencyKey(c)
	fresh, err := h.claim(ctx, userID, "move", key)
	if err != nil {
		return writeError(c, m, err)
	}

	start := time.Now()
	var board domain.Columns
	if fresh {
		board, err = h.store.MoveTask(ctx, userID, taskID, req.ToStatus, req.ToIndex)
	} else {
		m.SetDuplicate()
		board, err = h.store.FetchBoard(ctx, userID)
	}
	m.ObserveStore(time.Since(start))
	if err != nil {
		if fresh {
			h.release(userID, "move", key)
		}
		return writeError(c, m, err)
	}
	if fresh {
		h.publish(ctx, userID, domain.EntityBoard, taskID)
	}
	payload := domain.NewBoardPayload(board)
	m.SetItems(payload.Totals.All)
	return h.respond(c, m, http.StatusOK, payload)
}

func (h *Handler) deleteTask(c echo.Context, userID string, m *requestMetrics) error {
	ctx := c.Request().Context()
	taskID := c.Param("id")
	start := time.Now()
	err := h.store.DeleteTask(ctx, userID, taskID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, m, err)
	}
	h.publish(ctx, userID, domain.EntityBoard, taskID)
	return c.NoContent(http.StatusNoContent)
}
