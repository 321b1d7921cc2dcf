package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/queue/streams"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/saga"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagastore"
)

// QueriesHandler implements C5's submit/status contract, spec.md §4.5.
type QueriesHandler struct {
	Store                *sagastore.Store
	Publisher            *streams.Publisher
	SelfCorrectionBudget int
}

func (h *QueriesHandler) Register(g *echo.Group) {
	g.POST("/queries", h.submit)
	g.GET("/queries/:saga_id", h.status)
}

type submitRequest struct {
	Question string `json:"question"`
}

type submitResponse struct {
	SagaID string `json:"saga_id"`
}

// submit implements spec.md §4.5's submit(tenant_id, question) -> saga_id:
// create the record in pending, publish to q.initiated, return immediately.
func (h *QueriesHandler) submit(c echo.Context) error {
	tenantID := c.Param("tenant_id")
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id required")
	}
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}

	sagaID := uuid.NewString()
	record := saga.NewRecord(sagaID, tenantID, req.Question, h.SelfCorrectionBudget, time.Now())

	ctx := c.Request().Context()
	if err := h.Store.Create(ctx, record); err != nil {
		return err
	}

	initiated := map[string]interface{}{
		"saga_id":   sagaID,
		"tenant_id": tenantID,
		"question":  req.Question,
	}
	if _, err := h.Publisher.PublishRaw(ctx, streams.StreamQueryInitiated, "query.initiated", "v1", initiated); err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, submitResponse{SagaID: sagaID})
}

// status implements spec.md §4.5's status(saga_id) -> {status, result?};
// the result payload matches §3's full Saga Record.
func (h *QueriesHandler) status(c echo.Context) error {
	tenantID := c.Param("tenant_id")
	sagaID := c.Param("saga_id")

	record, err := h.Store.Get(c.Request().Context(), sagaID)
	if errors.Is(err, sagastore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "saga not found")
	}
	if err != nil {
		return err
	}
	if record.TenantID != tenantID {
		return echo.NewHTTPError(http.StatusNotFound, "saga not found")
	}

	return c.JSON(http.StatusOK, record)
}
