package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/knowledgebase"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagaerr"
)

// KnowledgeBaseHandler exposes C6's ingestion and C7's ask, spec.md
// §4.6/§4.7, as synchronous HTTP endpoints alongside the saga surface.
type KnowledgeBaseHandler struct {
	Ingestor *knowledgebase.Ingestor
	Asker    *knowledgebase.Asker
}

func (h *KnowledgeBaseHandler) Register(g *echo.Group) {
	g.POST("/knowledge-base/documents", h.upload)
	g.POST("/knowledge-base/ask", h.ask)
}

type uploadResponse struct {
	ChunksIngested int `json:"chunks_ingested"`
}

// upload implements C6's {tenant_id, doc_bytes, filename} ingestion
// contract as a multipart file upload rather than a bus message; the
// saga worker-side consumer in cmd/kbworker handles the bus-originated
// path for documents delivered asynchronously.
func (h *KnowledgeBaseHandler) upload(c echo.Context) error {
	tenantID := c.Param("tenant_id")
	fileHeader, err := c.FormFile("document")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "document file required")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	n, err := h.Ingestor.Ingest(c.Request().Context(), tenantID, fileHeader.Filename, string(raw))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, uploadResponse{ChunksIngested: n})
}

type askRequest struct {
	Question string `json:"question"`
}

// ask implements C7, spec.md §4.7: synchronous embed + top-k + LLM
// synthesis, returning {answer, context[]}.
func (h *KnowledgeBaseHandler) ask(c echo.Context) error {
	tenantID := c.Param("tenant_id")
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}

	result, err := h.Asker.Ask(c.Request().Context(), tenantID, req.Question)
	if err != nil {
		var stageErr *sagaerr.StageError
		if errors.As(err, &stageErr) && errors.Is(stageErr.Reason, sagaerr.ErrNoContextAvailable) {
			return echo.NewHTTPError(http.StatusNotFound, stageErr.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, result)
}
