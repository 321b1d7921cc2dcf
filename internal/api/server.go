// Package api implements C5, the Query API Contract from spec.md §4.5,
// plus the HTTP-facing edges of C6/C7 (knowledge base ingestion and
// ask). Grounded on internal/server/server.go's echo bootstrap: the
// same middleware stack, error handler, and handler-struct-with-
// Register(group) convention, generalized from the teacher's
// user-accounts/topics domain to tenant-scoped saga submission.
package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/config"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/knowledgebase"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/queue/streams"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagastore"
)

// Deps bundles the collaborators the HTTP surface needs.
type Deps struct {
	Store     *sagastore.Store
	Publisher *streams.Publisher
	Ingestor  *knowledgebase.Ingestor
	Asker     *knowledgebase.Asker
	API       config.APIConfig
	Saga      config.SagaConfig
}

// New builds the echo instance and mounts every route group, mirroring
// Run's shape in internal/server/server.go (HideBanner, Recover, the
// unified JSON error handler, CORS, /healthz, /metrics) but returning
// the engine rather than starting it, so cmd/sagaapi controls the
// listen call.
func New(deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/tenants/:tenant_id")
	if len(deps.API.JWTSecret) > 0 {
		api.Use(withTenantAuth([]byte(deps.API.JWTSecret)))
	}

	qh := &QueriesHandler{Store: deps.Store, Publisher: deps.Publisher, SelfCorrectionBudget: deps.Saga.SelfCorrectionBudget}
	qh.Register(api)

	kh := &KnowledgeBaseHandler{Ingestor: deps.Ingestor, Asker: deps.Asker}
	kh.Register(api)

	return e
}
