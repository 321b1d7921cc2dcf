package registry

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagaerr"
)

// registerRequest is the POST /register body from spec.md §6.
type registerRequest struct {
	Role         string   `json:"role"`
	Endpoint     string   `json:"endpoint"`
	Capabilities []string `json:"capabilities"`
}

// resolveResponse is GET /servers/resolve's body: the one endpoint
// Registry.Resolve picked for this call, per spec.md §4.1's round-robin
// policy.
type resolveResponse struct {
	Endpoint string `json:"endpoint"`
}

// NewServer wires the registry's HTTP surface with echo, matching the
// upstream cmd/api's echo-based server wiring convention.
func NewServer(r *Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.POST("/register", func(c echo.Context) error {
		var req registerRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if req.Role == "" || req.Endpoint == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "role and endpoint are required")
		}
		r.Register(req.Role, req.Endpoint, req.Capabilities)
		return c.NoContent(http.StatusNoContent)
	})

	e.GET("/servers", func(c echo.Context) error {
		role := c.QueryParam("role")
		return c.JSON(http.StatusOK, r.Snapshot(role))
	})

	// /servers/resolve applies Registry.Resolve's round-robin
	// policy server-side, so every caller shares one rotation cursor per
	// role instead of each picking the first healthy entry off a static
	// snapshot.
	e.GET("/servers/resolve", func(c echo.Context) error {
		role := c.QueryParam("role")
		if role == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "role is required")
		}
		endpoint, err := r.Resolve(role)
		if err != nil {
			if errors.Is(err, sagaerr.ErrNoLiveTool) {
				return echo.NewHTTPError(http.StatusNotFound, err.Error())
			}
			return err
		}
		return c.JSON(http.StatusOK, resolveResponse{Endpoint: endpoint})
	})

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	return e
}
