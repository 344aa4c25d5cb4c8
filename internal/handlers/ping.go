package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// PingHandler answers liveness probes.
type PingHandler struct{}

// NewPingHandler creates the probe handler.
func NewPingHandler() *PingHandler {
	return &PingHandler{}
}

// Register registers the probe route.
func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}
