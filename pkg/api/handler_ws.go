package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades GET /ws/:job_id and delegates to the ConnectionManager,
// which blocks until the socket closes.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	s.connManager.HandleConnection(c.Request().Context(), conn, jobID)
	return nil
}
