package server

import "github.com/labstack/echo/v4"

func (s *Server) handleRobots(e echo.Context) error {
	return e.String(200, "# Nothing to crawl here\nUser-agent: *\nDisallow: /")
}
