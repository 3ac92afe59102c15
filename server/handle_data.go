package server

import "github.com/labstack/echo/v4"

func (s *Server) handleData(e echo.Context) error {
	in, err := s.readAuditLog(e)
	if err != nil {
		return s.respondError(e, err)
	}

	data, err := s.passport.Data(in.ctx, in.did, in.log)
	if err != nil {
		return s.respondError(e, err)
	}

	return e.JSON(200, data)
}
