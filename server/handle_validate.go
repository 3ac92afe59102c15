package server

import (
	"github.com/haileyok/plcaudit/plc"
	"github.com/labstack/echo/v4"
)

type ValidateResponse struct {
	Did       string                 `json:"did"`
	Canonical []plc.IndexedOperation `json:"canonical"`
	Nullified []plc.IndexedOperation `json:"nullified"`
}

func (s *Server) handleValidate(e echo.Context) error {
	in, err := s.readAuditLog(e)
	if err != nil {
		return s.respondError(e, err)
	}

	res, err := s.passport.Validate(in.ctx, in.did, in.log)
	if err != nil {
		return s.respondError(e, err)
	}

	resp := ValidateResponse{
		Did:       in.did,
		Canonical: res.Canonical,
		Nullified: res.Nullified,
	}
	if resp.Nullified == nil {
		resp.Nullified = []plc.IndexedOperation{}
	}

	return e.JSON(200, resp)
}
