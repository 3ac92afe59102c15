package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/haileyok/plcaudit/identity"
	"github.com/haileyok/plcaudit/internal/helpers"
	"github.com/haileyok/plcaudit/plc"
	"github.com/labstack/echo/v4"
)

type AuditLogRequest struct {
	Did   string `param:"did" validate:"required,did-plc"`
	Fresh bool   `query:"fresh"`
}

type auditLogInput struct {
	ctx context.Context
	did string
	log []plc.IndexedOperation
}

type requestError struct {
	code    string
	message string
}

func (re *requestError) Error() string {
	return re.code + ": " + re.message
}

// readAuditLog binds the path and query of e and parses its body as an audit
// log belonging to the did in the path.
func (s *Server) readAuditLog(e echo.Context) (*auditLogInput, error) {
	var req AuditLogRequest
	binder := &echo.DefaultBinder{}
	if err := binder.BindPathParams(e, &req); err != nil {
		return nil, &requestError{code: "InvalidRequest", message: err.Error()}
	}
	if err := binder.BindQueryParams(e, &req); err != nil {
		return nil, &requestError{code: "InvalidRequest", message: err.Error()}
	}

	if err := e.Validate(&req); err != nil {
		return nil, &requestError{code: "InvalidDid", message: "did must be a did:plc identifier"}
	}

	b, err := io.ReadAll(e.Request().Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	log, err := plc.ParseAuditLog(b)
	if err != nil {
		return nil, err
	}

	if log[0].Did != req.Did {
		return nil, &requestError{code: "DidMismatch", message: "audit log belongs to " + log[0].Did}
	}

	ctx := e.Request().Context()
	if req.Fresh {
		ctx = identity.WithSkipCache(ctx)
	}

	return &auditLogInput{
		ctx: ctx,
		did: req.Did,
		log: log,
	}, nil
}

// respondError maps a failure to a response. Untrustworthy history is the
// caller's problem and gets a 400 naming the failure kind.
func (s *Server) respondError(e echo.Context, err error) error {
	did := e.Param("did")

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return helpers.InputErrorMessage(e, to.StringPtr(reqErr.code), reqErr.message)
	}

	if kind := plc.KindOf(err); kind != "" {
		s.logger.Info("rejected audit log", "did", did, "kind", kind, "error", err)
		return helpers.InputErrorMessage(e, to.StringPtr(string(kind)), err.Error())
	}

	if errors.Is(err, identity.ErrTombstoned) {
		return helpers.InputErrorMessage(e, to.StringPtr("DidTombstoned"), err.Error())
	}

	s.logger.Error("error validating audit log", "did", did, "error", err)
	return helpers.ServerError(e, nil)
}
