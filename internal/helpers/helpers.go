package helpers

import (
	"github.com/labstack/echo/v4"
)

func InputError(e echo.Context, custom *string) error {
	return InputErrorMessage(e, custom, "")
}

// InputErrorMessage is InputError with a human readable explanation attached.
func InputErrorMessage(e echo.Context, custom *string, message string) error {
	msg := "InvalidRequest"
	if custom != nil {
		msg = *custom
	}
	return genericError(e, 400, msg, message)
}

func ServerError(e echo.Context, suffix *string) error {
	msg := "Internal server error"
	if suffix != nil {
		msg += ". " + *suffix
	}
	return genericError(e, 500, msg, "")
}

func genericError(e echo.Context, code int, msg string, message string) error {
	body := map[string]string{
		"error": msg,
	}
	if message != "" {
		body["message"] = message
	}
	return e.JSON(code, body)
}
